package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/veritable-cli/internal/analysis"
	"github.com/KaramelBytes/veritable-cli/internal/rowio"
	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/utils"
)

var (
	profileSchemaPath string
	profileIDCol      string
	profileTop        int
	profileSamples    int
	profileOutput     string
	profileOutDir     string
	profileInferOut   string
	profileQuiet      bool
	profileJobs       int
)

var profileCmd = &cobra.Command{
	Use:   "profile <rows...>",
	Short: "Summarize the columns of rows files and guess their types",
	Long: `Profile reports per-column counts, numeric statistics and the most
frequent categories as Markdown. Columns named by --schema are checked
against their declared type; the others get an inferred type, marked "?".
--infer-schema writes the resulting schema for review before cleaning.

Several files (or glob patterns) need --out-dir; each report is written
there as <name>.profile.md. Files are profiled concurrently (--jobs) and
reported in name order.`,
	Example: `  veritable profile data.csv
  veritable profile --infer-schema schema.yaml -o report.md data.xlsx
  veritable profile --out-dir reports 'exports/*.csv'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		if len(files) > 1 && profileOutDir == "" {
			return fmt.Errorf("%d input files need --out-dir", len(files))
		}
		if len(files) > 1 && (profileOutput != "" || profileInferOut != "") {
			return fmt.Errorf("--output and --infer-schema take a single input file")
		}
		var s schema.Schema
		if profileSchemaPath != "" {
			if s, err = schema.LoadFile(profileSchemaPath); err != nil {
				return err
			}
		}
		opt := analysis.DefaultOptions()
		if profileTop > 0 {
			opt.TopValues = profileTop
		}
		opt.SampleRows = profileSamples

		reports := make([]*analysis.Report, len(files))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(profileJobs, 1))
		for i, path := range files {
			i, path := i, path
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				rows, err := rowio.Read(path, profileIDCol)
				if err != nil {
					return err
				}
				o := opt
				o.Name = filepath.Base(path)
				reports[i] = analysis.Profile(rows, s, o)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		total := len(files)
		for i, rep := range reports {
			path := files[i]
			if total > 1 && !profileQuiet {
				fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", i+1, total, filepath.Base(path))
			}
			log.Debugw("profiled rows", "file", path, "rows", rep.Rows, "columns", len(rep.Cols), "warnings", len(rep.Warnings))

			if profileInferOut != "" {
				inferred := rep.Schema()
				if err := inferred.Save(profileInferOut); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "✓ Wrote schema with %d columns -> %s\n", len(inferred), profileInferOut)
			}
			out := profileOutput
			if profileOutDir != "" {
				out = reportPath(profileOutDir, path)
			}
			if out == "" {
				if _, err := fmt.Fprint(cmd.OutOrStdout(), rep.Markdown()); err != nil {
					return err
				}
				continue
			}
			if err := utils.SafeWriteFile(out, []byte(rep.Markdown())); err != nil {
				return err
			}
			if !profileQuiet {
				fmt.Fprintf(os.Stderr, "✓ Wrote report -> %s\n", out)
			}
		}
		return nil
	},
}

// expandInputs resolves glob patterns and literal paths, dropping duplicates.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

// reportPath picks dir/<name>.profile.md, adding a __N suffix rather than
// overwriting an existing report.
func reportPath(dir, input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(dir, base+".profile.md")
	for idx := 2; ; idx++ {
		if _, err := os.Stat(out); os.IsNotExist(err) {
			return out
		}
		out = filepath.Join(dir, fmt.Sprintf("%s__%d.profile.md", base, idx))
	}
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().StringVarP(&profileSchemaPath, "schema", "s", "", "schema with declared column types")
	profileCmd.Flags().StringVar(&profileIDCol, "id-col", "", "CSV column holding row ids")
	profileCmd.Flags().IntVar(&profileTop, "top", 5, "most frequent values listed per categorical column")
	profileCmd.Flags().IntVar(&profileSamples, "samples", 5, "example rows to include (0 disables)")
	profileCmd.Flags().StringVarP(&profileOutput, "output", "o", "", "write the report here; default stdout")
	profileCmd.Flags().StringVar(&profileOutDir, "out-dir", "", "write one report per input into this directory")
	profileCmd.Flags().StringVar(&profileInferOut, "infer-schema", "", "write the declared and inferred column types as a schema file")
	profileCmd.Flags().BoolVar(&profileQuiet, "quiet", false, "suppress progress output")
	profileCmd.Flags().IntVarP(&profileJobs, "jobs", "j", 4, "files read and profiled concurrently")
}
