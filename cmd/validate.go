package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/veritable-cli/internal/rowio"
	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/utils"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
)

var (
	rowsSchemaPath  string
	rowsIDCol       string
	rowsPredictions bool

	cleanOutput        string
	cleanNoConvert     bool
	cleanKeepInvalid   bool
	cleanKeepNones     bool
	cleanNoReduce      bool
	cleanAssignIDs     bool
	cleanRemoveExtra   bool
	cleanMaxCategories int
)

// loadRows reads the rows file and the schema named by --schema.
func loadRows(path string) ([]schema.Row, schema.Schema, error) {
	if rowsSchemaPath == "" {
		return nil, nil, fmt.Errorf("--schema is required")
	}
	s, err := schema.LoadFile(rowsSchemaPath)
	if err != nil {
		return nil, nil, err
	}
	read := func(path string) ([]schema.Row, error) { return rowio.Read(path, rowsIDCol) }
	if rowsPredictions {
		read = rowio.ReadRequests
	}
	rows, err := read(path)
	if err != nil {
		return nil, nil, err
	}
	return rows, s, nil
}

var validateCmd = &cobra.Command{
	Use:   "validate <rows>",
	Short: "Check rows (or prediction requests) against a schema without changing them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, s, err := loadRows(args[0])
		if err != nil {
			return err
		}
		opt := validate.DataValidation()
		kind := "rows"
		if rowsPredictions {
			opt = validate.PredictionValidation()
			kind = "prediction requests"
		}
		opt.Logger = log
		if err := validate.Run(rows, s, opt); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %d %s valid against %d columns\n", len(rows), kind, len(s))
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean <rows>",
	Short: "Coerce and prune rows (or prediction requests) to fit a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, s, err := loadRows(args[0])
		if err != nil {
			return err
		}
		opt := validate.DataCleaning()
		if rowsPredictions {
			opt = validate.PredictionCleaning()
		}
		opt.Logger = log
		if cfg != nil && cfg.MaxCategories > 0 {
			opt.MaxCategories = cfg.MaxCategories
		}
		f := cmd.Flags()
		if f.Changed("max-categories") {
			opt.MaxCategories = cleanMaxCategories
		}
		if cleanNoConvert {
			opt.ConvertTypes = false
		}
		if cleanKeepInvalid {
			opt.RemoveInvalids = false
		}
		if cleanKeepNones {
			opt.RemoveNones = false
			opt.AllowNones = true
		}
		if cleanNoReduce {
			opt.ReduceCategories = false
		}
		if cleanAssignIDs {
			opt.AssignIDs = true
		}
		if cleanRemoveExtra {
			opt.AllowExtraFields = false
			opt.RemoveExtraFields = true
		}
		if err := validate.Run(rows, s, opt); err != nil {
			return err
		}
		if cleanOutput == "" {
			b, err := utils.PrettyJSON(rows)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		}
		if err := rowio.Write(rows, cleanOutput); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Cleaned %d rows -> %s\n", len(rows), cleanOutput)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{validateCmd, cleanCmd} {
		c.Flags().StringVarP(&rowsSchemaPath, "schema", "s", "", "schema file (YAML or JSON)")
		c.Flags().StringVar(&rowsIDCol, "id-col", "", "CSV column to use as _id")
		c.Flags().BoolVar(&rowsPredictions, "predictions", false, "treat input as prediction requests")
		rootCmd.AddCommand(c)
	}
	cleanCmd.Flags().StringVarP(&cleanOutput, "output", "o", "", "write cleaned rows here (.json or .csv); default stdout")
	cleanCmd.Flags().BoolVar(&cleanNoConvert, "no-convert", false, "do not coerce values to their column type")
	cleanCmd.Flags().BoolVar(&cleanKeepInvalid, "keep-invalid", false, "fail on invalid values instead of removing them")
	cleanCmd.Flags().BoolVar(&cleanKeepNones, "keep-nulls", false, "keep null fields")
	cleanCmd.Flags().BoolVar(&cleanNoReduce, "no-reduce", false, "fail on too many categories instead of reducing them")
	cleanCmd.Flags().BoolVar(&cleanAssignIDs, "assign-ids", false, "replace ids with the row index")
	cleanCmd.Flags().BoolVar(&cleanRemoveExtra, "remove-extra", false, "drop fields not in the schema")
	cleanCmd.Flags().IntVar(&cleanMaxCategories, "max-categories", schema.MaxCategories, "categories kept per column before reduction")
}
