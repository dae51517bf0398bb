package cmd

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/veritable-cli/internal/rowio"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
)

var (
	splitFrac    float64
	splitOutputs []string
	splitShuffle bool
	splitSeed    int64
	splitByHash  bool
)

var splitCmd = &cobra.Command{
	Use:   "split <rows>",
	Short: "Split rows into two files, e.g. training and test sets",
	Example: `  veritable split rows.json --frac 0.3 -o test.json -o train.json`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(splitOutputs) != 2 {
			return fmt.Errorf("exactly two -o outputs are required, got %d", len(splitOutputs))
		}
		if splitFrac < 0 || splitFrac > 1 {
			return fmt.Errorf("--frac must be within [0,1], got %v", splitFrac)
		}
		rows, err := rowio.Read(args[0], "")
		if err != nil {
			return err
		}
		if splitShuffle && splitByHash {
			return fmt.Errorf("--shuffle and --by-hash are exclusive")
		}
		if splitShuffle {
			r := rand.New(rand.NewSource(splitSeed))
			r.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		}
		split := validate.SplitRows
		if splitByHash {
			split = validate.SplitRowsByHash
		}
		first, rest := split(rows, splitFrac)
		if err := rowio.Write(first, splitOutputs[0]); err != nil {
			return err
		}
		if err := rowio.Write(rest, splitOutputs[1]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Split %d rows: %d -> %s, %d -> %s\n", len(rows), len(first), splitOutputs[0], len(rest), splitOutputs[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().Float64Var(&splitFrac, "frac", 0.5, "fraction of rows in the first output")
	splitCmd.Flags().StringArrayVarP(&splitOutputs, "output", "o", nil, "output file; give twice")
	splitCmd.Flags().BoolVar(&splitShuffle, "shuffle", false, "shuffle rows before splitting")
	splitCmd.Flags().Int64Var(&splitSeed, "seed", 1, "shuffle seed")
	splitCmd.Flags().BoolVar(&splitByHash, "by-hash", false, "assign rows by a hash of their _id, stable as rows are added")
}
