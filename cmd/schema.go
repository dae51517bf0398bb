package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/veritable-cli/internal/rowio"
	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

var (
	schemaRules  []string
	schemaOutput string
	schemaIDCol  string
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Build and inspect schemas",
}

var schemaMakeCmd = &cobra.Command{
	Use:   "make <rows>",
	Short: "Derive a schema from the headers of a rows file using PATTERN=TYPE rules",
	Example: `  veritable schema make --rule 'Int.*=count' --rule '.*=categorical' data.csv
  veritable schema make -r 'Score=real' -o schema.yaml rows.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(schemaRules) == 0 {
			return fmt.Errorf("at least one --rule is required")
		}
		rules := make([]schema.Rule, 0, len(schemaRules))
		for _, r := range schemaRules {
			rule, err := schema.ParseRule(r)
			if err != nil {
				return err
			}
			rules = append(rules, rule)
		}
		rows, err := rowio.Read(args[0], schemaIDCol)
		if err != nil {
			return err
		}
		s, err := schema.MakeSchema(rules, schema.HeadersFromRows(rows))
		if err != nil {
			return err
		}
		if schemaOutput != "" {
			if err := s.Save(schemaOutput); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Wrote schema with %d columns -> %s\n", len(s), schemaOutput)
			return nil
		}
		b, err := yaml.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check <schema>",
	Short: "Validate a schema file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := schema.LoadFile(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ %d columns\n", len(s))
		for _, c := range s.Columns() {
			fmt.Fprintf(out, "  %s: %s\n", c, s[c].Type)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaMakeCmd)
	schemaCmd.AddCommand(schemaCheckCmd)
	schemaMakeCmd.Flags().StringArrayVarP(&schemaRules, "rule", "r", nil, "PATTERN=TYPE rule; the first matching rule wins")
	schemaMakeCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "write the schema here; default stdout")
	schemaMakeCmd.Flags().StringVar(&schemaIDCol, "id-col", "", "CSV column holding row ids")
}
