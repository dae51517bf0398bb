package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/veritable-cli/internal/api"
	"github.com/KaramelBytes/veritable-cli/internal/rowio"
	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

var (
	uploadTable   string
	uploadDesc    string
	uploadCreate  bool
	uploadPerPage int
	uploadIDCol   string

	tablesLimit int
	listTable   string

	deletePerPage int

	nearAnalysis string
	nearLimit    int
	nearColumn   string
	nearMaxRows  int
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the account limits reported by the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAPI()
		if err != nil {
			return err
		}
		l, err := a.Limits(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		rows := []struct {
			k string
			v int
		}{
			{"predictions_max_count", l.PredictionsMaxCount},
			{"predictions_max_cols", l.PredictionsMaxCols},
			{"predictions_max_response_cells", l.PredictionsMaxResponseCells},
			{"max_string_length", l.MaxStringLength},
			{"schema_max_cols", l.SchemaMaxCols},
			{"max_row_batch_count", l.MaxRowBatchCount},
			{"max_categories", l.MaxCategories},
			{"table_max_rows", l.TableMaxRows},
			{"table_max_cols_per_row", l.TableMaxColsPerRow},
			{"table_max_running_analyses", l.TableMaxRunningAnalyses},
			{"max_paginated_item_count", l.MaxPaginatedItemCount},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\n", r.k, r.v)
		}
		return w.Flush()
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAPI()
		if err != nil {
			return err
		}
		type entry struct {
			ID          string `json:"_id"`
			Description string `json:"description"`
		}
		tables, err := api.All[entry](a.Tables(cmd.Context(), api.CursorOptions{Limit: tablesLimit}))
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tables found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDESCRIPTION")
		for _, t := range tables {
			fmt.Fprintf(w, "%s\t%s\n", t.ID, t.Description)
		}
		return w.Flush()
	},
}

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "List the analyses of a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listTable == "" {
			return fmt.Errorf("--table is required")
		}
		a, err := newAPI()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		t, err := a.Table(ctx, listTable)
		if err != nil {
			return err
		}
		type entry struct {
			ID    string `json:"_id"`
			State string `json:"state"`
		}
		analyses, err := api.All[entry](t.Analyses(ctx, api.CursorOptions{Limit: tablesLimit}))
		if err != nil {
			return err
		}
		if len(analyses) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No analyses found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE")
		for _, e := range analyses {
			fmt.Fprintf(w, "%s\t%s\n", e.ID, e.State)
		}
		return w.Flush()
	},
}

var deleteRowsCmd = &cobra.Command{
	Use:   "delete-rows <id...>",
	Short: "Delete rows from a table by _id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if listTable == "" {
			return fmt.Errorf("--table is required")
		}
		a, err := newAPI()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		t, err := a.Table(ctx, listTable)
		if err != nil {
			return err
		}
		rows := make([]schema.Row, len(args))
		for i, id := range args {
			rows[i] = schema.Row{schema.IDKey: id}
		}
		if err := t.BatchDeleteRows(ctx, rows, deletePerPage); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Deleted %d rows from %s\n", len(args), t.ID())
		return nil
	},
}

var relatedCmd = &cobra.Command{
	Use:   "related <column>",
	Short: "List the columns most related to a column of a finished analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		an, err := openAnalysis(ctx, listTable, nearAnalysis)
		if err != nil {
			return err
		}
		c, err := an.RelatedTo(ctx, args[0], api.CursorOptions{Limit: nearLimit})
		if err != nil {
			return err
		}
		related, err := api.All[api.Related](c)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COLUMN\tRELATEDNESS")
		for _, r := range related {
			fmt.Fprintf(w, "%s\t%.4f\n", r.Column, r.Relatedness)
		}
		return w.Flush()
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <row-id | row.json>",
	Short: "Find rows similar to a row with respect to a column",
	Long: `Similar searches a finished analysis for rows like the given one. The row is
either the _id of an uploaded row or a JSON file holding one row object.
Matches are written as JSON lines.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if nearColumn == "" {
			return fmt.Errorf("--column is required")
		}
		row := schema.Row{schema.IDKey: args[0]}
		if _, err := os.Stat(args[0]); err == nil {
			rows, err := rowio.ReadJSON(args[0])
			if err != nil {
				return err
			}
			if len(rows) != 1 {
				return fmt.Errorf("%s holds %d rows, want exactly one", args[0], len(rows))
			}
			row = rows[0]
		}
		ctx := cmd.Context()
		an, err := openAnalysis(ctx, listTable, nearAnalysis)
		if err != nil {
			return err
		}
		matches, err := an.SimilarTo(ctx, row, nearColumn, nearMaxRows)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, m := range matches {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	},
}

// openAnalysis fetches analysis id of table tableID.
func openAnalysis(ctx context.Context, tableID, id string) (*api.Analysis, error) {
	if tableID == "" || id == "" {
		return nil, fmt.Errorf("--table and --analysis are required")
	}
	a, err := newAPI()
	if err != nil {
		return nil, err
	}
	t, err := a.Table(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return t.Analysis(ctx, id)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <rows>",
	Short: "Validate rows and upload them to a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if uploadTable == "" {
			return fmt.Errorf("--table is required")
		}
		rows, err := rowio.Read(args[0], uploadIDCol)
		if err != nil {
			return err
		}
		a, err := newAPI()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		t, err := openTable(ctx, a, uploadTable, uploadCreate)
		if err != nil {
			return err
		}
		if err := t.BatchUploadRows(ctx, rows, uploadPerPage); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Uploaded %d rows to %s\n", len(rows), t.ID())
		return nil
	},
}

// openTable fetches a table, creating it when create is set and it is missing.
func openTable(ctx context.Context, a *api.API, id string, create bool) (*api.Table, error) {
	t, err := a.Table(ctx, id)
	if err == nil || !create || !verr.IsKind(err, verr.KindNotFound) {
		return t, err
	}
	return a.CreateTable(ctx, id, uploadDesc, false)
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(analysesCmd)
	rootCmd.AddCommand(deleteRowsCmd)
	analysesCmd.Flags().StringVarP(&listTable, "table", "t", "", "table id")
	analysesCmd.Flags().IntVar(&tablesLimit, "limit", 0, "maximum analyses to list (0 = all)")
	deleteRowsCmd.Flags().StringVarP(&listTable, "table", "t", "", "table id")
	deleteRowsCmd.Flags().IntVar(&deletePerPage, "per-page", api.DefaultPerPage, "row ids per delete request")

	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(similarCmd)
	for _, c := range []*cobra.Command{relatedCmd, similarCmd} {
		c.Flags().StringVarP(&listTable, "table", "t", "", "table id")
		c.Flags().StringVarP(&nearAnalysis, "analysis", "a", "", "analysis id")
	}
	relatedCmd.Flags().IntVar(&nearLimit, "limit", 0, "maximum columns to list (0 = all)")
	similarCmd.Flags().StringVarP(&nearColumn, "column", "c", "", "column to measure similarity by")
	similarCmd.Flags().IntVar(&nearMaxRows, "max-rows", 10, "maximum rows to return")
	tablesCmd.Flags().IntVar(&tablesLimit, "limit", 0, "maximum tables to list (0 = all)")
	uploadCmd.Flags().StringVarP(&uploadTable, "table", "t", "", "table id")
	uploadCmd.Flags().StringVar(&uploadDesc, "desc", "", "description for a newly created table")
	uploadCmd.Flags().BoolVar(&uploadCreate, "create", false, "create the table when it does not exist")
	uploadCmd.Flags().IntVar(&uploadPerPage, "per-page", api.DefaultPerPage, "rows per upload request")
	uploadCmd.Flags().StringVar(&uploadIDCol, "id-col", "", "CSV column to use as _id")
}
