package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/veritable-cli/internal/predict"
	"github.com/KaramelBytes/veritable-cli/internal/rowio"
	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
)

var (
	predTable    string
	predAnalysis string
	predCount    int
	predClean    bool
	predWait     bool
	predInterval float64
)

// predictionLine is one line of predict output.
type predictionLine struct {
	RequestID   string                `json:"_request_id,omitempty"`
	Expected    map[string]any        `json:"expected"`
	Uncertainty map[string]float64    `json:"uncertainty"`
	Intervals   map[string][2]float64 `json:"intervals,omitempty"`
}

var predictCmd = &cobra.Command{
	Use:   "predict <requests>",
	Short: "Run predictions for requests (JSON array, JSON lines, or CSV; '-' reads stdin)",
	Long: `Predict draws samples for the null fields of each request from a finished
analysis. Requests are batched so each call stays within the account limits.
With several requests each needs a _request_id; --clean assigns missing ones.
In CSV and xlsx requests an empty cell marks a field to predict.
Results are written as JSON lines in request order.`,
	Example: `  veritable predict -t mytable -a myanalysis --count 100 requests.json
  echo '{"x": null, "y": "a"}' | veritable predict -t mytable -a myanalysis -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count := predCount
		if !cmd.Flags().Changed("count") && cfg != nil && cfg.PredictCount > 0 {
			count = cfg.PredictCount
		}
		ctx := cmd.Context()
		an, err := openAnalysis(ctx, predTable, predAnalysis)
		if err != nil {
			return err
		}
		if predWait {
			if err := an.Wait(ctx, 2*time.Second); err != nil {
				return err
			}
		}

		var src predict.Requests
		if args[0] == "-" && !predClean {
			src = predict.FromJSON(cmd.InOrStdin())
		} else {
			// Cleaning assigns request ids across the whole input, so
			// stdin is buffered here rather than streamed.
			var rows []schema.Row
			if args[0] == "-" {
				rows, err = rowio.DecodeJSON(cmd.InOrStdin())
			} else {
				rows, err = rowio.ReadRequests(args[0])
			}
			if err != nil {
				return err
			}
			if predClean {
				s, err := an.Schema(ctx)
				if err != nil {
					return err
				}
				if err := validate.CleanPredictions(rows, s, validate.WithLogger(log)); err != nil {
					return err
				}
			}
			src = predict.FromSlice(rows)
		}

		c, err := an.BatchPredict(ctx, src, count)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		n := 0
		for c.Next() {
			if err := enc.Encode(line(c.Prediction())); err != nil {
				return err
			}
			n++
		}
		if err := c.Err(); err != nil {
			return err
		}
		log.Debugw("predictions done", "predictions", n, "calls", c.Calls())
		fmt.Fprintf(os.Stderr, "✓ %d predictions in %d calls\n", n, c.Calls())
		return nil
	},
}

func line(p *predict.Prediction) predictionLine {
	out := predictionLine{RequestID: p.RequestID, Expected: p.Expected, Uncertainty: p.Uncertainty}
	if predInterval <= 0 {
		return out
	}
	for col, v := range p.Request {
		if v != nil {
			continue
		}
		if lo, hi, ok := p.CredibleInterval(col, predInterval); ok {
			if out.Intervals == nil {
				out.Intervals = map[string][2]float64{}
			}
			out.Intervals[col] = [2]float64{lo, hi}
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().StringVarP(&predTable, "table", "t", "", "table id")
	predictCmd.Flags().StringVarP(&predAnalysis, "analysis", "a", "", "analysis id")
	predictCmd.Flags().IntVarP(&predCount, "count", "n", 100, "samples per request (defaults to predict_count from config)")
	predictCmd.Flags().BoolVar(&predClean, "clean", false, "clean requests against the analysis schema first")
	predictCmd.Flags().BoolVar(&predWait, "wait", false, "wait for a running analysis to finish")
	predictCmd.Flags().Float64Var(&predInterval, "interval", 0, "also report credible intervals of this mass for numeric columns")
}
