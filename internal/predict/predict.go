package predict

import (
	"context"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// Predict runs a single request and returns its prediction.
func Predict(ctx context.Context, poster Poster, endpoint string, s schema.Schema, request schema.Row, count int, limits Limits, opts ...Option) (*Prediction, error) {
	c := RawPredict(ctx, poster, endpoint, s, FromSlice([]schema.Row{request}), count, limits, opts...)
	if !c.Next() {
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, verr.New("no prediction returned")
	}
	return c.Prediction(), nil
}

// BatchPredict returns a cursor over predictions for src. Every request must
// carry a _request_id.
func BatchPredict(ctx context.Context, poster Poster, endpoint string, s schema.Schema, src Requests, count int, limits Limits, opts ...Option) *Cursor {
	opts = append(opts, RequireRequestIDs())
	return RawPredict(ctx, poster, endpoint, s, src, count, limits, opts...)
}
