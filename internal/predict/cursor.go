package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// Poster issues one prediction call and returns the raw response body.
type Poster interface {
	Post(ctx context.Context, endpoint string, payload any) ([]byte, error)
}

// Limits are the service-side bounds on one prediction call. A zero field
// disables that bound.
type Limits struct {
	// MaxCells bounds (to-be-predicted fields × samples) summed over a call.
	MaxCells int `json:"predictions_max_response_cells"`
	// MaxCols bounds the fields of a single request.
	MaxCols int `json:"predictions_max_cols"`
	// MaxCount bounds the samples requested per call.
	MaxCount int `json:"predictions_max_count"`
}

// payload is the body of a prediction call.
type payload struct {
	Data        []schema.Row `json:"data"`
	Count       int          `json:"count"`
	ReturnFixed bool         `json:"return_fixed"`
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithLogger logs each remote call at debug level.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cursor) {
		if l != nil {
			c.log = l
		}
	}
}

// RequireRequestIDs makes every request carry a valid _request_id.
func RequireRequestIDs() Option {
	return func(c *Cursor) { c.requireIDs = true }
}

// Cursor lazily produces one Prediction per request, in request order. It
// reads the source at most once and issues calls only as results are pulled.
// A Cursor is not safe for concurrent use.
//
//	c := predict.RawPredict(ctx, conn, endpoint, s, src, 100, limits)
//	for c.Next() {
//		use(c.Prediction())
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor struct {
	ctx      context.Context
	poster   Poster
	endpoint string
	schema   schema.Schema
	src      Requests
	count    int
	limits   Limits

	requireIDs bool
	log        *zap.SugaredLogger

	pending []schema.Row
	cost    int
	ready   []*Prediction
	cur     *Prediction
	srcDone bool
	err     error
	calls   int
	pulled  int
}

// RawPredict returns a cursor over predictions for the requests in src,
// drawing count samples for each. Requests are grouped greedily into calls
// whose total cost (missing fields × count) stays within limits.MaxCells.
func RawPredict(ctx context.Context, poster Poster, endpoint string, s schema.Schema, src Requests, count int, limits Limits, opts ...Option) *Cursor {
	c := &Cursor{
		ctx:      ctx,
		poster:   poster,
		endpoint: endpoint,
		schema:   s,
		src:      src,
		count:    count,
		limits:   limits,
		log:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	if count <= 0 {
		c.err = verr.New("sample count must be positive, got %d", count)
	}
	return c
}

// Next advances to the next prediction. It returns false when the requests
// are exhausted or an error occurred; check Err afterwards.
func (c *Cursor) Next() bool {
	c.cur = nil
	for {
		if len(c.ready) > 0 {
			c.cur = c.ready[0]
			c.ready[0] = nil
			c.ready = c.ready[1:]
			return true
		}
		if c.err != nil {
			return false
		}
		if c.srcDone {
			if len(c.pending) == 0 {
				return false
			}
			c.flush()
			continue
		}
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
		req, err := c.src.Next(c.ctx)
		if errors.Is(err, io.EOF) {
			c.srcDone = true
			continue
		}
		if err != nil {
			c.err = fmt.Errorf("read request %d: %w", c.pulled, err)
			return false
		}
		c.pulled++
		missing, err := c.check(req)
		if err != nil {
			c.err = err
			return false
		}
		cost := missing * c.count
		if len(c.pending) > 0 && (c.alone() || c.cost+cost > c.maxCells()) {
			c.flush()
		}
		c.pending = append(c.pending, req)
		c.cost += cost
	}
}

// Prediction returns the prediction produced by the last call to Next.
func (c *Cursor) Prediction() *Prediction { return c.cur }

// Err returns the first error met by the cursor.
func (c *Cursor) Err() error { return c.err }

// Calls reports how many remote calls have been issued.
func (c *Cursor) Calls() int { return c.calls }

// Collect drains c.
func Collect(c *Cursor) ([]*Prediction, error) {
	var out []*Prediction
	for c.Next() {
		out = append(out, c.Prediction())
	}
	return out, c.Err()
}

func (c *Cursor) maxCells() int {
	if c.limits.MaxCells <= 0 {
		return math.MaxInt
	}
	return c.limits.MaxCells
}

// alone reports whether every request must be sent on its own, which is the
// case when one call cannot carry all samples of even a single request.
func (c *Cursor) alone() bool {
	return c.limits.MaxCount > 0 && c.count > c.limits.MaxCount
}

// check applies the per-request preconditions and returns the number of
// fields to predict.
func (c *Cursor) check(req schema.Row) (int, error) {
	id, _ := req[schema.RequestIDKey].(string)
	if req == nil {
		return 0, verr.New("request %d is empty", c.pulled-1)
	}
	if c.requireIDs {
		v, ok := req[schema.RequestIDKey]
		if !ok {
			e := verr.New("request %d is missing its %s field", c.pulled-1, schema.RequestIDKey)
			e.Col = schema.RequestIDKey
			return 0, e
		}
		if err := schema.CheckID(v); err != nil {
			e, _ := verr.As(err)
			e.Col = schema.RequestIDKey
			return 0, e
		}
	}
	fields, missing := 0, 0
	for k, v := range req {
		if k == schema.RequestIDKey {
			continue
		}
		fields++
		if v == nil {
			missing++
		}
	}
	if c.limits.MaxCols > 0 && fields > c.limits.MaxCols {
		return 0, verr.ForRequest(id, "request has %d fields; at most %d are allowed", fields, c.limits.MaxCols)
	}
	if cells := missing * c.count; cells > c.maxCells() {
		return 0, verr.ForRequest(id, "request needs %d cells (%d fields × %d samples); at most %d are allowed per call", cells, missing, c.count, c.limits.MaxCells)
	}
	return missing, nil
}

// flush executes the pending batch and queues its predictions.
func (c *Cursor) flush() {
	batch := c.pending
	c.pending, c.cost = nil, 0
	if len(batch) == 1 {
		samples, err := c.chunked(batch[0])
		if err != nil {
			c.err = err
			return
		}
		c.ready = append(c.ready, New(batch[0], samples, c.schema))
		return
	}
	rows, err := c.call(batch, c.count)
	if err != nil {
		c.err = err
		return
	}
	for i, req := range batch {
		c.ready = append(c.ready, New(req, rows[i*c.count:(i+1)*c.count:(i+1)*c.count], c.schema))
	}
}

// chunked collects count samples for one request, splitting the work over
// as many calls as the limits require.
func (c *Cursor) chunked(req schema.Row) ([]schema.Row, error) {
	missing := 0
	for k, v := range req {
		if k != schema.RequestIDKey && v == nil {
			missing++
		}
	}
	per := c.count
	if missing > 0 && c.maxCells()/missing < per {
		per = c.maxCells() / missing
	}
	if c.limits.MaxCount > 0 && c.limits.MaxCount < per {
		per = c.limits.MaxCount
	}
	out := make([]schema.Row, 0, c.count)
	for len(out) < c.count {
		n := per
		if rest := c.count - len(out); rest < n {
			n = rest
		}
		rows, err := c.call([]schema.Row{req}, n)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// call issues one prediction call and checks the shape of the response.
func (c *Cursor) call(batch []schema.Row, count int) ([]schema.Row, error) {
	c.calls++
	c.log.Debugw("prediction call", "endpoint", c.endpoint, "requests", len(batch), "count", count)
	body, err := c.poster.Post(c.ctx, c.endpoint, payload{Data: batch, Count: count, ReturnFixed: true})
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, verr.Wrap(verr.KindResponse, err, "prediction response is not a JSON array")
	}
	if want := len(batch) * count; len(raw) != want {
		return nil, &verr.Error{Kind: verr.KindProtocol, Msg: fmt.Sprintf("prediction response has %d rows; expected %d", len(raw), want)}
	}
	rows := make([]schema.Row, len(raw))
	for i, m := range raw {
		d := json.NewDecoder(bytes.NewReader(m))
		d.UseNumber()
		var row schema.Row
		if err := d.Decode(&row); err != nil || row == nil {
			return nil, &verr.Error{Kind: verr.KindProtocol, Msg: fmt.Sprintf("prediction response row %d is not an object", i), Err: err}
		}
		rows[i] = schema.Normalize(row)
	}
	return rows, nil
}
