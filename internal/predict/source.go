package predict

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

// Requests is a single-pass source of prediction requests. Next returns
// io.EOF once the source is exhausted.
type Requests interface {
	Next(ctx context.Context) (schema.Row, error)
}

type sliceSource struct {
	rows []schema.Row
	pos  int
}

// FromSlice serves rows in order.
func FromSlice(rows []schema.Row) Requests {
	return &sliceSource{rows: rows}
}

func (s *sliceSource) Next(ctx context.Context) (schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.pos]
	s.pos++
	return r, nil
}

// FuncSource adapts a function to Requests.
type FuncSource func(ctx context.Context) (schema.Row, error)

func (f FuncSource) Next(ctx context.Context) (schema.Row, error) { return f(ctx) }

type jsonSource struct {
	br      *bufio.Reader
	dec     *json.Decoder
	started bool
	array   bool
	n       int
}

// FromJSON streams requests from r, which holds either a JSON array of
// objects or one object per line. Nothing is read until the first Next.
func FromJSON(r io.Reader) Requests {
	return &jsonSource{br: bufio.NewReader(r)}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func (s *jsonSource) Next(ctx context.Context) (schema.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.started {
		s.started = true
		b, err := peekNonSpace(s.br)
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read requests: %w", err)
		}
		s.dec = json.NewDecoder(s.br)
		s.dec.UseNumber()
		if b == '[' {
			s.array = true
			if _, err := s.dec.Token(); err != nil {
				return nil, fmt.Errorf("read requests: %w", err)
			}
		}
	}
	if s.dec == nil {
		return nil, io.EOF
	}
	if s.array {
		if !s.dec.More() {
			return nil, io.EOF
		}
	}
	var row schema.Row
	if err := s.dec.Decode(&row); err != nil {
		if errors.Is(err, io.EOF) && !s.array {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode request %d: %w", s.n, err)
	}
	s.n++
	if row == nil {
		return nil, fmt.Errorf("decode request %d: not an object", s.n-1)
	}
	return schema.Normalize(row), nil
}
