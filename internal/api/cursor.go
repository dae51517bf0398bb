package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// DefaultPerPage is the page size used when a cursor is given none.
const DefaultPerPage = 100

// CursorOptions controls pagination of a collection.
type CursorOptions struct {
	Start   string
	PerPage int
	// Limit caps the number of items returned; zero means no cap.
	Limit int
}

// Cursor walks a paginated collection lazily, following links.next until
// the collection or the limit is exhausted.
type Cursor struct {
	ctx  context.Context
	conn *Connection
	next string
	key  string
	opts CursorOptions

	page    []json.RawMessage
	cur     json.RawMessage
	fetched bool
	seen    int
	err     error
}

// NewCursor returns a cursor over collection. The items are read from the
// document field named after the last path segment of collection, or from
// "data" when that field is absent.
func NewCursor(ctx context.Context, conn *Connection, collection string, opts CursorOptions) *Cursor {
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	parts := strings.Split(strings.TrimRight(collection, "/"), "/")
	return &Cursor{ctx: ctx, conn: conn, next: collection, key: parts[len(parts)-1], opts: opts}
}

// Next advances to the next item.
func (c *Cursor) Next() bool {
	c.cur = nil
	if c.err != nil {
		return false
	}
	if c.opts.Limit > 0 && c.seen >= c.opts.Limit {
		return false
	}
	for len(c.page) == 0 {
		if c.fetched && c.next == "" {
			return false
		}
		if err := c.fetch(); err != nil {
			c.err = err
			return false
		}
	}
	c.cur = c.page[0]
	c.page = c.page[1:]
	c.seen++
	return true
}

func (c *Cursor) fetch() error {
	var q url.Values
	if !c.fetched {
		q = url.Values{"per_page": {strconv.Itoa(c.opts.PerPage)}}
		if c.opts.Start != "" {
			q.Set("start", c.opts.Start)
		}
	}
	var doc map[string]json.RawMessage
	if err := c.conn.Get(c.ctx, c.next, q, &doc); err != nil {
		return err
	}
	c.fetched = true
	c.next = ""
	if raw, ok := doc["links"]; ok {
		var links map[string]string
		if err := json.Unmarshal(raw, &links); err == nil {
			c.next = links["next"]
		}
	}
	items, ok := doc[c.key]
	if !ok {
		items, ok = doc["data"]
	}
	if !ok {
		return &verr.Error{Kind: verr.KindProtocol, Msg: "collection page carries neither " + c.key + " nor data"}
	}
	var page []json.RawMessage
	if err := json.Unmarshal(items, &page); err != nil {
		return verr.Wrap(verr.KindResponse, err, "collection page is not a list")
	}
	c.page = page
	return nil
}

// Decode unmarshals the current item into v. Numbers decode as json.Number.
func (c *Cursor) Decode(v any) error {
	if c.cur == nil {
		return verr.New("cursor has no current item")
	}
	dec := json.NewDecoder(bytes.NewReader(c.cur))
	dec.UseNumber()
	return dec.Decode(v)
}

func (c *Cursor) Err() error { return c.err }

// All drains the cursor, decoding every item as T.
func All[T any](c *Cursor) ([]T, error) {
	var out []T
	for c.Next() {
		var v T
		if err := c.Decode(&v); err != nil {
			return out, verr.Wrap(verr.KindResponse, err, "decode item %d", len(out))
		}
		out = append(out, v)
	}
	return out, c.Err()
}
