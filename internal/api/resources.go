package api

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/veritable-cli/internal/predict"
	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// Analysis states reported by the service.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Links are the hypermedia links carried by resource documents.
type Links map[string]string

// Limits are the per-account limits reported by the service.
type Limits struct {
	PredictionsMaxCount         int `json:"predictions_max_count"`
	PredictionsMaxCols          int `json:"predictions_max_cols"`
	PredictionsMaxResponseCells int `json:"predictions_max_response_cells"`
	MaxStringLength             int `json:"max_string_length"`
	SchemaMaxCols               int `json:"schema_max_cols"`
	MaxRowBatchCount            int `json:"max_row_batch_count"`
	MaxCategories               int `json:"max_categories"`
	TableMaxRows                int `json:"table_max_rows"`
	TableMaxColsPerRow          int `json:"table_max_cols_per_row"`
	TableMaxRunningAnalyses     int `json:"table_max_running_analyses"`
	MaxPaginatedItemCount       int `json:"max_paginated_item_count"`
}

// Predict returns the subset of l that bounds prediction calls.
func (l Limits) Predict() predict.Limits {
	return predict.Limits{
		MaxCells: l.PredictionsMaxResponseCells,
		MaxCols:  l.PredictionsMaxCols,
		MaxCount: l.PredictionsMaxCount,
	}
}

// API is the entry point to the service.
type API struct {
	conn *Connection
	log  *zap.SugaredLogger
}

func New(conn *Connection) *API {
	return &API{conn: conn, log: conn.log}
}

func (a *API) Limits(ctx context.Context) (Limits, error) {
	var l Limits
	err := a.conn.Get(ctx, "user/limits", nil, &l)
	return l, err
}

// Tables lists the tables of the account.
func (a *API) Tables(ctx context.Context, opts CursorOptions) *Cursor {
	return NewCursor(ctx, a.conn, "tables", opts)
}

// Table fetches one table by id.
func (a *API) Table(ctx context.Context, id string) (*Table, error) {
	if err := schema.CheckID(id); err != nil {
		return nil, err
	}
	t := &Table{api: a}
	if err := a.conn.Get(ctx, "tables/"+url.PathEscape(id), nil, &t.doc); err != nil {
		return nil, err
	}
	return t, nil
}

// HasTable reports whether a table with id exists.
func (a *API) HasTable(ctx context.Context, id string) (bool, error) {
	_, err := a.Table(ctx, id)
	if verr.IsKind(err, verr.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

// CreateTable creates a table. An empty id is replaced by a generated one;
// with force an existing table of the same id is deleted first.
func (a *API) CreateTable(ctx context.Context, id, description string, force bool) (*Table, error) {
	if id == "" {
		id = schema.MakeTableID()
	}
	if err := schema.CheckID(id); err != nil {
		return nil, err
	}
	exists, err := a.HasTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		if !force {
			return nil, verr.New("table %s already exists; use force to replace it", id)
		}
		if err := a.DeleteTable(ctx, id); err != nil {
			return nil, err
		}
	}
	body, err := a.conn.Post(ctx, "tables", map[string]any{"_id": id, "description": description})
	if err != nil {
		return nil, err
	}
	t := &Table{api: a}
	if err := decode(body, &t.doc); err != nil {
		return nil, err
	}
	a.log.Infow("created table", "table", t.ID())
	return t, nil
}

func (a *API) DeleteTable(ctx context.Context, id string) error {
	return a.conn.Delete(ctx, "tables/"+url.PathEscape(id))
}

type tableDoc struct {
	ID          string `json:"_id"`
	Description string `json:"description"`
	Links       Links  `json:"links"`
}

// Table is a remote table of rows.
type Table struct {
	api *API
	doc tableDoc
}

func (t *Table) ID() string          { return t.doc.ID }
func (t *Table) Description() string { return t.doc.Description }

func (t *Table) link(name, fallback string) string {
	if l := t.doc.Links[name]; l != "" {
		return l
	}
	return "tables/" + url.PathEscape(t.doc.ID) + fallback
}

// UploadRow puts a single row.
func (t *Table) UploadRow(ctx context.Context, row schema.Row) error {
	if err := schema.CheckRow(row); err != nil {
		return err
	}
	id := row[schema.IDKey].(string)
	_, err := t.api.conn.Put(ctx, t.link("rows", "/rows")+"/"+url.PathEscape(id), row)
	return err
}

// BatchUploadRows validates rows and uploads them in pages of perPage.
func (t *Table) BatchUploadRows(ctx context.Context, rows []schema.Row, perPage int) error {
	if err := validate.ValidateData(rows, schema.Schema{}); err != nil {
		return err
	}
	return t.batch(ctx, "put", rows, perPage)
}

// BatchDeleteRows deletes the rows named by the _id of each element.
func (t *Table) BatchDeleteRows(ctx context.Context, rows []schema.Row, perPage int) error {
	ids := make([]schema.Row, len(rows))
	for i, r := range rows {
		if err := schema.CheckRow(r); err != nil {
			e, _ := verr.As(err)
			e.Row, e.HasRow = i, true
			return e
		}
		ids[i] = schema.Row{schema.IDKey: r[schema.IDKey]}
	}
	return t.batch(ctx, "delete", ids, perPage)
}

func (t *Table) batch(ctx context.Context, action string, rows []schema.Row, perPage int) error {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	for start := 0; start < len(rows); start += perPage {
		end := start + perPage
		if end > len(rows) {
			end = len(rows)
		}
		if _, err := t.api.conn.Post(ctx, t.link("rows", "/rows"), map[string]any{"action": action, "rows": rows[start:end]}); err != nil {
			return err
		}
		t.api.log.Debugw("row batch", "table", t.ID(), "action", action, "from", start, "to", end)
	}
	return nil
}

// Row fetches one row by id.
func (t *Table) Row(ctx context.Context, id string) (schema.Row, error) {
	var r schema.Row
	if err := t.api.conn.Get(ctx, t.link("rows", "/rows")+"/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return schema.Normalize(r), nil
}

func (t *Table) Rows(ctx context.Context, opts CursorOptions) *Cursor {
	return NewCursor(ctx, t.api.conn, t.link("rows", "/rows"), opts)
}

func (t *Table) DeleteRow(ctx context.Context, id string) error {
	return t.api.conn.Delete(ctx, t.link("rows", "/rows")+"/"+url.PathEscape(id))
}

// CreateAnalysis starts an analysis of the table under s.
func (t *Table) CreateAnalysis(ctx context.Context, s schema.Schema, id, description string, force bool) (*Analysis, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = schema.MakeAnalysisID()
	}
	if err := schema.CheckID(id); err != nil {
		return nil, err
	}
	_, err := t.Analysis(ctx, id)
	switch {
	case err == nil && !force:
		return nil, verr.New("analysis %s already exists; use force to replace it", id)
	case err == nil:
		if err := t.DeleteAnalysis(ctx, id); err != nil {
			return nil, err
		}
	case !verr.IsKind(err, verr.KindNotFound):
		return nil, err
	}
	body, err := t.api.conn.Post(ctx, t.link("analyses", "/analyses"), map[string]any{
		"_id":         id,
		"description": description,
		"type":        "veritable",
		"schema":      s,
	})
	if err != nil {
		return nil, err
	}
	a := &Analysis{api: t.api, table: t}
	if err := decode(body, &a.doc); err != nil {
		return nil, err
	}
	return a, nil
}

func (t *Table) Analysis(ctx context.Context, id string) (*Analysis, error) {
	a := &Analysis{api: t.api, table: t}
	if err := t.api.conn.Get(ctx, t.link("analyses", "/analyses")+"/"+url.PathEscape(id), nil, &a.doc); err != nil {
		return nil, err
	}
	return a, nil
}

func (t *Table) Analyses(ctx context.Context, opts CursorOptions) *Cursor {
	return NewCursor(ctx, t.api.conn, t.link("analyses", "/analyses"), opts)
}

func (t *Table) DeleteAnalysis(ctx context.Context, id string) error {
	return t.api.conn.Delete(ctx, t.link("analyses", "/analyses")+"/"+url.PathEscape(id))
}

type analysisDoc struct {
	ID          string `json:"_id"`
	Description string `json:"description"`
	State       string `json:"state"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Links Links `json:"links"`
}

// Analysis is a model fitted to a table.
type Analysis struct {
	api   *API
	table *Table
	doc   analysisDoc
}

func (a *Analysis) ID() string    { return a.doc.ID }
func (a *Analysis) State() string { return a.doc.State }

func (a *Analysis) link(name string) string {
	if l := a.doc.Links[name]; l != "" {
		return l
	}
	if name == "self" {
		return a.table.link("analyses", "/analyses") + "/" + url.PathEscape(a.doc.ID)
	}
	return a.link("self") + "/" + name
}

// Refresh reloads the analysis document.
func (a *Analysis) Refresh(ctx context.Context) error {
	var doc analysisDoc
	if err := a.api.conn.Get(ctx, a.link("self"), nil, &doc); err != nil {
		return err
	}
	if doc.Links == nil {
		doc.Links = a.doc.Links
	}
	a.doc = doc
	return nil
}

// failed returns the error of a failed analysis.
func (a *Analysis) failed() error {
	e := verr.New("analysis %s failed", a.doc.ID)
	if a.doc.Error != nil {
		e.Code = a.doc.Error.Code
		if a.doc.Error.Message != "" {
			e.Msg += ": " + a.doc.Error.Message
		}
	}
	return e
}

// Wait polls until the analysis leaves the running state.
func (a *Analysis) Wait(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	for a.doc.State == StateRunning {
		sleep(ctx, poll)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.Refresh(ctx); err != nil {
			return err
		}
		a.api.log.Debugw("analysis state", "analysis", a.doc.ID, "state", a.doc.State)
	}
	if a.doc.State == StateFailed {
		return a.failed()
	}
	return nil
}

func (a *Analysis) ready() error {
	switch a.doc.State {
	case StateSucceeded:
		return nil
	case StateFailed:
		return a.failed()
	}
	return verr.New("analysis %s is %s; wait for it to succeed", a.doc.ID, a.doc.State)
}

// Schema fetches the schema the analysis was created with.
func (a *Analysis) Schema(ctx context.Context) (schema.Schema, error) {
	var s schema.Schema
	if err := a.api.conn.Get(ctx, a.link("schema"), nil, &s); err != nil {
		return nil, err
	}
	return s, s.Validate()
}

func (a *Analysis) predictSetup(ctx context.Context) (schema.Schema, predict.Limits, error) {
	if err := a.ready(); err != nil {
		return nil, predict.Limits{}, err
	}
	s, err := a.Schema(ctx)
	if err != nil {
		return nil, predict.Limits{}, err
	}
	l, err := a.api.Limits(ctx)
	if err != nil {
		return nil, predict.Limits{}, err
	}
	return s, l.Predict(), nil
}

// Predict draws count samples for a single request.
func (a *Analysis) Predict(ctx context.Context, request schema.Row, count int) (*predict.Prediction, error) {
	s, limits, err := a.predictSetup(ctx)
	if err != nil {
		return nil, err
	}
	if err := validate.ValidatePredictions([]schema.Row{request}, s); err != nil {
		return nil, err
	}
	return predict.Predict(ctx, a.api.conn, a.link("predict"), s, request, count, limits, predict.WithLogger(a.api.log))
}

// BatchPredict returns a cursor over predictions for src. Each request is
// validated as it is pulled.
func (a *Analysis) BatchPredict(ctx context.Context, src predict.Requests, count int) (*predict.Cursor, error) {
	s, limits, err := a.predictSetup(ctx)
	if err != nil {
		return nil, err
	}
	checked := predict.FuncSource(func(ctx context.Context) (schema.Row, error) {
		r, err := src.Next(ctx)
		if err != nil {
			return nil, err
		}
		if err := validate.ValidatePredictions([]schema.Row{r}, s); err != nil {
			return nil, err
		}
		return r, nil
	})
	return predict.BatchPredict(ctx, a.api.conn, a.link("predict"), s, checked, count, limits, predict.WithLogger(a.api.log)), nil
}

// Related is one entry of a relatedness listing.
type Related struct {
	Column      string  `json:"name"`
	Relatedness float64 `json:"relatedness"`
}

// RelatedTo lists the columns most related to col, which must be in the
// analysis schema.
func (a *Analysis) RelatedTo(ctx context.Context, col string, opts CursorOptions) (*Cursor, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	s, err := a.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := s.TypeOf(col); !ok {
		return nil, verr.AtCol(col, "column %s is not in the schema of analysis %s", col, a.doc.ID)
	}
	return NewCursor(ctx, a.api.conn, a.link("related")+"/"+url.PathEscape(col), opts), nil
}

// Similar is one entry of a similarity search.
type Similar struct {
	Row         schema.Row `json:"row"`
	Relatedness float64    `json:"relatedness"`
}

// SimilarTo finds up to maxRows rows similar to row with respect to col.
func (a *Analysis) SimilarTo(ctx context.Context, row schema.Row, col string, maxRows int) ([]Similar, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = 10
	}
	body, err := a.api.conn.Post(ctx, a.link("similar"), map[string]any{
		"data":        row,
		"column":      col,
		"max_rows":    maxRows,
		"return_data": true,
	})
	if err != nil {
		return nil, err
	}
	var doc struct {
		Data []Similar `json:"data"`
	}
	if err := decode(body, &doc); err != nil {
		return nil, err
	}
	for i := range doc.Data {
		doc.Data[i].Row = schema.Normalize(doc.Data[i].Row)
	}
	return doc.Data, nil
}
