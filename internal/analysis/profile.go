package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
)

// Options controls profiling.
type Options struct {
	// Name labels the report, usually the input file.
	Name string
	// TopValues bounds the most frequent values listed per categorical column.
	TopValues int
	// SampleRows determines how many example rows to include in the report.
	SampleRows int
}

// DefaultOptions returns reasonable defaults for profiling.
func DefaultOptions() Options {
	return Options{TopValues: 5, SampleRows: 5}
}

// Report summarizes a set of rows column by column.
type Report struct {
	Name     string
	Rows     int
	Cols     []ColumnSummary
	Samples  []schema.Row
	Warnings []string
}

// ColumnSummary captures the type and statistics of one column.
type ColumnSummary struct {
	Name string
	// Kind is the declared type when a schema names the column, otherwise the
	// inferred one. Empty when the column has no values to infer from.
	Kind     schema.DataType
	Declared bool
	NonNull  int
	Missing  int
	Unique   int
	// Invalid counts present values that do not convert to Kind.
	Invalid int
	// Numeric stats, over the valid values of count and real columns.
	Min  float64
	Max  float64
	Mean float64
	Std  float64
	// TopValues for categorical and boolean columns, most frequent first.
	TopValues []validate.CategoryCount
}

// Profile summarizes rows. Columns named by s are checked against their
// declared type; the rest get an inferred type. The reserved _id and
// _request_id columns are not profiled.
func Profile(rows []schema.Row, s schema.Schema, opt Options) *Report {
	if opt.TopValues <= 0 {
		opt.TopValues = DefaultOptions().TopValues
	}
	r := &Report{Name: opt.Name, Rows: len(rows)}
	for _, col := range columns(rows, s) {
		values := make([]any, 0, len(rows))
		for _, row := range rows {
			if v := row[col]; v != nil {
				values = append(values, v)
			}
		}
		c := ColumnSummary{Name: col, NonNull: len(values), Missing: len(rows) - len(values)}
		if typ, ok := s.TypeOf(col); ok {
			c.Kind, c.Declared = typ, true
		} else {
			c.Kind = InferType(values)
		}
		summarize(&c, values, opt.TopValues)
		r.Cols = append(r.Cols, c)
		r.Warnings = append(r.Warnings, c.warnings()...)
	}
	n := opt.SampleRows
	if n > len(rows) {
		n = len(rows)
	}
	if n > 0 {
		r.Samples = rows[:n]
	}
	return r
}

// columns lists the schema columns and every column seen in rows, sorted.
func columns(rows []schema.Row, s schema.Schema) []string {
	seen := map[string]bool{}
	var out []string
	add := func(col string) {
		if seen[col] || col == schema.IDKey || col == schema.RequestIDKey {
			return
		}
		seen[col] = true
		out = append(out, col)
	}
	for _, col := range s.Columns() {
		add(col)
	}
	for _, col := range schema.HeadersFromRows(rows) {
		add(col)
	}
	sort.Strings(out)
	return out
}

// InferType guesses the narrowest type every value converts to: count, then
// real, then boolean, falling back to categorical. Counts must not be
// negative. It returns "" for an empty column.
func InferType(values []any) schema.DataType {
	if len(values) == 0 {
		return ""
	}
	for _, typ := range []schema.DataType{schema.Count, schema.Real, schema.Boolean} {
		if all(values, typ) {
			return typ
		}
	}
	return schema.Categorical
}

func all(values []any, typ schema.DataType) bool {
	for _, v := range values {
		x, ok := validate.Coerce(typ, v)
		if !ok {
			return false
		}
		if n, isInt := x.(int); isInt && n < 0 {
			return false
		}
	}
	return true
}

func summarize(c *ColumnSummary, values []any, top int) {
	if c.Kind == "" {
		return
	}
	distinct := map[string]int{}
	var order []string
	var n int
	var mean, m2 float64
	for _, v := range values {
		x, ok := validate.Coerce(c.Kind, v)
		if !ok {
			c.Invalid++
			continue
		}
		key := fmt.Sprint(x)
		if _, seen := distinct[key]; !seen {
			order = append(order, key)
		}
		distinct[key]++

		var f float64
		switch t := x.(type) {
		case int:
			f = float64(t)
		case float64:
			f = t
		default:
			continue
		}
		// Welford's online update
		n++
		if n == 1 {
			c.Min, c.Max = f, f
		}
		c.Min = math.Min(c.Min, f)
		c.Max = math.Max(c.Max, f)
		d := f - mean
		mean += d / float64(n)
		m2 += d * (f - mean)
	}
	c.Unique = len(distinct)
	c.Mean = mean
	if n > 1 {
		c.Std = math.Sqrt(m2 / float64(n-1))
	}
	if c.Kind != schema.Categorical && c.Kind != schema.Boolean {
		return
	}
	// order is first-seen, so the stable sort breaks ties by first occurrence.
	sort.SliceStable(order, func(i, j int) bool { return distinct[order[i]] > distinct[order[j]] })
	if len(order) > top {
		order = order[:top]
	}
	for _, v := range order {
		c.TopValues = append(c.TopValues, validate.CategoryCount{Value: v, Count: distinct[v]})
	}
}

func (c ColumnSummary) warnings() []string {
	var out []string
	if c.Kind == "" {
		out = append(out, fmt.Sprintf("%s has no values; its type cannot be inferred", safeName(c.Name)))
	}
	if c.Invalid > 0 {
		out = append(out, fmt.Sprintf("%s has %d value(s) that are not %s", safeName(c.Name), c.Invalid, c.Kind))
	}
	if c.Kind == schema.Categorical && c.Unique > schema.MaxCategories {
		out = append(out, fmt.Sprintf("%s has %d categories; cleaning will fold the rarest into %q", safeName(c.Name), c.Unique, validate.OtherCategory))
	}
	return out
}

// Schema returns the declared or inferred type of every profiled column
// that has one.
func (r *Report) Schema() schema.Schema {
	out := schema.Schema{}
	for _, c := range r.Cols {
		if c.Kind != "" {
			out[c.Name] = schema.Column{Type: c.Kind}
		}
	}
	return out
}

// Markdown renders a compact report.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if r.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", r.Name))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(r.Cols)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range r.Cols {
		missPct := 0.0
		if total := c.NonNull + c.Missing; total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		kind := string(c.Kind)
		switch {
		case kind == "":
			kind = "unknown"
		case !c.Declared:
			kind += "?"
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), kind, c.NonNull, missPct))
		switch c.Kind {
		case schema.Count, schema.Real:
			if c.NonNull > c.Invalid {
				b.WriteString(fmt.Sprintf("; min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std))
			}
		case schema.Categorical, schema.Boolean:
			if len(c.TopValues) > 0 {
				b.WriteString("; top: ")
				for i, kv := range c.TopValues {
					if i > 0 {
						b.WriteString(", ")
					}
					b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
				}
				if c.Unique > len(c.TopValues) {
					b.WriteString(fmt.Sprintf("; unique=%d", c.Unique))
				}
			}
		}
		b.WriteString("\n")
	}
	if len(r.Samples) > 0 {
		b.WriteString("\n[HEAD AND SAMPLE ROWS]\n")
		cols := []string{schema.IDKey}
		header := []string{schema.IDKey}
		for _, c := range r.Cols {
			cols = append(cols, c.Name)
			header = append(header, safeName(c.Name))
		}
		b.WriteString("| " + strings.Join(header, " | ") + " |\n")
		b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
		for _, row := range r.Samples {
			b.WriteString("| ")
			for i, col := range cols {
				if i > 0 {
					b.WriteString(" | ")
				}
				val := ""
				if v := row[col]; v != nil {
					val = fmt.Sprint(v)
				}
				if len(val) > 80 {
					val = val[:77] + "..."
				}
				b.WriteString(safeVal(val))
			}
			b.WriteString(" |\n")
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
