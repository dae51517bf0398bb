// Package schema holds the row and schema primitives shared by the validator
// and the prediction cursor: datatypes, identifier rules and reserved keys.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// DataType is the declared type of a schema column.
type DataType string

const (
	Real        DataType = "real"
	Count       DataType = "count"
	Categorical DataType = "categorical"
	Boolean     DataType = "boolean"
)

const (
	// IDKey holds the unique row identifier in data rows.
	IDKey = "_id"
	// RequestIDKey correlates prediction requests with their results.
	RequestIDKey = "_request_id"
	// MaxCategories is the number of distinct values a categorical column may
	// carry before it must be reduced.
	MaxCategories = 256
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][-_A-Za-z0-9]*$`)

// Column describes one schema column.
type Column struct {
	Type DataType `json:"type" yaml:"type"`
}

// Schema maps column names to their descriptors.
type Schema map[string]Column

// Row is a data row or prediction request. A nil value marks a missing field
// (in prediction requests, a field to be predicted).
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CheckID returns an error unless v is a string matching the identifier grammar.
func CheckID(v any) error {
	s, ok := v.(string)
	if !ok {
		return verr.New("invalid id %v: ids must be strings", render(v))
	}
	if !idPattern.MatchString(s) {
		return verr.New("invalid id %q: ids must start with a letter or digit and contain only letters, digits, dashes and underscores", s)
	}
	return nil
}

// CheckRow returns an error unless v is a row carrying a valid _id.
func CheckRow(v any) error {
	var r map[string]any
	switch t := v.(type) {
	case Row:
		r = t
	case map[string]any:
		r = t
	default:
		return verr.New("invalid row %v: rows must be mappings", render(v))
	}
	id, ok := r[IDKey]
	if !ok {
		return verr.AtCol(IDKey, "row is missing its %s field", IDKey)
	}
	if err := CheckID(id); err != nil {
		e, _ := verr.As(err)
		e.Col = IDKey
		return e
	}
	return nil
}

// CheckDatatype returns an error unless v names one of the recognized datatypes.
func CheckDatatype(v any) error {
	var s string
	switch t := v.(type) {
	case DataType:
		s = string(t)
	case string:
		s = t
	default:
		return verr.New("invalid datatype %v", render(v))
	}
	switch DataType(s) {
	case Real, Count, Categorical, Boolean:
		return nil
	}
	if s == "" {
		return verr.New("missing datatype")
	}
	return verr.New("invalid datatype %q: must be one of real, count, categorical, boolean", s)
}

// Validate checks every column name against the identifier grammar and every
// descriptor for a recognized type.
func (s Schema) Validate() error {
	for _, name := range s.Columns() {
		if err := CheckID(name); err != nil {
			return verr.AtCol(name, "invalid column name %q", name)
		}
		if err := CheckDatatype(s[name].Type); err != nil {
			e, _ := verr.As(err)
			e.Col = name
			return e
		}
	}
	return nil
}

// Columns returns the column names in sorted order.
func (s Schema) Columns() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TypeOf returns the declared type of col and whether col is in the schema.
func (s Schema) TypeOf(col string) (DataType, bool) {
	c, ok := s[col]
	return c.Type, ok
}

func render(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v", v)
}
