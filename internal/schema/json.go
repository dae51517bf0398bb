package schema

import (
	"encoding/json"
	"strings"
)

// Normalize replaces json.Number values (from a decoder with UseNumber) by
// int for integral literals and float64 otherwise, so "3" stays a count and
// "3.0" stays a real.
func Normalize(r Row) Row {
	for k, v := range r {
		r[k] = NormalizeValue(v)
	}
	return r
}

// NormalizeValue applies Normalize to a single value.
func NormalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return s
}
