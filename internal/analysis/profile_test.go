package analysis

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
)

func profileRows() []schema.Row {
	return []schema.Row{
		{"_id": "1", "age": json.Number("30"), "score": "1.5", "smoker": "yes", "city": "Oslo"},
		{"_id": "2", "age": json.Number("40"), "score": json.Number("2"), "smoker": "no", "city": "Rome"},
		{"_id": "3", "age": nil, "score": 3.5, "smoker": "Y", "city": "Oslo"},
		{"_id": "4", "age": "50", "smoker": nil, "city": "Lima|Peru"},
	}
}

func column(t *testing.T, r *Report, name string) ColumnSummary {
	t.Helper()
	for _, c := range r.Cols {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q missing from report", name)
	return ColumnSummary{}
}

func TestProfileInfersTypes(t *testing.T) {
	r := Profile(profileRows(), nil, DefaultOptions())
	if r.Rows != 4 || len(r.Cols) != 4 {
		t.Fatalf("unexpected shape: rows=%d cols=%d", r.Rows, len(r.Cols))
	}
	want := map[string]schema.DataType{"age": schema.Count, "score": schema.Real, "smoker": schema.Boolean, "city": schema.Categorical}
	for col, typ := range want {
		if c := column(t, r, col); c.Kind != typ || c.Declared {
			t.Errorf("%s: got %q declared=%v, want inferred %q", col, c.Kind, c.Declared, typ)
		}
	}
	got := r.Schema()
	for col, typ := range want {
		if got[col].Type != typ {
			t.Errorf("schema %s = %q, want %q", col, got[col].Type, typ)
		}
	}
	if _, ok := got[schema.IDKey]; ok {
		t.Fatalf("_id must not be profiled")
	}
}

func TestProfileNumericStats(t *testing.T) {
	c := column(t, Profile(profileRows(), nil, DefaultOptions()), "age")
	if c.NonNull != 3 || c.Missing != 1 || c.Unique != 3 {
		t.Fatalf("unexpected counts %+v", c)
	}
	if c.Min != 30 || c.Max != 50 || c.Mean != 40 {
		t.Fatalf("unexpected stats min=%v max=%v mean=%v", c.Min, c.Max, c.Mean)
	}
	if math.Abs(c.Std-10) > 1e-9 {
		t.Fatalf("std = %v, want 10", c.Std)
	}
}

func TestProfileTopValuesTieBreak(t *testing.T) {
	opt := DefaultOptions()
	opt.TopValues = 2
	c := column(t, Profile(profileRows(), nil, opt), "city")
	if len(c.TopValues) != 2 || c.TopValues[0] != (validate.CategoryCount{Value: "Oslo", Count: 2}) || c.TopValues[1] != (validate.CategoryCount{Value: "Rome", Count: 1}) {
		t.Fatalf("unexpected top values %v", c.TopValues)
	}
	if c.Unique != 3 {
		t.Fatalf("unique = %d", c.Unique)
	}
}

func TestProfileDeclaredSchema(t *testing.T) {
	s := schema.Schema{"city": {Type: schema.Count}, "absent": {Type: schema.Real}}
	r := Profile(profileRows(), s, DefaultOptions())
	city := column(t, r, "city")
	if !city.Declared || city.Kind != schema.Count || city.Invalid != 4 {
		t.Fatalf("unexpected declared column %+v", city)
	}
	absent := column(t, r, "absent")
	if absent.NonNull != 0 || absent.Missing != 4 {
		t.Fatalf("unexpected absent column %+v", absent)
	}
	if len(r.Warnings) != 1 || !strings.Contains(r.Warnings[0], "4 value(s) that are not count") {
		t.Fatalf("unexpected warnings %v", r.Warnings)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		values []any
		want   schema.DataType
	}{
		{nil, ""},
		{[]any{json.Number("1"), "2"}, schema.Count},
		{[]any{json.Number("-1"), "2"}, schema.Real},
		{[]any{"1.5", 2}, schema.Real},
		{[]any{true, "No"}, schema.Boolean},
		{[]any{true, "maybe"}, schema.Categorical},
	}
	for _, tt := range tests {
		if got := InferType(tt.values); got != tt.want {
			t.Errorf("InferType(%v) = %q, want %q", tt.values, got, tt.want)
		}
	}
}

func TestMarkdown(t *testing.T) {
	opt := DefaultOptions()
	opt.Name = "rows.csv"
	rows := profileRows()
	rows = append(rows, schema.Row{"_id": "5", "empty": nil})
	md := Profile(rows, nil, opt).Markdown()
	for _, want := range []string{
		"[DATASET SUMMARY]",
		"File: rows.csv",
		"Rows: 5",
		"- age: count? (non-null 3, missing 40.0%); min 30, max 50, mean 40, std 10",
		"- city: categorical? (non-null 4, missing 20.0%); top: Oslo(2), Rome(1), Lima/Peru(1)",
		"| _id | age | city | empty | score | smoker |",
		"[NOTES]",
		"empty has no values",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}
