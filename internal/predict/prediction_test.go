package predict

import (
	"math"
	"reflect"
	"testing"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

var testSchema = schema.Schema{
	"ColInt":   {Type: schema.Count},
	"ColFloat": {Type: schema.Real},
	"ColCat":   {Type: schema.Categorical},
	"ColBool":  {Type: schema.Boolean},
}

func testDistribution() []schema.Row {
	return []schema.Row{
		{"ColInt": 3, "ColFloat": 3.1, "ColCat": "a", "ColBool": false},
		{"ColInt": 4, "ColFloat": 4.1, "ColCat": "b", "ColBool": false},
		{"ColInt": 8, "ColFloat": 8.1, "ColCat": "b", "ColBool": false},
		{"ColInt": 11, "ColFloat": 2.1, "ColCat": "c", "ColBool": true},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 0.001 }

func TestPredictionStatistics(t *testing.T) {
	req := schema.Row{"ColInt": nil, "ColFloat": nil, "ColCat": nil, "ColBool": nil}
	p := New(req, testDistribution(), testSchema)

	if v, ok := p.Expected["ColInt"].(int); !ok || v != 7 {
		t.Fatalf("ColInt expected 7 (int), got %#v", p.Expected["ColInt"])
	}
	if v, ok := p.Float("ColFloat"); !ok || !approx(v, 4.35) {
		t.Fatalf("ColFloat expected 4.35, got %#v", p.Expected["ColFloat"])
	}
	if v, ok := p.Category("ColCat"); !ok || v != "b" {
		t.Fatalf("ColCat expected b, got %#v", p.Expected["ColCat"])
	}
	if v, ok := p.Bool("ColBool"); !ok || v {
		t.Fatalf("ColBool expected false, got %#v", p.Expected["ColBool"])
	}

	wantU := map[string]float64{"ColInt": 8, "ColFloat": 6, "ColCat": 0.5, "ColBool": 0.25}
	for col, want := range wantU {
		if !approx(p.Uncertainty[col], want) {
			t.Fatalf("%s uncertainty: got %v want %v", col, p.Uncertainty[col], want)
		}
	}

	if got := p.ProbWithinRange("ColInt", 5, 9); !approx(got, 0.25) {
		t.Fatalf("ColInt within [5,9]: %v", got)
	}
	if got := p.ProbWithinRange("ColFloat", 5, 9); !approx(got, 0.25) {
		t.Fatalf("ColFloat within [5,9]: %v", got)
	}
	if got := p.ProbWithin("ColCat", "b", "c"); !approx(got, 0.75) {
		t.Fatalf("ColCat within {b,c}: %v", got)
	}
	if got := p.ProbWithin("ColBool", true); !approx(got, 0.25) {
		t.Fatalf("ColBool within {true}: %v", got)
	}
}

func TestCredibleIntervals(t *testing.T) {
	p := New(schema.Row{"ColInt": nil, "ColFloat": nil}, testDistribution(), testSchema)
	cases := []struct {
		col    string
		mass   float64
		lo, hi float64
	}{
		{"ColInt", 0.9, 3, 11},
		{"ColFloat", 0.9, 2.1, 8.1},
		{"ColInt", 0.6, 4, 8},
		{"ColFloat", 0.6, 3.1, 4.1},
	}
	for _, tc := range cases {
		lo, hi, ok := p.CredibleInterval(tc.col, tc.mass)
		if !ok || !approx(lo, tc.lo) || !approx(hi, tc.hi) {
			t.Fatalf("%s@%v: got [%v,%v] want [%v,%v]", tc.col, tc.mass, lo, hi, tc.lo, tc.hi)
		}
	}
	if _, _, ok := p.CredibleInterval("ColMissing", 0.9); ok {
		t.Fatalf("expected no interval for unknown column")
	}
}

func TestCredibleValues(t *testing.T) {
	p := New(schema.Row{"ColCat": nil, "ColBool": nil}, testDistribution(), testSchema)
	if got, want := p.CredibleValues("ColCat", 0), []ValueProb{{"b", 0.5}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ColCat credible values: got %v want %v", got, want)
	}
	if got, want := p.CredibleValues("ColBool", 0), []ValueProb{{false, 0.75}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ColBool credible values: got %v want %v", got, want)
	}
	got := p.CredibleValues("ColCat", 0.1)
	want := []ValueProb{{"b", 0.5}, {"a", 0.25}, {"c", 0.25}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ColCat credible values at 0.1: got %v want %v", got, want)
	}
}

func TestNewStripsIDsAndMergesFixedValues(t *testing.T) {
	dist := testDistribution()
	for _, d := range dist {
		d["_request_id"] = "r1"
	}
	req := schema.Row{"_request_id": "r1", "ColInt": nil, "ColFloat": nil, "ColCat": "z", "ColBool": nil}
	p := New(req, dist, testSchema)
	if p.RequestID != "r1" {
		t.Fatalf("expected request id r1, got %q", p.RequestID)
	}
	if _, ok := p.Request["_request_id"]; ok {
		t.Fatalf("request id must be stripped from Request")
	}
	if len(p.Request) != 4 {
		t.Fatalf("expected four request fields, got %v", p.Request)
	}
	for i, d := range dist {
		if _, ok := d["_request_id"]; ok {
			t.Fatalf("sample %d still carries _request_id", i)
		}
		if d["ColCat"] != "z" {
			t.Fatalf("sample %d: fixed value not merged, got %v", i, d["ColCat"])
		}
	}
	if p.Expected["ColCat"] != "z" || p.Uncertainty["ColCat"] != 0 {
		t.Fatalf("fixed column: expected z/0, got %v/%v", p.Expected["ColCat"], p.Uncertainty["ColCat"])
	}
	if req["_request_id"] != "r1" {
		t.Fatalf("the request itself must not be modified")
	}
}

func TestMixedNumericRepresentations(t *testing.T) {
	dist := []schema.Row{{"ColInt": 3}, {"ColInt": 3.0}, {"ColInt": 5}}
	p := New(schema.Row{"ColInt": nil}, dist, testSchema)
	if got := p.ProbWithin("ColInt", 3); !approx(got, 2.0/3) {
		t.Fatalf("3 and 3.0 should compare equal, got %v", got)
	}
	if v, ok := p.Int("ColInt"); !ok || v != 4 {
		t.Fatalf("expected rounded mean 4, got %v", p.Expected["ColInt"])
	}
}

func TestEmptyDistribution(t *testing.T) {
	p := New(schema.Row{"ColInt": nil, "ColCat": nil}, nil, testSchema)
	if p.Expected["ColInt"] != nil || p.Expected["ColCat"] != nil {
		t.Fatalf("expected no estimates, got %v", p.Expected)
	}
	if p.ProbWithin("ColCat", "a") != 0 || p.ProbWithinRange("ColInt", 0, 10) != 0 {
		t.Fatalf("probabilities over an empty distribution must be zero")
	}
}
