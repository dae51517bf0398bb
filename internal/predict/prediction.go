// Package predict turns streams of prediction requests into Predictions,
// batching remote calls so no call exceeds the service's cell and column
// limits.
package predict

import (
	"math"
	"sort"
	"strconv"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

// DefaultCredibility is the threshold used by CredibleValues when p <= 0.
const DefaultCredibility = 0.5

// uncertaintyMass is the interval mass used for numeric uncertainty.
const uncertaintyMass = 0.9

// Prediction is the sampled completion of one prediction request.
type Prediction struct {
	// Request is the original request without its correlation id.
	Request      schema.Row
	RequestID    string
	Distribution []schema.Row
	Schema       schema.Schema
	// Expected holds one point estimate per schema column: the fixed value
	// when the request gave one, otherwise a statistic of the distribution.
	Expected map[string]any
	// Uncertainty is zero for fixed columns.
	Uncertainty map[string]float64
}

// ValueProb is a value and its share of the distribution.
type ValueProb struct {
	Value any
	Prob  float64
}

// New builds a Prediction. It modifies distribution in place: correlation ids
// are removed from every sample and the request's fixed values are written
// into each sample.
func New(request schema.Row, distribution []schema.Row, s schema.Schema) *Prediction {
	p := &Prediction{
		Request:      schema.Row{},
		Distribution: distribution,
		Schema:       s,
		Expected:     map[string]any{},
		Uncertainty:  map[string]float64{},
	}
	for k, v := range request {
		switch k {
		case schema.RequestIDKey:
			if id, ok := v.(string); ok {
				p.RequestID = id
			}
		case schema.IDKey:
		default:
			p.Request[k] = v
		}
	}
	for _, sample := range distribution {
		delete(sample, schema.RequestIDKey)
		for k, v := range p.Request {
			if v != nil {
				sample[k] = v
			}
		}
	}
	for _, col := range s.Columns() {
		if v := p.Request[col]; v != nil {
			p.Expected[col] = v
			p.Uncertainty[col] = 0
			continue
		}
		p.Expected[col], p.Uncertainty[col] = p.estimate(col, s[col].Type)
	}
	return p
}

func (p *Prediction) estimate(col string, typ schema.DataType) (any, float64) {
	switch typ {
	case schema.Real, schema.Count:
		vals := p.numbers(col)
		if len(vals) == 0 {
			return nil, 0
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		mean := sum / float64(len(vals))
		lo, hi, _ := p.CredibleInterval(col, uncertaintyMass)
		if typ == schema.Count {
			return int(math.Round(mean)), hi - lo
		}
		return mean, hi - lo
	default:
		dist := p.frequencies(col)
		if len(dist) == 0 {
			return nil, 0
		}
		return dist[0].Value, 1 - dist[0].Prob
	}
}

func (p *Prediction) numbers(col string) []float64 {
	out := make([]float64, 0, len(p.Distribution))
	for _, sample := range p.Distribution {
		if f, ok := asFloat(sample[col]); ok {
			out = append(out, f)
		}
	}
	return out
}

// frequencies returns each distinct value's probability, most likely first;
// equally likely values keep their order of first appearance.
func (p *Prediction) frequencies(col string) []ValueProb {
	index := map[string]int{}
	var out []ValueProb
	var counts []int
	total := 0
	for _, sample := range p.Distribution {
		v, ok := sample[col]
		if !ok || v == nil {
			continue
		}
		total++
		k := valueKey(v)
		if i, seen := index[k]; seen {
			counts[i]++
			continue
		}
		index[k] = len(out)
		out = append(out, ValueProb{Value: v})
		counts = append(counts, 1)
	}
	for i := range out {
		out[i].Prob = float64(counts[i]) / float64(total)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Prob > out[j].Prob })
	return out
}

// ProbWithinRange is the share of samples whose value for col lies in [lo, hi].
func (p *Prediction) ProbWithinRange(col string, lo, hi float64) float64 {
	vals := p.numbers(col)
	if len(vals) == 0 {
		return 0
	}
	n := 0
	for _, v := range vals {
		if v >= lo && v <= hi {
			n++
		}
	}
	return float64(n) / float64(len(vals))
}

// ProbWithin is the share of samples whose value for col is one of values.
func (p *Prediction) ProbWithin(col string, values ...any) float64 {
	want := map[string]bool{}
	for _, v := range values {
		want[valueKey(v)] = true
	}
	total, n := 0, 0
	for _, sample := range p.Distribution {
		v, ok := sample[col]
		if !ok || v == nil {
			continue
		}
		total++
		if want[valueKey(v)] {
			n++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// CredibleInterval returns the central interval holding mass p of the
// samples for a numeric column: round(N*(1-p)/2) samples are trimmed from
// each end of the sorted values.
func (p *Prediction) CredibleInterval(col string, mass float64) (lo, hi float64, ok bool) {
	vals := p.numbers(col)
	if len(vals) == 0 {
		return 0, 0, false
	}
	sort.Float64s(vals)
	n := len(vals)
	a := int(math.Round(float64(n) * (1 - mass) / 2))
	if a < 0 {
		a = 0
	}
	if a > (n-1)/2 {
		a = (n - 1) / 2
	}
	return vals[a], vals[n-a-1], true
}

// CredibleValues returns the values of col whose probability is at least p,
// most likely first.
func (p *Prediction) CredibleValues(col string, prob float64) []ValueProb {
	if prob <= 0 {
		prob = DefaultCredibility
	}
	var out []ValueProb
	for _, vp := range p.frequencies(col) {
		if vp.Prob >= prob {
			out = append(out, vp)
		}
	}
	return out
}

// Float returns the point estimate of col as a float64.
func (p *Prediction) Float(col string) (float64, bool) {
	return asFloat(p.Expected[col])
}

// Int returns the point estimate of col as an int.
func (p *Prediction) Int(col string) (int, bool) {
	switch v := p.Expected[col].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

// Category returns the point estimate of a categorical column.
func (p *Prediction) Category(col string) (string, bool) {
	s, ok := p.Expected[col].(string)
	return s, ok
}

func (p *Prediction) Bool(col string) (bool, bool) {
	b, ok := p.Expected[col].(bool)
	return b, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// valueKey makes samples comparable across numeric representations, so 3
// and 3.0 count as the same value.
func valueKey(v any) string {
	if f, ok := asFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch t := v.(type) {
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	}
	return "?"
}
