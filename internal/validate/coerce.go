package validate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

var (
	truthTokens = map[string]bool{"true": true, "t": true, "yes": true, "y": true}
	falseTokens = map[string]bool{"false": true, "f": true, "no": true, "n": true}

	maxInt = decimal.NewFromInt(math.MaxInt64)
	minInt = decimal.NewFromInt(math.MinInt64)
)

// Coerce converts v to the Go representation of typ: int, float64, bool or
// string. Counts are not range-checked.
func Coerce(typ schema.DataType, v any) (any, bool) {
	switch typ {
	case schema.Count:
		return toCount(v)
	case schema.Real:
		return toReal(v)
	case schema.Boolean:
		return toBool(v)
	case schema.Categorical:
		return toCategory(v)
	}
	return nil, false
}

// intValue reports v as an int when v has a Go integer type.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int(n), true
		}
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := intValue(v); ok {
		return float64(i), true
	}
	return 0, false
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// parseDecimal parses a numeric-looking string. decimal accepts plain and
// exponent forms but rejects NaN and Inf.
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func stringish(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	}
	return "", false
}

// toCount coerces v to an int. Integral floats and strings such as "4" or
// "4.0" are accepted; exponent forms like "1e3" are not. The sign is left
// for the range check.
func toCount(v any) (int, bool) {
	if i, ok := intValue(v); ok {
		return i, true
	}
	switch n := v.(type) {
	case float64, float32:
		f, _ := floatValue(n)
		if !finite(f) || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return int(f), true
	}
	s, ok := stringish(v)
	if !ok || strings.ContainsAny(s, "eE") {
		return 0, false
	}
	d, ok := parseDecimal(s)
	if !ok || !d.IsInteger() || d.GreaterThan(maxInt) || d.LessThan(minInt) {
		return 0, false
	}
	return int(d.IntPart()), true
}

func toReal(v any) (float64, bool) {
	if f, ok := floatValue(v); ok {
		return f, finite(f)
	}
	s, ok := stringish(v)
	if !ok {
		return 0, false
	}
	d, ok := parseDecimal(s)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, finite(f)
}

func toBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if s, ok := stringish(v); ok {
		// A Caser is stateful, so each call gets its own.
		tok := cases.Fold().String(strings.TrimSpace(s))
		if truthTokens[tok] {
			return true, true
		}
		if falseTokens[tok] {
			return false, true
		}
	}
	if i, ok := toCount(v); ok {
		return i != 0, true
	}
	return false, false
}

// toCategory renders scalars as strings; composite values are rejected.
func toCategory(v any) (string, bool) {
	if s, ok := stringish(v); ok {
		return s, true
	}
	return scalarString(v)
}

func scalarString(v any) (string, bool) {
	if i, ok := intValue(v); ok {
		return strconv.Itoa(i), true
	}
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(t), true
	case string:
		return t, true
	}
	return "", false
}
