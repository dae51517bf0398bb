package validate

import (
	"sort"
	"strconv"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// ValidateData checks data rows against s. Rows are never modified.
func ValidateData(rows []schema.Row, s schema.Schema) error {
	return Run(rows, s, DataValidation())
}

// CleanData coerces and prunes data rows in place. Overrides are applied on
// top of DataCleaning.
func CleanData(rows []schema.Row, s schema.Schema, overrides ...func(*Options)) error {
	opt := DataCleaning()
	for _, f := range overrides {
		f(&opt)
	}
	return Run(rows, s, opt)
}

// ValidatePredictions checks prediction requests against s. Requests are never modified.
func ValidatePredictions(rows []schema.Row, s schema.Schema) error {
	return Run(rows, s, PredictionValidation())
}

// CleanPredictions coerces and prunes prediction requests in place.
func CleanPredictions(rows []schema.Row, s schema.Schema, overrides ...func(*Options)) error {
	opt := PredictionCleaning()
	for _, f := range overrides {
		f(&opt)
	}
	return Run(rows, s, opt)
}

// run holds the per-call state of one validation pass.
type run struct {
	opt    Options
	schema schema.Schema
	rows   []schema.Row

	ids        map[string]int
	pendingIDs []int
	filled     map[string]int
	cats       map[string]*categoryCounts
	removed    int
}

// Run validates or cleans rows against s according to opt. Fields are visited
// in sorted column order so the reported column is deterministic. In
// cleaning modes rows are mutated in place; a failed call may leave them
// partially cleaned.
func Run(rows []schema.Row, s schema.Schema, opt Options) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if opt.MaxCategories <= 0 {
		opt.MaxCategories = schema.MaxCategories
	}
	r := &run{
		opt:    opt,
		schema: s,
		rows:   rows,
		ids:    map[string]int{},
		filled: map[string]int{},
		cats:   map[string]*categoryCounts{},
	}
	for i, row := range rows {
		if row == nil {
			return verr.AtRow(i, "", "row is empty")
		}
		if err := r.checkID(i, row); err != nil {
			return err
		}
		if err := r.checkFields(i, row); err != nil {
			return err
		}
	}
	r.assignRequestIDs()
	if err := r.checkCategories(); err != nil {
		return err
	}
	if !opt.AllowEmptyColumns {
		for _, col := range s.Columns() {
			if r.filled[col] == 0 {
				return verr.AtCol(col, "column %s has no values", col)
			}
		}
	}
	if r.removed > 0 {
		opt.logger().Debugw("cleaned rows", "rows", len(rows), "removed_fields", r.removed)
	}
	return nil
}

func (r *run) checkID(i int, row schema.Row) error {
	opt := r.opt
	if opt.HasIDs {
		if opt.AssignIDs {
			row[schema.IDKey] = strconv.Itoa(i)
		}
		return r.checkUniqueID(i, row, schema.IDKey, true)
	}
	if _, ok := row[schema.IDKey]; ok {
		if !opt.RemoveExtraFields {
			return verr.AtRow(i, schema.RequestIDKey, "prediction requests are keyed by %s, not %s", schema.RequestIDKey, schema.IDKey)
		}
		delete(row, schema.IDKey)
		r.removed++
	}
	// A lone request needs no correlation id.
	return r.checkUniqueID(i, row, schema.RequestIDKey, len(r.rows) > 1)
}

func (r *run) checkUniqueID(i int, row schema.Row, key string, required bool) error {
	v, ok := row[key]
	if !ok {
		switch {
		case !required:
			return nil
		case !r.opt.HasIDs && r.opt.AssignIDs:
			r.pendingIDs = append(r.pendingIDs, i)
			return nil
		}
		return verr.AtRow(i, key, "row is missing its %s field", key)
	}
	if _, isString := v.(string); !isString && r.opt.ConvertTypes && v != nil {
		if s, ok := scalarString(v); ok {
			row[key] = s
			v = s
		}
	}
	if err := schema.CheckID(v); err != nil {
		e, _ := verr.As(err)
		e.Row, e.HasRow, e.Col = i, true, key
		return e
	}
	id := v.(string)
	if prev, dup := r.ids[id]; dup {
		return verr.AtRow(i, key, "duplicate %s %q in rows %d and %d", key, id, prev, i)
	}
	r.ids[id] = i
	return nil
}

// assignRequestIDs gives every request that lacked a correlation id the
// lowest unused number at or above its row index.
func (r *run) assignRequestIDs() {
	for _, i := range r.pendingIDs {
		for n := i; ; n++ {
			id := strconv.Itoa(n)
			if _, taken := r.ids[id]; !taken {
				r.rows[i][schema.RequestIDKey] = id
				r.ids[id] = i
				break
			}
		}
	}
}

func (r *run) checkFields(i int, row schema.Row) error {
	keys := make([]string, 0, len(row))
	for k := range row {
		if k == schema.IDKey || (k == schema.RequestIDKey && !r.opt.HasIDs) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opt := r.opt
	for _, k := range keys {
		typ, known := r.schema.TypeOf(k)
		if !known {
			if opt.RemoveExtraFields {
				delete(row, k)
				r.removed++
				continue
			}
			if !opt.AllowExtraFields {
				return verr.AtRow(i, k, "column %s is not in the schema", k)
			}
			continue
		}
		v := row[k]
		if v == nil {
			if opt.RemoveNones {
				delete(row, k)
				r.removed++
				continue
			}
			if !opt.AllowNones {
				return verr.AtRow(i, k, "missing value for column %s", k)
			}
			continue
		}
		keep, err := r.checkValue(i, row, k, typ, v)
		if err != nil {
			return err
		}
		if !keep {
			delete(row, k)
			r.removed++
			continue
		}
		r.filled[k]++
	}
	return nil
}

// checkValue coerces (when enabled) and type-checks one field. It reports
// false when the field should be removed.
func (r *run) checkValue(i int, row schema.Row, k string, typ schema.DataType, v any) (bool, error) {
	opt := r.opt
	switch typ {
	case schema.Count:
		if opt.ConvertTypes {
			if n, ok := toCount(v); ok {
				row[k], v = n, n
			} else if opt.RemoveInvalids {
				return false, nil
			}
		}
		n, isInt := intValue(v)
		if !isInt {
			return false, verr.AtRow(i, k, "invalid count %v in column %s", v, k)
		}
		if n < 0 || (opt.MaxCount > 0 && n > opt.MaxCount) {
			if opt.RemoveInvalids {
				return false, nil
			}
			if n < 0 {
				return false, verr.AtRow(i, k, "negative count %d in column %s", n, k)
			}
			return false, verr.AtRow(i, k, "count %d in column %s exceeds %d", n, k, opt.MaxCount)
		}
	case schema.Real:
		if opt.ConvertTypes {
			if f, ok := toReal(v); ok {
				row[k], v = f, f
			} else if opt.RemoveInvalids {
				return false, nil
			}
		}
		if f, ok := floatValue(v); !ok || !finite(f) {
			return false, verr.AtRow(i, k, "invalid real %v in column %s", v, k)
		}
	case schema.Boolean:
		if opt.ConvertTypes {
			if b, ok := toBool(v); ok {
				row[k], v = b, b
			} else if opt.RemoveInvalids {
				return false, nil
			}
		}
		if _, ok := v.(bool); !ok {
			return false, verr.AtRow(i, k, "invalid boolean %v in column %s", v, k)
		}
	case schema.Categorical:
		if opt.ConvertTypes {
			if s, ok := toCategory(v); ok {
				row[k], v = s, s
			} else if opt.RemoveInvalids {
				return false, nil
			}
		}
		s, ok := v.(string)
		if !ok {
			return false, verr.AtRow(i, k, "invalid category %v in column %s", v, k)
		}
		r.countCategory(k, s)
	}
	return true, nil
}
