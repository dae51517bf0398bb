package validate

import (
	"sort"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// OtherCategory receives every value dropped by category reduction.
const OtherCategory = "Other"

// CategoryCount is one observed categorical value and its frequency.
type CategoryCount struct {
	Value string
	Count int
}

// categoryCounts tallies values in first-seen order.
type categoryCounts struct {
	index  map[string]int
	values []CategoryCount
}

func (r *run) countCategory(col, v string) {
	c := r.cats[col]
	if c == nil {
		c = &categoryCounts{index: map[string]int{}}
		r.cats[col] = c
	}
	if i, ok := c.index[v]; ok {
		c.values[i].Count++
		return
	}
	c.index[v] = len(c.values)
	c.values = append(c.values, CategoryCount{Value: v, Count: 1})
}

// ranked returns the counts sorted by count descending; equal counts keep
// first-seen order.
func (c *categoryCounts) ranked() []CategoryCount {
	out := make([]CategoryCount, len(c.values))
	copy(out, c.values)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func (r *run) checkCategories() error {
	cols := make([]string, 0, len(r.cats))
	for col := range r.cats {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	limit := r.opt.MaxCategories
	for _, col := range cols {
		c := r.cats[col]
		if len(c.values) <= limit {
			continue
		}
		if !r.opt.ReduceCategories {
			return verr.AtCol(col, "column %s has %d categories; at most %d are allowed", col, len(c.values), limit)
		}
		keep := map[string]bool{}
		for _, cc := range c.ranked()[:limit-1] {
			keep[cc.Value] = true
		}
		for _, row := range r.rows {
			if v, ok := row[col].(string); ok && !keep[v] {
				row[col] = OtherCategory
			}
		}
		r.opt.logger().Debugw("reduced categories", "column", col, "distinct", len(c.values), "kept", limit-1)
	}
	return nil
}

// TopCategories returns the value counts of a categorical column across rows,
// most frequent first.
func TopCategories(rows []schema.Row, col string) []CategoryCount {
	c := &categoryCounts{index: map[string]int{}}
	for _, row := range rows {
		v, ok := row[col].(string)
		if !ok {
			continue
		}
		if i, seen := c.index[v]; seen {
			c.values[i].Count++
			continue
		}
		c.index[v] = len(c.values)
		c.values = append(c.values, CategoryCount{Value: v, Count: 1})
	}
	return c.ranked()
}
