package validate

import (
	"math"

	"github.com/zeebo/xxh3"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

// SplitRows partitions rows into a leading part holding round(len*frac) rows
// and the remainder. frac is clamped to [0, 1]; rows keep their order.
func SplitRows(rows []schema.Row, frac float64) ([]schema.Row, []schema.Row) {
	if math.IsNaN(frac) || frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	n := int(math.Round(float64(len(rows)) * frac))
	return rows[:n:n], rows[n:]
}

// SplitRowsByHash partitions rows by a hash of their _id: a row goes to the
// leading part when its hash falls in the first frac of the hash space.
// The assignment of a row never depends on the other rows, so re-running
// after rows are added keeps earlier rows on the same side. Rows without
// a string _id go to the remainder.
func SplitRowsByHash(rows []schema.Row, frac float64) ([]schema.Row, []schema.Row) {
	if math.IsNaN(frac) || frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	var first, rest []schema.Row
	for _, row := range rows {
		id, ok := row[schema.IDKey].(string)
		if ok && (frac == 1 || float64(xxh3.HashString(id))/math.MaxUint64 < frac) {
			first = append(first, row)
			continue
		}
		rest = append(rest, row)
	}
	return first, rest
}
