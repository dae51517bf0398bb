// Package validate checks and cleans rows and prediction requests against a
// schema. One algorithm (Run) serves all four modes; the presets below pick
// its policy flags.
package validate

import (
	"go.uber.org/zap"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

// DefaultMaxCount is the largest value accepted in a count column.
const DefaultMaxCount = 100000

// Options selects the validation/cleaning policy.
type Options struct {
	// ConvertTypes coerces values to their column's type where possible.
	ConvertTypes bool
	// AllowNones accepts missing (nil) values; RemoveNones deletes them.
	AllowNones  bool
	RemoveNones bool
	// RemoveInvalids deletes values that fail coercion or range checks
	// instead of failing the call.
	RemoveInvalids bool
	// ReduceCategories collapses excess categories into "Other".
	ReduceCategories bool
	// HasIDs requires a unique _id on every row (data mode). With HasIDs off
	// the rows are prediction requests keyed by _request_id.
	HasIDs bool
	// AssignIDs overwrites _id with the row index in data mode; in prediction
	// mode it fills in missing _request_id values.
	AssignIDs         bool
	AllowExtraFields  bool
	RemoveExtraFields bool
	AllowEmptyColumns bool

	// MaxCategories defaults to schema.MaxCategories when zero.
	MaxCategories int
	// MaxCount bounds count values; zero disables the bound.
	MaxCount int

	Logger *zap.SugaredLogger
}

// DataValidation checks data rows without modifying them.
func DataValidation() Options {
	return Options{
		HasIDs:           true,
		AllowExtraFields: true,
		MaxCategories:    schema.MaxCategories,
		MaxCount:         DefaultMaxCount,
	}
}

// DataCleaning coerces and prunes data rows in place.
func DataCleaning() Options {
	return Options{
		ConvertTypes:     true,
		RemoveNones:      true,
		RemoveInvalids:   true,
		ReduceCategories: true,
		HasIDs:           true,
		AllowExtraFields: true,
		MaxCategories:    schema.MaxCategories,
		MaxCount:         DefaultMaxCount,
	}
}

// PredictionValidation checks prediction requests without modifying them.
func PredictionValidation() Options {
	return Options{
		AllowNones:        true,
		AllowEmptyColumns: true,
		MaxCategories:     schema.MaxCategories,
		MaxCount:          DefaultMaxCount,
	}
}

// PredictionCleaning coerces and prunes prediction requests in place.
func PredictionCleaning() Options {
	return Options{
		ConvertTypes:      true,
		AllowNones:        true,
		RemoveInvalids:    true,
		AssignIDs:         true,
		RemoveExtraFields: true,
		AllowEmptyColumns: true,
		MaxCategories:     schema.MaxCategories,
		MaxCount:          DefaultMaxCount,
	}
}

// WithLogger sets Options.Logger.
func WithLogger(l *zap.SugaredLogger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop().Sugar()
}
