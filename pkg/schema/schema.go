// Package schema defines the typed records stored in each carbon-ledger collection.
package schema

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidRecord is returned when a record does not conform to its collection schema.
var ErrInvalidRecord = eris.New("invalid record")

// Collection names as they appear in the document store.
const (
	CollectionUsers           = "users"
	CollectionActivities      = "activities"
	CollectionEmissionFactors = "emissionFactors"
	CollectionEmissions       = "emissions"
	CollectionRecommendations = "recommendations"
	CollectionVehicles        = "vehicles"
)

// Record is implemented by every collection type. T is the implementing type
// itself so that defaults can be applied without pointers.
type Record[T any] interface {
	// Validate reports whether the record conforms to its schema.
	Validate() error
	// Fields returns the document body. The identifier is not included.
	Fields() map[string]any
	// WithDefaults fills unset fields the way the entry forms do.
	WithDefaults(now time.Time) T
}

func invalid(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidRecord, format, args...)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func oneOf[S ~string](field string, value S, allowed ...S) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid("%s %q is not one of %v", field, value, allowed)
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
