// Package engine implements the embedded carbon-ledger document store.
package engine

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// newID returns a time-ordered identifier so that sorting by id yields
// creation order.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// cloneDocument returns a deep copy of a document so callers can never
// mutate engine state through a returned map.
func cloneDocument(doc sdk.Document) sdk.Document {
	if doc == nil {
		return nil
	}
	out := make(sdk.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case sdk.Document:
		return map[string]any(cloneDocument(t))
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// matches reports whether doc satisfies the equality filter. Numbers are
// compared by value regardless of their Go type.
func matches(doc sdk.Document, f *sdk.Filter) bool {
	if f == nil {
		return true
	}
	got, ok := doc[f.Field]
	if !ok {
		return false
	}
	if a, ok := toFloat(got); ok {
		b, ok := toFloat(f.Value)
		return ok && a == b
	}
	if a, ok := got.(time.Time); ok {
		b, ok := f.Value.(time.Time)
		return ok && a.Equal(b)
	}
	return reflect.DeepEqual(got, f.Value)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
