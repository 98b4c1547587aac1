// Package records provides typed access to the carbon-ledger collections.
package records

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// Store is the part of the document store a repository uses.
type Store interface {
	sdk.DocReader
	sdk.DocWriter
}

// Repository reads and writes one collection as typed records. Every record
// crossing it is validated against its schema.
type Repository[T schema.Record[T]] struct {
	store      Store
	collection string
	now        func() time.Time
	known      map[string]bool
}

// NewRepository binds a record type to a collection. A nil clock means time.Now.
func NewRepository[T schema.Record[T]](store Store, collection string, now func() time.Time) *Repository[T] {
	if now == nil {
		now = time.Now
	}
	var zero T
	known := make(map[string]bool)
	for k := range zero.Fields() {
		known[k] = true
	}
	return &Repository[T]{store: store, collection: collection, now: now, known: known}
}

// Collection returns the collection name the repository writes to.
func (r *Repository[T]) Collection() string {
	return r.collection
}

// Create applies defaults, validates and stores rec, returning the new id.
func (r *Repository[T]) Create(ctx context.Context, rec T) (string, error) {
	rec = rec.WithDefaults(r.now())
	if err := rec.Validate(); err != nil {
		return "", err
	}
	id, err := r.store.Create(ctx, r.collection, rec.Fields())
	if err != nil {
		return "", eris.Wrapf(err, "records: create in %s", r.collection)
	}
	return id, nil
}

// Get returns the record stored under id.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := sdk.ValidateID(id); err != nil {
		return zero, err
	}
	doc, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		if errors.Is(err, sdk.ErrDocumentNotFound) {
			return zero, err
		}
		return zero, eris.Wrapf(err, "records: get %s/%s", r.collection, id)
	}
	return r.decode(id, doc)
}

// List returns every record of the collection, optionally narrowed by filter.
// A stored document that does not conform to the schema fails the whole call.
func (r *Repository[T]) List(ctx context.Context, filter *sdk.Filter) ([]T, error) {
	snaps, err := r.store.List(ctx, r.collection, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "records: list %s", r.collection)
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		rec, err := r.decode(snap.ID, snap.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Update merges patch over the stored record, validates the result and
// writes it back. Unknown fields and "id" are rejected.
func (r *Repository[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	var zero T
	if err := sdk.ValidateID(id); err != nil {
		return zero, err
	}
	for _, k := range sortedFields(patch) {
		if k == "id" {
			return zero, eris.Wrap(schema.ErrInvalidRecord, "id is immutable")
		}
		if !r.known[k] {
			return zero, eris.Wrapf(schema.ErrInvalidRecord, "unknown field %q", k)
		}
	}

	current, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		if errors.Is(err, sdk.ErrDocumentNotFound) {
			return zero, err
		}
		return zero, eris.Wrapf(err, "records: get %s/%s", r.collection, id)
	}

	merged := make(sdk.Document, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}

	rec, err := r.decode(id, merged)
	if err != nil {
		return zero, err
	}
	if err := r.store.Update(ctx, r.collection, id, rec.Fields()); err != nil {
		if errors.Is(err, sdk.ErrDocumentNotFound) {
			return zero, err
		}
		return zero, eris.Wrapf(err, "records: update %s/%s", r.collection, id)
	}
	return rec, nil
}

// Delete removes the record. Deleting a missing record succeeds.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if err := sdk.ValidateID(id); err != nil {
		return err
	}
	return eris.Wrapf(r.store.Delete(ctx, r.collection, id), "records: delete %s/%s", r.collection, id)
}

func (r *Repository[T]) decode(id string, doc sdk.Document) (T, error) {
	rec, err := sdk.Decode[T](id, doc)
	if err != nil {
		return rec, eris.Wrapf(schema.ErrInvalidRecord, "%s/%s: %v", r.collection, id, err)
	}
	if err := rec.Validate(); err != nil {
		return rec, eris.Wrapf(err, "%s/%s", r.collection, id)
	}
	return rec, nil
}

func sortedFields(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
