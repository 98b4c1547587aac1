package sdk

import (
	"context"
	"regexp"

	"github.com/rotisserie/eris"
)

var (
	// ErrDocumentNotFound is returned when a requested document does not exist.
	ErrDocumentNotFound = eris.New("document not found")
	// ErrInvalidCollection is returned for collection names that cannot be stored safely.
	ErrInvalidCollection = eris.New("invalid collection name")
	// ErrInvalidField is returned for filter fields that are not plain top-level names.
	ErrInvalidField = eris.New("invalid field name")
	// ErrInvalidID is returned for document ids that are not plain tokens.
	ErrInvalidID = eris.New("invalid document id")
)

var (
	collectionPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	fieldPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	idPattern         = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Document is the schemaless body of a stored record. The identifier is
// never part of the body.
type Document map[string]any

// Snapshot pairs a document with its store-assigned identifier.
type Snapshot struct {
	ID   string   `json:"id"`
	Data Document `json:"data"`
}

// Filter is a single equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// ValidateCollection rejects names that would be unsafe as file names or SQL values.
func ValidateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return eris.Wrapf(ErrInvalidCollection, "collection %q", name)
	}
	return nil
}

// ValidateFilter checks the field of an optional filter.
func ValidateFilter(f *Filter) error {
	if f == nil {
		return nil
	}
	if !fieldPattern.MatchString(f.Field) {
		return eris.Wrapf(ErrInvalidField, "field %q", f.Field)
	}
	return nil
}

// ValidateID rejects ids that are not a single token of letters, digits,
// '-' or '_'. Store-assigned ids (UUIDs, Firestore auto-ids) always pass.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return eris.Wrapf(ErrInvalidID, "id %q", id)
	}
	return nil
}

// ValidateKey checks a collection and id pair.
func ValidateKey(collection, id string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	return ValidateID(id)
}

// --- Functional Interfaces (Interface Segregation) ---

// DocReader defines the read operations for the store.
type DocReader interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// List returns every document of a collection, optionally narrowed by
	// a single equality filter.
	List(ctx context.Context, collection string, filter *Filter) ([]Snapshot, error)
}

// DocWriter defines the write and delete operations for the store.
type DocWriter interface {
	// Create stores a new document and returns the assigned identifier.
	Create(ctx context.Context, collection string, doc Document) (string, error)
	// Update merges the top-level fields of patch into an existing document.
	Update(ctx context.Context, collection, id string, patch Document) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// CollectionEnumeration allows discovering collections.
type CollectionEnumeration interface {
	Collections(ctx context.Context) ([]string, error)
}

// BatchExporter allows retrieving bulk data.
type BatchExporter interface {
	Dump(ctx context.Context, collection string) (map[string]Document, error)
}

// Restorer writes a document under a known identifier, replacing any
// existing body. Used by migrations and backups.
type Restorer interface {
	Restore(ctx context.Context, collection, id string, doc Document) error
}

// --- Composite Interfaces ---

// DocumentStore is the primary interface for interacting with a document store.
// The embedded engine, the network client and the database backends all implement it.
type DocumentStore interface {
	DocReader
	DocWriter
	CollectionEnumeration
	BatchExporter
	Restorer

	Close() error
}
