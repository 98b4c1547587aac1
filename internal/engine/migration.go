package engine

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// MigrationSource is the read side a migration needs.
type MigrationSource interface {
	sdk.CollectionEnumeration
	sdk.BatchExporter
}

// Migrate copies every document of every collection from src to dst,
// keeping identifiers. It works between any two backends, for example
// embedded -> postgres (the "upgrade") or firestore -> embedded (a backup).
// It returns the number of documents copied.
func Migrate(ctx context.Context, src MigrationSource, dst sdk.Restorer) (int, error) {
	collections, err := src.Collections(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "engine: list collections")
	}

	copied := 0
	for _, collection := range collections {
		docs, err := src.Dump(ctx, collection)
		if err != nil {
			return copied, eris.Wrapf(err, "engine: dump collection %s", collection)
		}

		for id, doc := range docs {
			if err := dst.Restore(ctx, collection, id, doc); err != nil {
				return copied, eris.Wrapf(err, "engine: restore %s/%s", collection, id)
			}
			copied++
		}
	}

	return copied, nil
}
