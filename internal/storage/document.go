// Package storage opens the configured document store backend.
package storage

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

func encodeDocument(doc sdk.Document) ([]byte, error) {
	if doc == nil {
		doc = sdk.Document{}
	}
	return json.Marshal(doc)
}

func decodeDocument(data []byte) (sdk.Document, error) {
	var doc sdk.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "storage: decode document")
	}
	if doc == nil {
		doc = sdk.Document{}
	}
	return doc, nil
}

// jsonPath quotes a top-level key for SQLite JSON functions.
func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

func sortedKeys(doc sdk.Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func snapshotsToMap(list []sdk.Snapshot) map[string]sdk.Document {
	out := make(map[string]sdk.Document, len(list))
	for _, snap := range list {
		out[snap.ID] = snap.Data
	}
	return out
}
