//go:build integration

package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// Runs against the Firestore emulator, e.g.
// gcloud emulators firestore start --host-port=localhost:8686
func TestFirestoreStore_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()

	st, err := NewFirestore(ctx, "carbon-ledger-test", "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	id, err := st.Create(ctx, "emissions", sdk.Document{"userId": "u1", "amount": 12.5})
	require.NoError(t, err)
	t.Cleanup(func() { st.Delete(ctx, "emissions", id) })

	doc, err := st.Get(ctx, "emissions", id)
	require.NoError(t, err)
	assert.Equal(t, "u1", doc["userId"])

	list, err := st.List(ctx, "emissions", &sdk.Filter{Field: "userId", Value: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, st.Update(ctx, "emissions", id, sdk.Document{"amount": 3.0}))
	doc, err = st.Get(ctx, "emissions", id)
	require.NoError(t, err)
	assert.Equal(t, 3.0, doc["amount"])

	assert.ErrorIs(t, st.Update(ctx, "emissions", "missing-id", sdk.Document{"amount": 1.0}), sdk.ErrDocumentNotFound)

	_, err = st.Get(ctx, "emissions", "missing-id")
	assert.ErrorIs(t, err, sdk.ErrDocumentNotFound)
}
