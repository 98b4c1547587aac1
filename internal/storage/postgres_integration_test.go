//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("carbon"),
		postgrescontainer.WithUsername("carbon"),
		postgrescontainer.WithPassword("carbon"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := NewPostgres(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Migrate(ctx), "migration is idempotent")

	var ids []string
	for i, user := range []string{"u1", "u2", "u1"} {
		id, err := st.Create(ctx, "emissions", sdk.Document{"userId": user, "amount": float64(i) + 0.5})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := st.List(ctx, "emissions", &sdk.Filter{Field: "userId", Value: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)

	require.NoError(t, st.Update(ctx, "emissions", ids[1], sdk.Document{"amount": 9.0}))
	doc, err := st.Get(ctx, "emissions", ids[1])
	require.NoError(t, err)
	assert.Equal(t, 9.0, doc["amount"])
	assert.Equal(t, "u2", doc["userId"])

	assert.ErrorIs(t, st.Update(ctx, "emissions", "missing", sdk.Document{"amount": 1}), sdk.ErrDocumentNotFound)

	require.NoError(t, st.Restore(ctx, "users", "u1", sdk.Document{"name": "Ada"}))
	cols, err := st.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"emissions", "users"}, cols)

	require.NoError(t, st.Delete(ctx, "emissions", ids[0]))
	_, err = st.Get(ctx, "emissions", ids[0])
	assert.ErrorIs(t, err, sdk.ErrDocumentNotFound)
}
