package records

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/carbon-ledger/internal/engine"
	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *engine.MemStore) {
	t.Helper()
	store := engine.NewMemStore(nil, nil)
	return NewLedger(store, func() time.Time { return fixedNow }), store
}

func TestRepository_CreateAppliesDefaults(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Emissions.Create(ctx, schema.EmissionRecord{
		UserID:       "u1",
		ActivityType: schema.ActivityTransportation,
		Amount:       12.5,
		Category:     schema.CategoryDirect,
	})
	require.NoError(t, err)

	raw, err := store.Get(ctx, schema.CollectionEmissions, id)
	require.NoError(t, err)
	assert.NotContains(t, raw, "id", "the id is never part of the body")
	assert.Equal(t, "kg", raw["unit"])

	got, err := l.Emissions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, schema.UnitKilograms, got.Unit)
	assert.True(t, got.Timestamp.Equal(fixedNow))
}

func TestRepository_CreateRejectsInvalid(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Emissions.Create(ctx, schema.EmissionRecord{UserID: "u1", ActivityType: "Flying", Category: schema.CategoryOther})
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	cols, err := store.Collections(ctx)
	require.NoError(t, err)
	assert.Empty(t, cols, "nothing is written for an invalid record")
}

func TestRepository_GetMissing(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Users.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sdk.ErrDocumentNotFound)
}

func TestRepository_RejectsMalformedIDs(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Vehicles.Create(ctx, schema.VehicleRecord{Make: "Toyota", Model: "Prius", Year: 2020})
	require.NoError(t, err)

	for _, bad := range []string{"", "a b", "x\nDEL vehicles " + id} {
		_, err := l.Vehicles.Get(ctx, bad)
		assert.ErrorIs(t, err, sdk.ErrInvalidID, "get %q", bad)
		_, err = l.Vehicles.Update(ctx, bad, map[string]any{"year": 2021})
		assert.ErrorIs(t, err, sdk.ErrInvalidID, "update %q", bad)
		assert.ErrorIs(t, l.Vehicles.Delete(ctx, bad), sdk.ErrInvalidID, "delete %q", bad)
	}

	raw, err := store.Get(ctx, schema.CollectionVehicles, id)
	require.NoError(t, err)
	assert.Equal(t, "Toyota", raw["make"])
}

func TestRepository_ListRejectsNonConformingDocuments(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Recommendations.Create(ctx, schema.RecommendationRecord{UserID: "u1", Category: "Energy", RecommendationText: "Insulate the attic", ImpactEstimate: 3})
	require.NoError(t, err)
	_, err = store.Create(ctx, schema.CollectionRecommendations, sdk.Document{"userId": "u1", "status": "Whenever"})
	require.NoError(t, err)

	_, err = l.Recommendations.List(ctx, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = store.Create(ctx, schema.CollectionVehicles, sdk.Document{"make": "Tesla", "model": "3", "year": "twenty"})
	require.NoError(t, err)
	_, err = l.Vehicles.List(ctx, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
}

func TestRepository_ListWithFilter(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u1"} {
		_, err := l.Emissions.Create(ctx, schema.EmissionRecord{UserID: user, ActivityType: schema.ActivityEnergy, Amount: 1, Category: schema.CategoryIndirect})
		require.NoError(t, err)
	}

	all, err := l.Emissions.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	u1, err := l.Emissions.List(ctx, &sdk.Filter{Field: "userId", Value: "u1"})
	require.NoError(t, err)
	assert.Len(t, u1, 2)
	for _, e := range u1 {
		assert.Equal(t, "u1", e.UserID)
		assert.NotEmpty(t, e.ID)
	}
}

func TestRepository_Update(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Recommendations.Create(ctx, schema.RecommendationRecord{UserID: "u1", Category: "Energy", RecommendationText: "Insulate the attic", ImpactEstimate: 3})
	require.NoError(t, err)

	updated, err := l.Recommendations.Update(ctx, id, map[string]any{"status": "Completed"})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, updated.Status)
	assert.Equal(t, "Insulate the attic", updated.RecommendationText)

	raw, err := store.Get(ctx, schema.CollectionRecommendations, id)
	require.NoError(t, err)
	assert.Equal(t, "Completed", raw["status"])

	_, err = l.Recommendations.Update(ctx, id, map[string]any{"status": "Whenever"})
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = l.Recommendations.Update(ctx, id, map[string]any{"id": "other"})
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = l.Recommendations.Update(ctx, id, map[string]any{"priority": 1})
	require.ErrorIs(t, err, schema.ErrInvalidRecord)
	assert.True(t, strings.Contains(err.Error(), "priority"))

	_, err = l.Recommendations.Update(ctx, "missing", map[string]any{"status": "Completed"})
	assert.ErrorIs(t, err, sdk.ErrDocumentNotFound)

	got, err := l.Recommendations.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status, "rejected patches leave the record untouched")
}

func TestRepository_Delete(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Vehicles.Create(ctx, schema.VehicleRecord{Make: "Toyota", Model: "Prius", Year: 2020})
	require.NoError(t, err)
	require.NoError(t, l.Vehicles.Delete(ctx, id))
	require.NoError(t, l.Vehicles.Delete(ctx, id))

	_, err = l.Vehicles.Get(ctx, id)
	assert.ErrorIs(t, err, sdk.ErrDocumentNotFound)
}

func TestFilterField(t *testing.T) {
	f, ok := FilterField(schema.CollectionEmissions)
	assert.True(t, ok)
	assert.Equal(t, "userId", f)

	f, ok = FilterField(schema.CollectionEmissionFactors)
	assert.True(t, ok)
	assert.Equal(t, "activityType", f)

	_, ok = FilterField(schema.CollectionUsers)
	assert.False(t, ok)
}
