package records

import (
	"time"

	"github.com/celerix-dev/carbon-ledger/pkg/schema"
)

// Ledger bundles the repositories of every collection.
type Ledger struct {
	Users           *Repository[schema.UserRecord]
	Activities      *Repository[schema.ActivityRecord]
	EmissionFactors *Repository[schema.EmissionFactorRecord]
	Emissions       *Repository[schema.EmissionRecord]
	Recommendations *Repository[schema.RecommendationRecord]
	Vehicles        *Repository[schema.VehicleRecord]
}

// NewLedger wires all repositories to one store. A nil clock means time.Now.
func NewLedger(store Store, now func() time.Time) *Ledger {
	return &Ledger{
		Users:           NewRepository[schema.UserRecord](store, schema.CollectionUsers, now),
		Activities:      NewRepository[schema.ActivityRecord](store, schema.CollectionActivities, now),
		EmissionFactors: NewRepository[schema.EmissionFactorRecord](store, schema.CollectionEmissionFactors, now),
		Emissions:       NewRepository[schema.EmissionRecord](store, schema.CollectionEmissions, now),
		Recommendations: NewRepository[schema.RecommendationRecord](store, schema.CollectionRecommendations, now),
		Vehicles:        NewRepository[schema.VehicleRecord](store, schema.CollectionVehicles, now),
	}
}

// filterFields lists the one field each collection may be listed by.
var filterFields = map[string]string{
	schema.CollectionActivities:      "userId",
	schema.CollectionEmissions:       "userId",
	schema.CollectionRecommendations: "userId",
	schema.CollectionEmissionFactors: "activityType",
}

// FilterField returns the field a collection can be filtered on, if any.
func FilterField(collection string) (string, bool) {
	f, ok := filterFields[collection]
	return f, ok
}
