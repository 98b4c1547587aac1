package schema

import "time"

// EmissionFactorRecord converts an activity quantity into emitted CO2.
type EmissionFactorRecord struct {
	ID             string    `json:"id,omitempty"`
	ActivityType   string    `json:"activityType"`
	SubCategory    string    `json:"subCategory"`
	Unit           string    `json:"unit"`
	EmissionFactor float64   `json:"emissionFactor"`
	Source         string    `json:"source"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

func (f EmissionFactorRecord) Validate() error {
	if err := required("activityType", f.ActivityType); err != nil {
		return err
	}
	if err := required("unit", f.Unit); err != nil {
		return err
	}
	if f.EmissionFactor < 0 {
		return invalid("emissionFactor must not be negative")
	}
	if f.LastUpdated.IsZero() {
		return invalid("lastUpdated is required")
	}
	return nil
}

func (f EmissionFactorRecord) Fields() map[string]any {
	return map[string]any{
		"activityType":   f.ActivityType,
		"subCategory":    f.SubCategory,
		"unit":           f.Unit,
		"emissionFactor": f.EmissionFactor,
		"source":         f.Source,
		"lastUpdated":    f.LastUpdated,
	}
}

func (f EmissionFactorRecord) WithDefaults(now time.Time) EmissionFactorRecord {
	f.LastUpdated = orNow(f.LastUpdated, now)
	return f
}
