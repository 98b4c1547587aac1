package schema

import "time"

// VehicleRecord describes a vehicle and its rated emissions.
type VehicleRecord struct {
	ID        string  `json:"id,omitempty"`
	Make      string  `json:"make"`
	Model     string  `json:"model"`
	Year      int     `json:"year"`
	FuelType  string  `json:"fuelType"`
	Emissions float64 `json:"emissions"`
}

func (v VehicleRecord) Validate() error {
	if err := required("make", v.Make); err != nil {
		return err
	}
	if err := required("model", v.Model); err != nil {
		return err
	}
	if v.Year < 0 {
		return invalid("year must not be negative")
	}
	if v.Emissions < 0 {
		return invalid("emissions must not be negative")
	}
	return nil
}

func (v VehicleRecord) Fields() map[string]any {
	return map[string]any{
		"make":      v.Make,
		"model":     v.Model,
		"year":      v.Year,
		"fuelType":  v.FuelType,
		"emissions": v.Emissions,
	}
}

func (v VehicleRecord) WithDefaults(time.Time) VehicleRecord {
	return v
}
