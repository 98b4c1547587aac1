package schema

import "time"

// ActivityType classifies what produced an emission.
type ActivityType string

const (
	ActivityTransportation ActivityType = "Transportation"
	ActivityEnergy         ActivityType = "Energy"
	ActivityDailyHabits    ActivityType = "Daily Habits"
)

// Unit is the mass unit an emission amount is recorded in.
type Unit string

const (
	UnitKilograms Unit = "kg"
	UnitTonnes    Unit = "tonnes"
)

// EmissionCategory is the GHG accounting category of an emission.
type EmissionCategory string

const (
	CategoryDirect   EmissionCategory = "Direct"
	CategoryIndirect EmissionCategory = "Indirect"
	CategoryOther    EmissionCategory = "Other"
)

// EmissionRecord is a single recorded emission. It is the input of the
// recommendation exchange.
type EmissionRecord struct {
	ID           string           `json:"id,omitempty"`
	UserID       string           `json:"userId"`
	ActivityType ActivityType     `json:"activityType"`
	Amount       float64          `json:"amount"`
	Unit         Unit             `json:"unit"`
	Category     EmissionCategory `json:"category"`
	Description  string           `json:"description,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

func (e EmissionRecord) Validate() error {
	if err := required("userId", e.UserID); err != nil {
		return err
	}
	if err := oneOf("activityType", e.ActivityType, ActivityTransportation, ActivityEnergy, ActivityDailyHabits); err != nil {
		return err
	}
	if e.Amount < 0 {
		return invalid("amount must not be negative")
	}
	if err := oneOf("unit", e.Unit, UnitKilograms, UnitTonnes); err != nil {
		return err
	}
	if err := oneOf("category", e.Category, CategoryDirect, CategoryIndirect, CategoryOther); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return invalid("timestamp is required")
	}
	return nil
}

func (e EmissionRecord) Fields() map[string]any {
	return map[string]any{
		"userId":       e.UserID,
		"activityType": string(e.ActivityType),
		"amount":       e.Amount,
		"unit":         string(e.Unit),
		"category":     string(e.Category),
		"description":  e.Description,
		"timestamp":    e.Timestamp,
	}
}

func (e EmissionRecord) WithDefaults(now time.Time) EmissionRecord {
	if e.Unit == "" {
		e.Unit = UnitKilograms
	}
	e.Timestamp = orNow(e.Timestamp, now)
	return e
}

// AmountKg returns the amount normalised to kilograms.
func (e EmissionRecord) AmountKg() float64 {
	if e.Unit == UnitTonnes {
		return e.Amount * 1000
	}
	return e.Amount
}
