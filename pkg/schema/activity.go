package schema

import "time"

// ActivityDetails holds the free-form description of an activity.
type ActivityDetails struct {
	Mode        string  `json:"mode"`
	Distance    float64 `json:"distance"`
	Unit        string  `json:"unit"`
	Source      string  `json:"source"`
	Usage       string  `json:"usage"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
}

// ActivityRecord is a logged user activity with its estimated emissions.
type ActivityRecord struct {
	ID              string          `json:"id,omitempty"`
	UserID          string          `json:"userId"`
	Timestamp       time.Time       `json:"timestamp"`
	ActivityType    string          `json:"activityType"`
	Details         ActivityDetails `json:"details"`
	CarbonEmissions float64         `json:"carbonEmissions"`
}

func (a ActivityRecord) Validate() error {
	if err := required("userId", a.UserID); err != nil {
		return err
	}
	if err := required("activityType", a.ActivityType); err != nil {
		return err
	}
	if a.Details.Distance < 0 {
		return invalid("details.distance must not be negative")
	}
	if a.CarbonEmissions < 0 {
		return invalid("carbonEmissions must not be negative")
	}
	if a.Timestamp.IsZero() {
		return invalid("timestamp is required")
	}
	return nil
}

func (a ActivityRecord) Fields() map[string]any {
	return map[string]any{
		"userId":       a.UserID,
		"timestamp":    a.Timestamp,
		"activityType": a.ActivityType,
		"details": map[string]any{
			"mode":        a.Details.Mode,
			"distance":    a.Details.Distance,
			"unit":        a.Details.Unit,
			"source":      a.Details.Source,
			"usage":       a.Details.Usage,
			"type":        a.Details.Type,
			"description": a.Details.Description,
		},
		"carbonEmissions": a.CarbonEmissions,
	}
}

func (a ActivityRecord) WithDefaults(now time.Time) ActivityRecord {
	if a.Details.Unit == "" {
		a.Details.Unit = "km"
	}
	a.Timestamp = orNow(a.Timestamp, now)
	return a
}
