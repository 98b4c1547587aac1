package schema

import "time"

// RecommendationStatus tracks what a user did with a recommendation.
type RecommendationStatus string

const (
	StatusPending    RecommendationStatus = "Pending"
	StatusInProgress RecommendationStatus = "In Progress"
	StatusCompleted  RecommendationStatus = "Completed"
	StatusRejected   RecommendationStatus = "Rejected"
)

// RecommendationRecord is a reduction suggestion, either generated by the
// scoring process or entered by an operator.
type RecommendationRecord struct {
	ID                 string               `json:"id,omitempty"`
	UserID             string               `json:"userId"`
	Category           string               `json:"category"`
	RecommendationText string               `json:"recommendationText"`
	ImpactEstimate     float64              `json:"impactEstimate"`
	Status             RecommendationStatus `json:"status"`
	Timestamp          time.Time            `json:"timestamp"`
}

func (r RecommendationRecord) Validate() error {
	if err := required("userId", r.UserID); err != nil {
		return err
	}
	if err := required("category", r.Category); err != nil {
		return err
	}
	if err := required("recommendationText", r.RecommendationText); err != nil {
		return err
	}
	if err := oneOf("status", r.Status, StatusPending, StatusInProgress, StatusCompleted, StatusRejected); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		return invalid("timestamp is required")
	}
	return nil
}

func (r RecommendationRecord) Fields() map[string]any {
	return map[string]any{
		"userId":             r.UserID,
		"category":           r.Category,
		"recommendationText": r.RecommendationText,
		"impactEstimate":     r.ImpactEstimate,
		"status":             string(r.Status),
		"timestamp":          r.Timestamp,
	}
}

func (r RecommendationRecord) WithDefaults(now time.Time) RecommendationRecord {
	if r.Status == "" {
		r.Status = StatusPending
	}
	r.Timestamp = orNow(r.Timestamp, now)
	return r
}
