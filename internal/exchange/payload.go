package exchange

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/celerix-dev/carbon-ledger/pkg/schema"
)

// emissionPayload is one element of the array written to the scorer's stdin.
type emissionPayload struct {
	ID           string  `json:"id"`
	UserID       string  `json:"userId"`
	ActivityType string  `json:"activityType"`
	Amount       float64 `json:"amount"`
	Unit         string  `json:"unit"`
	Category     string  `json:"category"`
	Description  string  `json:"description,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

func encodePayload(emissions []schema.EmissionRecord) ([]byte, error) {
	items := make([]emissionPayload, 0, len(emissions))
	for _, e := range emissions {
		items = append(items, emissionPayload{
			ID:           e.ID,
			UserID:       e.UserID,
			ActivityType: string(e.ActivityType),
			Amount:       e.Amount,
			Unit:         string(e.Unit),
			Category:     string(e.Category),
			Description:  e.Description,
			Timestamp:    e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return json.Marshal(items)
}

// scoredItem is the shape every element of the scorer's output must have.
// Other fields, status and timestamp included, are ignored.
type scoredItem struct {
	UserID             *string  `json:"userId"`
	Category           *string  `json:"category"`
	RecommendationText *string  `json:"recommendationText"`
	ImpactEstimate     *float64 `json:"impactEstimate"`
}

// parseOutput checks that out is a JSON array of recommendation objects and
// returns each element as emitted alongside its decoded form.
func parseOutput(out []byte) ([]json.RawMessage, []scoredItem, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil, eris.New("scorer produced no output")
	}
	if trimmed[0] != '[' {
		return nil, nil, eris.New("scorer output is not a JSON array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, nil, eris.Wrap(err, "decode scorer output")
	}

	items := make([]scoredItem, len(raw))
	for i, elem := range raw {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 || elem[0] != '{' {
			return nil, nil, eris.Errorf("item %d is not an object", i)
		}
		if err := json.Unmarshal(elem, &items[i]); err != nil {
			return nil, nil, eris.Wrapf(err, "item %d", i)
		}
		switch {
		case items[i].UserID == nil:
			return nil, nil, eris.Errorf("item %d: userId is missing", i)
		case items[i].Category == nil:
			return nil, nil, eris.Errorf("item %d: category is missing", i)
		case items[i].RecommendationText == nil:
			return nil, nil, eris.Errorf("item %d: recommendationText is missing", i)
		case items[i].ImpactEstimate == nil:
			return nil, nil, eris.Errorf("item %d: impactEstimate is missing", i)
		}
		raw[i] = elem
	}
	return raw, items, nil
}

// record stamps a scored item as a new pending recommendation.
func (s scoredItem) record(now time.Time) schema.RecommendationRecord {
	return schema.RecommendationRecord{
		UserID:             *s.UserID,
		Category:           *s.Category,
		RecommendationText: *s.RecommendationText,
		ImpactEstimate:     *s.ImpactEstimate,
		Status:             schema.StatusPending,
		Timestamp:          now,
	}
}
