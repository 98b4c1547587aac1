// Package advisor is the reference scoring process. It clusters each user's
// emissions per activity type and turns the clusters into reduction advice.
package advisor

import (
	"cmp"
	"encoding/json"
	"io"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// Emission is one element of the scorer's input array.
type Emission struct {
	UserID       string    `json:"userId"`
	ActivityType string    `json:"activityType"`
	Amount       float64   `json:"amount"`
	Unit         string    `json:"unit"`
	Timestamp    time.Time `json:"timestamp"`
}

// Recommendation is one element of the scorer's output array.
type Recommendation struct {
	UserID             string  `json:"userId"`
	Category           string  `json:"category"`
	RecommendationText string  `json:"recommendationText"`
	ImpactEstimate     float64 `json:"impactEstimate"` // kg CO2 per month
}

// Level is the relative emission level of a cluster.
type Level int

const (
	High Level = iota
	Medium
	Low
)

const maxClusters = 3

// advice for a level and activity type; the share is applied to the group total.
type advice struct {
	category string
	text     string
	share    float64
}

var rules = map[Level]map[string]advice{
	High: {
		"Transportation": {"Transportation", "Consider using public transportation or carpooling to reduce your transportation emissions.", 0.3},
		"Energy":         {"Energy", "Switch to energy-efficient appliances and consider renewable energy sources.", 0.25},
	},
	Medium: {
		"Daily Habits": {"Daily Habits", "Reduce single-use plastics and practice recycling to lower your daily emissions.", 0.2},
	},
}

var lowAdvice = advice{"General", "Great job on maintaining low emissions! Consider sharing your sustainable practices with others.", 0}

// Run reads an emission array from r and writes the recommendation array to w.
func Run(r io.Reader, w io.Writer) error {
	var emissions []Emission
	dec := json.NewDecoder(r)
	if err := dec.Decode(&emissions); err != nil {
		return eris.Wrap(err, "advisor: decode emissions")
	}
	if dec.More() {
		return eris.New("advisor: trailing data after emission array")
	}
	for i, e := range emissions {
		if e.UserID == "" || e.ActivityType == "" {
			return eris.Errorf("advisor: emission %d: userId and activityType are required", i)
		}
		if e.Timestamp.IsZero() {
			return eris.Errorf("advisor: emission %d: timestamp is required", i)
		}
	}

	out, err := json.Marshal(Advise(emissions))
	if err != nil {
		return eris.Wrap(err, "advisor: encode recommendations")
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// Advise returns the recommendations for a batch of emissions. The result
// depends only on the input; it never returns nil.
func Advise(emissions []Emission) []Recommendation {
	groups := group(emissions)
	recs := make([]Recommendation, 0, len(groups))
	if len(groups) == 0 {
		return recs
	}

	levels := classify(groups)
	for i, g := range groups {
		a := lowAdvice
		if levels[i] != Low {
			var ok bool
			if a, ok = rules[levels[i]][g.activityType]; !ok {
				continue
			}
		}
		recs = append(recs, Recommendation{
			UserID:             g.userID,
			Category:           a.category,
			RecommendationText: a.text,
			ImpactEstimate:     round2(g.total * a.share),
		})
	}
	return recs
}

// classify clusters the groups and ranks the clusters by their mean total.
// With fewer than three clusters the lowest ranked is Low.
func classify(groups []activityGroup) []Level {
	points := standardize(features(groups))
	assign, k := kmeans(points, min(maxClusters, len(points)), groups)

	means := make([]float64, k)
	counts := make([]int, k)
	for i, c := range assign {
		means[c] += groups[i].total
		counts[c]++
	}
	order := make([]int, k)
	for c := range k {
		if counts[c] > 0 {
			means[c] /= float64(counts[c])
		}
		order[c] = c
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(means[b], means[a]) })

	rank := make([]Level, k)
	for pos, c := range order {
		switch {
		case pos == k-1 && k > 1:
			rank[c] = Low
		case pos == 0:
			rank[c] = High
		default:
			rank[c] = Medium
		}
	}

	levels := make([]Level, len(groups))
	for i, c := range assign {
		levels[i] = rank[c]
	}
	return levels
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
