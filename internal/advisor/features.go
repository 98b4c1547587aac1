package advisor

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// activityGroup aggregates the emissions of one user and activity type.
type activityGroup struct {
	userID       string
	activityType string
	total        float64
	count        int
	months       map[time.Month]struct{}
	weekdays     map[time.Weekday]struct{}
}

func (g *activityGroup) mean() float64 {
	return g.total / float64(g.count)
}

// group aggregates emissions by user and activity type, ordered by key.
// Amounts recorded in tonnes are converted to kilograms.
func group(emissions []Emission) []activityGroup {
	type key struct{ user, activity string }
	index := make(map[key]int)
	var groups []activityGroup

	for _, e := range emissions {
		k := key{e.UserID, e.ActivityType}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, activityGroup{
				userID:       e.UserID,
				activityType: e.ActivityType,
				months:       make(map[time.Month]struct{}),
				weekdays:     make(map[time.Weekday]struct{}),
			})
		}
		amount := e.Amount
		if e.Unit == "tonnes" {
			amount *= 1000
		}
		g := &groups[i]
		g.total += amount
		g.count++
		ts := e.Timestamp.UTC()
		g.months[ts.Month()] = struct{}{}
		g.weekdays[ts.Weekday()] = struct{}{}
	}

	slices.SortFunc(groups, func(a, b activityGroup) int {
		return cmp.Or(cmp.Compare(a.userID, b.userID), cmp.Compare(a.activityType, b.activityType))
	})
	return groups
}

// features returns sum, mean, count, distinct months and distinct weekdays per group.
func features(groups []activityGroup) [][]float64 {
	rows := make([][]float64, len(groups))
	for i := range groups {
		g := &groups[i]
		rows[i] = []float64{
			g.total,
			g.mean(),
			float64(g.count),
			float64(len(g.months)),
			float64(len(g.weekdays)),
		}
	}
	return rows
}

// standardize scales every column to zero mean and unit population variance.
// Constant columns become zero.
func standardize(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return rows
	}
	n := float64(len(rows))
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = make([]float64, len(rows[i]))
	}

	for col := range rows[0] {
		var mean float64
		for _, r := range rows {
			mean += r[col]
		}
		mean /= n

		var variance float64
		for _, r := range rows {
			d := r[col] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / n)

		for i, r := range rows {
			if std == 0 {
				continue
			}
			out[i][col] = (r[col] - mean) / std
		}
	}
	return out
}
