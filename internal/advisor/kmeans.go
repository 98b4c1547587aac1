package advisor

const maxIterations = 100

// kmeans clusters points into at most k clusters and returns the assignment
// and the number of clusters used. Seeding is deterministic: the group with
// the largest total first, then repeatedly the point farthest from every
// chosen centroid. Identical points never seed separate clusters.
func kmeans(points [][]float64, k int, groups []activityGroup) ([]int, int) {
	if len(points) == 0 || k <= 0 {
		return nil, 0
	}

	first := 0
	for i := range groups {
		if groups[i].total > groups[first].total {
			first = i
		}
	}
	centroids := [][]float64{clonePoint(points[first])}
	for len(centroids) < k {
		far, farDist := -1, 0.0
		for i, p := range points {
			_, d := nearest(p, centroids)
			if d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			break
		}
		centroids = append(centroids, clonePoint(points[far]))
	}
	k = len(centroids)

	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}
	for range maxIterations {
		changed := false
		for i, p := range points {
			c, _ := nearest(p, centroids)
			if assign[i] != c {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assign[i]
			if sums[c] == nil {
				sums[c] = make([]float64, len(p))
			}
			for j, v := range p {
				sums[c][j] += v
			}
			counts[c]++
		}
		for c := range centroids {
			// An emptied cluster keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return assign, k
}

// nearest returns the index of the closest centroid, lowest index on ties,
// and the squared distance to it.
func nearest(p []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, -1.0
	for c, centroid := range centroids {
		var d float64
		for j := range p {
			diff := p[j] - centroid[j]
			d += diff * diff
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func clonePoint(p []float64) []float64 {
	return append([]float64(nil), p...)
}
