package statistical

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// KMeans clusters X into k groups with k-means++ seeding. It returns the
// cluster index of every row.
func KMeans(X [][]float64, k int, seed uint64, maxIter int) []int {
	n := len(X)
	assign := make([]int, n)
	if n == 0 || k <= 1 {
		return assign
	}
	if k > n {
		k = n
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := seedCentroids(X, k, rng)

	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, row := range X {
			best := nearest(row, centroids)
			if best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		for c := range centroids {
			for j := range centroids[c] {
				centroids[c][j] = 0
			}
		}
		for i, row := range X {
			floats.Add(centroids[assign[i]], row)
			counts[assign[i]]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				// empty cluster: restart it on a random row
				copy(centroids[c], X[rng.IntN(n)])
				continue
			}
			floats.Scale(1/float64(counts[c]), centroids[c])
		}
	}
	return assign
}

func seedCentroids(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), X[rng.IntN(len(X))]...))

	dist := make([]float64, len(X))
	for len(centroids) < k {
		total := 0.0
		for i, row := range X {
			d := floats.Distance(row, centroids[nearest(row, centroids)], 2)
			dist[i] = d * d
			total += dist[i]
		}
		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.IntN(len(X))
		}
		centroids = append(centroids, append([]float64(nil), X[pick]...))
	}
	return centroids
}

func nearest(row []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(row, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Purity is the share of rows whose label is the majority label of their cluster
func Purity(assign, labels []int) float64 {
	if len(assign) == 0 {
		return 0
	}
	counts := make(map[int]map[int]int)
	for i, c := range assign {
		if counts[c] == nil {
			counts[c] = make(map[int]int)
		}
		counts[c][labels[i]]++
	}
	majority := 0
	for _, byLabel := range counts {
		max := 0
		for _, n := range byLabel {
			if n > max {
				max = n
			}
		}
		majority += max
	}
	return float64(majority) / float64(len(assign))
}
