package stardetect

import (
	"math"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
)

// uniquenessRadius is the half-width of the box searched around each star
// by the uniqueness filter.
const uniquenessRadius = 1.0

// autoMinStarSize infers the smallest genuine star area from the accepted
// areas. The sorted areas are split wherever they jump by at least the median
// positive jump. A leading cluster smaller than the one after it is taken to
// be noise and its successor defines the floor. An empty input yields 0.
func autoMinStarSize(areas []int) int {
	if len(areas) == 0 {
		return 0
	}
	sorted := slices.Clone(areas)
	slices.Sort(sorted)

	var gaps []float64
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 {
			gaps = append(gaps, float64(d))
		}
	}

	clusters := [][]int{{sorted[0]}}
	if bandwidth, err := stats.Median(gaps); err == nil {
		for i := 1; i < len(sorted); i++ {
			if d := float64(sorted[i] - sorted[i-1]); d > 0 && d >= bandwidth {
				clusters = append(clusters, nil)
			}
			clusters[len(clusters)-1] = append(clusters[len(clusters)-1], sorted[i])
		}
	} else {
		clusters[0] = sorted
	}

	if len(clusters) < 2 || len(clusters[0]) >= len(clusters[1]) {
		return max(1, clusters[0][0])
	}
	return clusters[1][0]
}

// filterStars keeps the stars whose area, rounded to whole pixels, is at
// least minSize and that are alone in a small box around their position. It returns the survivors in
// input order with the number of stars dropped by each test.
func filterStars(stars []Star, minSize int) (kept []Star, undersized, duplicates int) {
	points := make([]r2.Point, len(stars))
	for i, s := range stars {
		points[i] = r2.Point{X: s.Pos.X, Y: s.Pos.Y}
	}
	index := newQuadTree(points)
	box := r2.Point{X: 2 * uniquenessRadius, Y: 2 * uniquenessRadius}

	kept = make([]Star, 0, len(stars))
	for i, s := range stars {
		if int(math.Round(s.Area)) < minSize {
			undersized++
			continue
		}
		if len(index.Search(r2.RectFromCenterSize(points[i], box))) != 1 {
			duplicates++
			continue
		}
		kept = append(kept, s)
	}
	return kept, undersized, duplicates
}

// roundedAreas returns the star areas rounded to whole pixels.
func roundedAreas(stars []Star) []int {
	out := make([]int, len(stars))
	for i, s := range stars {
		out[i] = int(math.Round(s.Area))
	}
	return out
}
