package camera

import (
	"math"
	"slices"
	"time"
)

// Number of recent frame intervals kept for frame rate estimation
const fpsWindow = 31

// Given a set of consecutive frame intervals, estimate the frame rate.
// We use the median so that a single stall doesn't skew the result.
// Returns zero if there are no usable intervals.
func EstimateFPS(frameIntervals []time.Duration) float64 {
	if len(frameIntervals) == 0 {
		return 0
	}
	sorted := slices.Clone(frameIntervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid <= 0 {
		return 0
	}
	fps := float64(time.Second) / float64(mid)
	return math.Round(fps*10) / 10
}
