package app

import (
	"math"
	"time"
)

// DefaultBaseScore is the award for an instant correct answer.
const DefaultBaseScore = 1000

// Award converts an answer outcome into points. Incorrect answers earn nothing;
// correct answers earn baseScore scaled down linearly by how much of the window was used.
// Latency is clamped to [0, window] so the result is always within [0, baseScore].
func Award(correct bool, latency, window time.Duration, baseScore int) int {
	if !correct || baseScore <= 0 {
		return 0
	}
	if window <= 0 {
		return baseScore
	}
	if latency < 0 {
		latency = 0
	}
	if latency > window {
		latency = window
	}
	points := math.Round(float64(baseScore) * (1 - float64(latency)/float64(window)))
	if points < 0 {
		return 0
	}
	return int(points)
}
