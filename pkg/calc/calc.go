// Package calc provides progress arithmetic.
package calc

import (
	"math"
	"time"
)

// Progress calculates the percentage for a given pair of numbers.
func Progress(done, total int64) int {
	if total > 0 {
		return int(math.Round(float64(done) / float64(total) * 100))
	}

	return 0
}

// Fraction returns done/total in [0, 1]; zero when total is not positive.
func Fraction(done, total int) float64 {
	if total <= 0 {
		return 0
	}

	return min(1, max(0, float64(done)/float64(total)))
}

// ETA estimates the remaining time from the elapsed time since started.
func ETA(done, total int64, started time.Time) time.Duration {
	if total > 0 && done > 0 {
		elapsed := time.Since(started)

		return time.Duration(float64(elapsed) * (float64(total)/float64(done) - 1))
	}

	return 0
}
