// Package skip provides skip statistics and the rules that classify a track
// change as an early skip.
package skip

import (
	"math"
	"time"
)

const (
	// DefaultSkipThreshold is the number of skips after which a track is unliked.
	DefaultSkipThreshold = 5
	// DefaultProgressThreshold is the fraction of a track that must be heard
	// for a track change not to count as a skip.
	DefaultProgressThreshold = 0.42
)

// IsSkippedEarly reports whether a track left at progress was skipped early.
// The same proportional rule applies to every track length.
func IsSkippedEarly(progress, duration time.Duration, threshold float64) bool {
	return float64(progress) < float64(duration)*threshold
}

// NormalizeProgressThreshold returns threshold if it lies strictly between
// 0 and 1, or DefaultProgressThreshold otherwise. ok is false when the value
// was replaced.
func NormalizeProgressThreshold(threshold float64) (value float64, ok bool) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold >= 1 {
		return DefaultProgressThreshold, false
	}
	return threshold, true
}
