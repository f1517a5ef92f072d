package game

import "time"

// Scoring constants for a correct guess.
const (
	BasePoints       = 100
	PenaltyPerSecond = 2
)

// MinPoints is the least a correct guess can score in a round lasting
// durationSec seconds. It never drops below zero.
func MinPoints(durationSec int) int {
	return max(0, BasePoints-durationSec*PenaltyPerSecond)
}

// Score returns the points for a correct guess made elapsed after the round
// started. Time is counted in whole seconds, rounding down.
func Score(elapsed time.Duration, durationSec int) int {
	seconds := int(max(0, elapsed.Milliseconds()) / 1000)
	return max(MinPoints(durationSec), BasePoints-seconds*PenaltyPerSecond)
}
