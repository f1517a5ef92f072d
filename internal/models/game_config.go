package models

// GameConfig captures the settings chosen at game creation. It is immutable
// afterwards; GameState.TotalRounds holds the effective round count.
type GameConfig struct {
	// TotalRounds is the requested number of rounds.
	TotalRounds int `json:"totalRounds"`

	// RoundDurationSec is how long a round's countdown lasts on the clients.
	// It also fixes the scoring floor.
	RoundDurationSec int `json:"roundDurationSec"`

	// TimeRange selects which listening history the track source reads:
	// "short_term", "medium_term" or "long_term".
	TimeRange string `json:"timeRange"`

	// TrackLimit bounds how many ranked tracks are fetched per player.
	TrackLimit int `json:"trackLimit"`
}

// Bounds applied by Normalize.
const (
	MinRounds      = 1
	MaxRounds      = 50
	MinDurationSec = 10
	MaxDurationSec = 120
	MaxTrackLimit  = 50
)

// DefaultGameConfig is used for settings a game is created without.
var DefaultGameConfig = GameConfig{
	TotalRounds:      10,
	RoundDurationSec: 30,
	TimeRange:        "medium_term",
	TrackLimit:       MaxTrackLimit,
}

var validTimeRanges = map[string]bool{
	"short_term":  true,
	"medium_term": true,
	"long_term":   true,
}

// Normalize fills zero values from defaults and clamps the rest into range.
func (c GameConfig) Normalize(defaults GameConfig) GameConfig {
	if c.TotalRounds == 0 {
		c.TotalRounds = defaults.TotalRounds
	}
	if c.RoundDurationSec == 0 {
		c.RoundDurationSec = defaults.RoundDurationSec
	}
	if c.TrackLimit == 0 {
		c.TrackLimit = defaults.TrackLimit
	}
	if !validTimeRanges[c.TimeRange] {
		c.TimeRange = defaults.TimeRange
	}
	c.TotalRounds = clamp(c.TotalRounds, MinRounds, MaxRounds)
	c.RoundDurationSec = clamp(c.RoundDurationSec, MinDurationSec, MaxDurationSec)
	c.TrackLimit = clamp(c.TrackLimit, 1, MaxTrackLimit)
	return c
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
