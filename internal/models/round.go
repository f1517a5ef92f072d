package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RoundStatus only moves forward: waiting -> playing -> revealing -> complete.
type RoundStatus string

const (
	RoundWaiting   RoundStatus = "waiting"
	RoundPlaying   RoundStatus = "playing"
	RoundRevealing RoundStatus = "revealing"
	RoundComplete  RoundStatus = "complete"
)

// Round is a single guessing round.
type Round struct {
	Number int         `json:"number"` // 1-indexed
	Song   RoundSong   `json:"song"`
	Status RoundStatus `json:"status"`

	// Guesses maps guesser -> guessed owner.
	Guesses         map[uuid.UUID]uuid.UUID `json:"guesses"`
	GuessTimestamps map[uuid.UUID]time.Time `json:"guessTimestamps"`

	// Hearts never contains the song owner.
	Hearts []uuid.UUID `json:"hearts"`

	StartedAt time.Time `json:"startedAt"`
}

// NewRound builds a round in waiting status for the given song.
func NewRound(number int, song RoundSong) *Round {
	return &Round{
		Number:          number,
		Song:            song,
		Status:          RoundWaiting,
		Guesses:         make(map[uuid.UUID]uuid.UUID),
		GuessTimestamps: make(map[uuid.UUID]time.Time),
		Hearts:          []uuid.UUID{},
	}
}

// HasHeart reports whether playerID already hearted this round.
func (r *Round) HasHeart(playerID uuid.UUID) bool {
	return slices.Contains(r.Hearts, playerID)
}
