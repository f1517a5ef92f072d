package game

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/models"
)

// GameEventType names a broadcast sent to every subscriber of a game.
type GameEventType string

const (
	EventPlayerJoined  GameEventType = "player-joined"
	EventPlayerLeft    GameEventType = "player-left"
	EventGameStarted   GameEventType = "game-started"
	EventRoundStart    GameEventType = "round-start"
	EventPlayerGuessed GameEventType = "player-guessed"
	EventPlayerHearted GameEventType = "player-hearted"
	EventRoundEnd      GameEventType = "round-end"
	EventTimerExpired  GameEventType = "timer-expired"
	EventGameOver      GameEventType = "game-over"

	// EventSync carries a full GameView to a newly connected client.
	EventSync GameEventType = "sync"
)

// GameEvent is the envelope published for every state change. Payloads are
// small per-event DTOs built from the state; the full GameState, track
// libraries and song pool are never broadcast.
type GameEvent struct {
	Type    GameEventType `json:"type"`
	Payload any           `json:"payload,omitempty"`
}

// PlayerView is the public part of a player.
type PlayerView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsHost    bool      `json:"isHost"`
	Connected bool      `json:"connected"`
}

// RoundView is the public part of a round. The owner is only filled in once
// the round is complete.
type RoundView struct {
	Number     int                `json:"number"`
	Status     models.RoundStatus `json:"status"`
	Track      models.Track       `json:"track"`
	OwnerID    *uuid.UUID         `json:"ownerId,omitempty"`
	OwnerName  string             `json:"ownerName,omitempty"`
	GuessCount int                `json:"guessCount"`
	HeartCount int                `json:"heartCount"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
}

// GameView is what clients see of a game.
type GameView struct {
	Code        string            `json:"code"`
	HostID      uuid.UUID         `json:"hostId"`
	Status      models.GameStatus `json:"status"`
	Config      models.GameConfig `json:"config"`
	Players     []PlayerView      `json:"players"`
	TotalRounds int               `json:"totalRounds"`
	Scores      map[uuid.UUID]int `json:"scores"`
	HeartTotals map[uuid.UUID]int `json:"heartTotals"`
	Round       *RoundView        `json:"round,omitempty"`
}

type RoundStartPayload struct {
	Number      int          `json:"number"`
	TotalRounds int          `json:"totalRounds"`
	StartedAt   time.Time    `json:"startedAt"`
	DurationSec int          `json:"durationSec"`
	Track       models.Track `json:"track"`
}

type GuessPayload struct {
	PlayerID   uuid.UUID `json:"playerId"`
	GuessCount int       `json:"guessCount"`
	AllGuessed bool      `json:"allGuessed"`
}

type HeartPayload struct {
	PlayerID uuid.UUID `json:"playerId"`
	Count    int       `json:"count"`
}

type RoundEndPayload struct {
	Number      int                     `json:"number"`
	Track       models.Track            `json:"track"`
	OwnerID     uuid.UUID               `json:"ownerId"`
	OwnerName   string                  `json:"ownerName"`
	Guesses     map[uuid.UUID]uuid.UUID `json:"guesses"`
	RoundScores map[uuid.UUID]int       `json:"roundScores"`
	Scores      map[uuid.UUID]int       `json:"scores"`
	HeartTotals map[uuid.UUID]int       `json:"heartTotals"`
}

type TimerExpiredPayload struct {
	Number int `json:"number"`
}

// Standing is one line of the final ranking.
type Standing struct {
	PlayerID uuid.UUID `json:"playerId"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	Hearts   int       `json:"hearts"`
}

type GameOverPayload struct {
	Ranking     []Standing        `json:"ranking"`
	Scores      map[uuid.UUID]int `json:"scores"`
	HeartTotals map[uuid.UUID]int `json:"heartTotals"`
}

func newPlayerView(p *models.Player) PlayerView {
	return PlayerView{ID: p.ID, Name: p.Name, IsHost: p.IsHost, Connected: p.Connected}
}

// NewRoundView projects a round onto its public shape.
func NewRoundView(r *models.Round) *RoundView {
	v := &RoundView{
		Number:     r.Number,
		Status:     r.Status,
		Track:      r.Song.Track,
		GuessCount: len(r.Guesses),
		HeartCount: len(r.Hearts),
	}
	if !r.StartedAt.IsZero() {
		started := r.StartedAt
		v.StartedAt = &started
	}
	if r.Status == models.RoundComplete {
		owner := r.Song.OwnerID
		v.OwnerID = &owner
		v.OwnerName = r.Song.OwnerName
	}
	return v
}

// NewGameView projects a game onto its public shape.
func NewGameView(state *models.GameState) GameView {
	view := GameView{
		Code:        state.Code,
		HostID:      state.HostID,
		Status:      state.Status,
		Config:      state.Config,
		Players:     make([]PlayerView, 0, len(state.Players)),
		TotalRounds: state.TotalRounds,
		Scores:      state.Scores,
		HeartTotals: visibleHeartTotals(state),
	}
	for _, p := range state.Players {
		view.Players = append(view.Players, newPlayerView(p))
	}
	if r := state.Current(); r != nil {
		view.Round = NewRoundView(r)
	}
	return view
}

// visibleHeartTotals leaves out the hearts of a round that has not been
// revealed, since they all land on its owner.
func visibleHeartTotals(state *models.GameState) map[uuid.UUID]int {
	r := state.Current()
	if r == nil || r.Status == models.RoundComplete || len(r.Hearts) == 0 {
		return state.HeartTotals
	}
	totals := maps.Clone(state.HeartTotals)
	totals[r.Song.OwnerID] -= len(r.Hearts)
	return totals
}

// Ranking orders players by score, highest first; ties keep join order.
func Ranking(state *models.GameState) []Standing {
	standings := make([]Standing, 0, len(state.Players))
	for _, p := range state.Players {
		standings = append(standings, Standing{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    state.Scores[p.ID],
			Hearts:   state.HeartTotals[p.ID],
		})
	}
	slices.SortStableFunc(standings, func(a, b Standing) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return standings
}
