package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus is linear: lobby -> playing -> finished.
type GameStatus string

const (
	StatusLobby    GameStatus = "lobby"
	StatusPlaying  GameStatus = "playing"
	StatusFinished GameStatus = "finished"
)

// GameState is the full persisted record of one game, stored as a single blob
// under its code.
type GameState struct {
	Code   string     `json:"code"`
	HostID uuid.UUID  `json:"hostId"`
	Status GameStatus `json:"status"`
	Config GameConfig `json:"config"`

	Players []*Player `json:"players"`
	Rounds  []*Round  `json:"rounds"`

	CurrentRound int `json:"currentRound"`
	TotalRounds  int `json:"totalRounds"`

	Scores      map[uuid.UUID]int `json:"scores"`
	HeartTotals map[uuid.UUID]int `json:"heartTotals"`

	SongPool []RoundSong `json:"songPool"`

	CreatedAt time.Time `json:"createdAt"`
}

// PlayerByID returns the player with the given id, or nil.
func (g *GameState) PlayerByID(id uuid.UUID) *Player {
	for _, p := range g.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerByExternalID returns the player with the given external account id, or nil.
func (g *GameState) PlayerByExternalID(externalID string) *Player {
	for _, p := range g.Players {
		if p.ExternalID == externalID {
			return p
		}
	}
	return nil
}

// Current returns the active or most recent round, or nil before the game starts.
func (g *GameState) Current() *Round {
	if g.CurrentRound < 0 || g.CurrentRound >= len(g.Rounds) {
		return nil
	}
	return g.Rounds[g.CurrentRound]
}

// ConnectedPlayers returns the players currently marked connected, in join order.
func (g *GameState) ConnectedPlayers() []*Player {
	var connected []*Player
	for _, p := range g.Players {
		if p.Connected {
			connected = append(connected, p)
		}
	}
	return connected
}
