package models

import "github.com/google/uuid"

// Player is one participant of a game. Players are never removed from a game;
// leaving only clears Connected.
type Player struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	IsHost     bool      `json:"isHost"`
	Connected  bool      `json:"connected"`

	// RankedTracks is ordered by preference; index 0 is the player's favourite.
	RankedTracks []Track `json:"rankedTracks"`
}
