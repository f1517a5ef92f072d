package models

import "github.com/google/uuid"

// Track is an opaque reference to a song in an external music library.
type Track struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`

	// PreviewURL is empty when no playable audio could be resolved.
	PreviewURL string `json:"previewUrl,omitempty"`
}

// Playable reports whether the track has an audio locator.
func (t Track) Playable() bool {
	return t.PreviewURL != ""
}

// RoundSong pairs a track with the single player it is attributed to.
type RoundSong struct {
	Track     Track     `json:"track"`
	OwnerID   uuid.UUID `json:"ownerId"`
	OwnerName string    `json:"ownerName"`
}
