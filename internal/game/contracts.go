package game

import (
	"context"

	"github.com/jason-s-yu/whosesong/internal/models"
)

// Store persists one GameState per code. Implementations give single-key
// atomicity only; Get returns ErrGameNotFound for an absent or expired code.
type Store interface {
	Get(ctx context.Context, code string) (*models.GameState, error)
	Set(ctx context.Context, state *models.GameState) error
	Delete(ctx context.Context, code string) error
	Exists(ctx context.Context, code string) (bool, error)
}

// Notifier delivers events to every subscriber of a game. Delivery is best
// effort: implementations log and retry on their own and never report failure
// back to the engine.
type Notifier interface {
	Publish(ctx context.Context, code string, ev GameEvent)
}

// PlayerIdentity is what a player supplies to have their library read.
type PlayerIdentity struct {
	ExternalID  string
	AccessToken string
}

// TrackSource returns a player's tracks ordered by preference, most preferred first.
type TrackSource interface {
	Fetch(ctx context.Context, identity PlayerIdentity, cfg models.GameConfig) ([]models.Track, error)
}

// PreviewResolver looks up a playable audio locator for a track. ok is false
// when none exists; the track then stays in the game unplayable.
type PreviewResolver interface {
	Resolve(ctx context.Context, track models.Track) (url string, ok bool)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, string, GameEvent) {}
