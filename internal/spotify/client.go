// Package spotify reads players' listening history and song previews from the
// Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxTopTracks is the most the top-items endpoint returns in one page.
const maxTopTracks = 50

var ErrNoAccessToken = errors.New("spotify access token required")

var (
	_ game.TrackSource     = (*Source)(nil)
	_ game.PreviewResolver = (*PreviewResolver)(nil)
)

// Source reads a player's top tracks with the access token the player
// supplied when joining.
type Source struct {
	options []spotify.ClientOption
}

// NewSource returns a Source. Options are passed to every client it builds.
func NewSource(opts ...spotify.ClientOption) *Source {
	return &Source{options: opts}
}

// Fetch returns the player's top tracks for cfg.TimeRange, most listened first.
func (s *Source) Fetch(ctx context.Context, identity game.PlayerIdentity, cfg models.GameConfig) ([]models.Track, error) {
	if identity.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: identity.AccessToken}))
	api := spotify.New(httpClient, append([]spotify.ClientOption{spotify.WithRetry(true)}, s.options...)...)

	limit := cfg.TrackLimit
	if limit <= 0 || limit > maxTopTracks {
		limit = maxTopTracks
	}
	opts := []spotify.RequestOption{spotify.Limit(limit)}
	if cfg.TimeRange != "" {
		opts = append(opts, spotify.Timerange(spotify.Range(cfg.TimeRange)))
	}

	page, err := api.CurrentUsersTopTracks(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetching top tracks: %w", err)
	}

	tracks := make([]models.Track, 0, len(page.Tracks))
	for _, ft := range page.Tracks {
		// Local files have no catalog id to attribute.
		if ft.ID == "" {
			continue
		}
		tracks = append(tracks, convertTrack(ft))
	}
	return tracks, nil
}

// PreviewResolver looks up preview clips with an app-level token, for tracks
// whose listing came back without one.
type PreviewResolver struct {
	api    *spotify.Client
	logger *logrus.Logger
}

// NewPreviewResolver authenticates with the client credentials flow.
func NewPreviewResolver(ctx context.Context, clientID, clientSecret string, logger *logrus.Logger, opts ...spotify.ClientOption) *PreviewResolver {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	api := spotify.New(cfg.Client(ctx), append([]spotify.ClientOption{spotify.WithRetry(true)}, opts...)...)
	return NewPreviewResolverWithClient(api, logger)
}

func NewPreviewResolverWithClient(api *spotify.Client, logger *logrus.Logger) *PreviewResolver {
	return &PreviewResolver{api: api, logger: logger}
}

func (r *PreviewResolver) Resolve(ctx context.Context, track models.Track) (string, bool) {
	ft, err := r.api.GetTrack(ctx, spotify.ID(track.ID))
	if err != nil {
		r.logger.WithField("track", track.ID).Warnf("preview lookup failed: %v", err)
		return "", false
	}
	if ft.PreviewURL == "" {
		return "", false
	}
	return ft.PreviewURL, true
}

// convertTrack converts a Spotify FullTrack to models.Track.
func convertTrack(ft spotify.FullTrack) models.Track {
	artists := make([]string, len(ft.Artists))
	for i, a := range ft.Artists {
		artists[i] = a.Name
	}

	t := models.Track{
		ID:         ft.ID.String(),
		Name:       ft.Name,
		Artists:    artists,
		Album:      ft.Album.Name,
		PreviewURL: ft.PreviewURL,
	}
	if len(ft.Album.Images) > 0 {
		t.ImageURL = ft.Album.Images[0].URL
	}
	return t
}
