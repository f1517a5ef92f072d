package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/sirupsen/logrus"
)

// Manager applies game commands against the shared store. It keeps no game
// state between calls: every command loads the full record, checks that the
// transition is legal for the persisted status, writes the record back and
// then publishes events.
//
// Writes are not compare-and-swap. Commands that can race (ending a round,
// advancing, starting a round) are guarded by the persisted status so a
// repeated application returns ErrAlreadyApplied instead of applying twice.
type Manager struct {
	store    Store
	notifier Notifier
	logger   *logrus.Logger

	// Previews, if set, fills in audio for the songs picked at game start.
	Previews PreviewResolver

	// Defaults fills in and bounds the config of new games.
	Defaults models.GameConfig

	// Now is the clock for round starts and guess timestamps.
	Now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager builds a Manager. A nil notifier drops events.
func NewManager(store Store, notifier Notifier, logger *logrus.Logger) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logger,
		Defaults: models.DefaultGameConfig,
		Now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes song pool shuffles reproducible.
func (m *Manager) Seed(seed int64) {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	m.rng = rand.New(rand.NewSource(seed))
}

// CreateGame opens a lobby with host as its only player. cfg is normalized
// against m.Defaults first.
func (m *Manager) CreateGame(ctx context.Context, host *models.Player, cfg models.GameConfig) (*models.GameState, error) {
	cfg = cfg.Normalize(m.Defaults)
	code, err := uniqueCode(ctx, m.store)
	if err != nil {
		return nil, err
	}

	if host.ID == uuid.Nil {
		host.ID = uuid.New()
	}
	host.IsHost = true
	host.Connected = true

	state := &models.GameState{
		Code:        code,
		HostID:      host.ID,
		Status:      models.StatusLobby,
		Config:      cfg,
		Players:     []*models.Player{host},
		Rounds:      []*models.Round{},
		TotalRounds: cfg.TotalRounds,
		Scores:      map[uuid.UUID]int{host.ID: 0},
		HeartTotals: map[uuid.UUID]int{host.ID: 0},
		SongPool:    []models.RoundSong{},
		CreatedAt:   m.Now(),
	}
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": code, "host": host.ID}).Info("game created")
	return state, nil
}

// GetGame returns the persisted state of a game.
func (m *Manager) GetGame(ctx context.Context, code string) (*models.GameState, error) {
	return m.load(ctx, code)
}

// AddPlayer joins a player to a lobby. A player whose ExternalID is already in
// the roster is merged into the existing entry, so rejoining is idempotent;
// player.ID is set to the id the player holds in the game.
func (m *Manager) AddPlayer(ctx context.Context, code string, player *models.Player) (*models.GameState, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if state.Status != models.StatusLobby {
		return nil, fmt.Errorf("joining game %s in status %s: %w", code, state.Status, ErrGameState)
	}

	joined := state.PlayerByExternalID(player.ExternalID)
	if player.ExternalID != "" && joined != nil {
		joined.Connected = true
		joined.RankedTracks = player.RankedTracks
		if player.Name != "" {
			joined.Name = player.Name
		}
		player.ID = joined.ID
		player.IsHost = joined.IsHost
	} else {
		if player.ID == uuid.Nil || state.PlayerByID(player.ID) != nil {
			player.ID = uuid.New()
		}
		player.IsHost = false
		player.Connected = true
		state.Players = append(state.Players, player)
		state.Scores[player.ID] = 0
		state.HeartTotals[player.ID] = 0
		joined = player
	}

	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": code, "player": joined.ID, "tracks": len(joined.RankedTracks)}).Info("player joined")
	m.publish(ctx, code, EventPlayerJoined, newPlayerView(joined))
	return state, nil
}

// RemovePlayer marks a player disconnected. The player keeps their place in the
// roster along with their guesses and score.
func (m *Manager) RemovePlayer(ctx context.Context, code string, playerID uuid.UUID) (*models.GameState, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	p := state.PlayerByID(playerID)
	if p == nil {
		return nil, fmt.Errorf("player %s in game %s: %w", playerID, code, ErrPlayerNotFound)
	}
	if !p.Connected {
		return state, nil
	}

	p.Connected = false
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": code, "player": playerID}).Info("player left")
	m.publish(ctx, code, EventPlayerLeft, newPlayerView(p))
	return state, nil
}

// StartGame builds the song pool and moves the game out of the lobby with its
// first round waiting. Only the host may start. An empty pool leaves the game
// in the lobby with ErrInsufficientContent.
func (m *Manager) StartGame(ctx context.Context, code string, requesterID uuid.UUID) (*models.GameState, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if requesterID != state.HostID {
		return nil, fmt.Errorf("starting game %s: %w", code, ErrUnauthorized)
	}
	if state.Status != models.StatusLobby {
		return nil, fmt.Errorf("starting game %s in status %s: %w", code, state.Status, ErrGameState)
	}

	m.rngMu.Lock()
	pool := BuildSongPool(state.Players, state.TotalRounds, m.rng)
	m.rngMu.Unlock()
	if len(pool) == 0 {
		return nil, fmt.Errorf("starting game %s: %w", code, ErrInsufficientContent)
	}
	m.resolvePreviews(ctx, code, pool)

	state.SongPool = pool
	state.TotalRounds = min(state.TotalRounds, len(pool))
	state.Status = models.StatusPlaying
	state.CurrentRound = 0
	for _, p := range state.Players {
		state.HeartTotals[p.ID] = 0
	}
	state.Rounds = []*models.Round{models.NewRound(1, pool[0])}

	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": code, "rounds": state.TotalRounds, "players": len(state.Players)}).Info("game started")
	m.publish(ctx, code, EventGameStarted, NewGameView(state))
	return state, nil
}

// StartRound starts the countdown of the current round. If the round is
// already playing it is returned unchanged along with ErrAlreadyApplied, so
// the scoring clock is never reset.
func (m *Manager) StartRound(ctx context.Context, code string) (*models.Round, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if state.Status != models.StatusPlaying {
		return nil, fmt.Errorf("starting round of game %s in status %s: %w", code, state.Status, ErrGameState)
	}

	round := state.Current()
	if round == nil {
		return nil, fmt.Errorf("game %s has no current round: %w", code, ErrRoundState)
	}
	switch round.Status {
	case models.RoundPlaying:
		return round, ErrAlreadyApplied
	case models.RoundWaiting:
	default:
		return nil, fmt.Errorf("starting round %d of game %s in status %s: %w", round.Number, code, round.Status, ErrRoundState)
	}

	round.Status = models.RoundPlaying
	round.StartedAt = m.Now()
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": code, "round": round.Number}).Info("round started")
	m.publish(ctx, code, EventRoundStart, RoundStartPayload{
		Number:      round.Number,
		TotalRounds: state.TotalRounds,
		StartedAt:   round.StartedAt,
		DurationSec: state.Config.RoundDurationSec,
		Track:       round.Song.Track,
	})
	return round, nil
}

// NextRound advances past the round numbered afterRound, which must be the
// current round and complete. It appends the next round in waiting status and
// returns it, or finishes the game and returns nil after the last round.
// A stale afterRound, or a game that already finished, yields ErrAlreadyApplied.
func (m *Manager) NextRound(ctx context.Context, code string, afterRound int) (*models.Round, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	switch state.Status {
	case models.StatusFinished:
		return nil, ErrAlreadyApplied
	case models.StatusPlaying:
	default:
		return nil, fmt.Errorf("advancing game %s in status %s: %w", code, state.Status, ErrGameState)
	}

	current := state.Current()
	if current == nil {
		return nil, fmt.Errorf("game %s has no current round: %w", code, ErrRoundState)
	}
	if afterRound < current.Number {
		return nil, ErrAlreadyApplied
	}
	if afterRound > current.Number || current.Status != models.RoundComplete {
		return nil, fmt.Errorf("advancing past round %d of game %s (current %d, %s): %w",
			afterRound, code, current.Number, current.Status, ErrRoundState)
	}

	if state.CurrentRound+1 >= state.TotalRounds {
		state.Status = models.StatusFinished
		if err := m.save(ctx, state); err != nil {
			return nil, err
		}
		m.logger.WithFields(logrus.Fields{"code": code, "rounds": state.TotalRounds}).Info("game over")
		m.publish(ctx, code, EventGameOver, GameOverPayload{
			Ranking:     Ranking(state),
			Scores:      state.Scores,
			HeartTotals: state.HeartTotals,
		})
		return nil, nil
	}

	state.CurrentRound++
	next := models.NewRound(state.CurrentRound+1, state.SongPool[state.CurrentRound])
	state.Rounds = append(state.Rounds, next)
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": code, "round": next.Number}).Debug("round queued")
	return next, nil
}

// resolvePreviews asks the preview resolver for audio on every song that has
// none yet. Songs without a preview stay in the pool.
func (m *Manager) resolvePreviews(ctx context.Context, code string, pool []models.RoundSong) {
	if m.Previews == nil {
		return
	}
	for i := range pool {
		if pool[i].Track.Playable() {
			continue
		}
		if url, ok := m.Previews.Resolve(ctx, pool[i].Track); ok {
			pool[i].Track.PreviewURL = url
			continue
		}
		m.logger.WithFields(logrus.Fields{"code": code, "track": pool[i].Track.ID}).Debug("no preview available")
	}
}

func (m *Manager) load(ctx context.Context, code string) (*models.GameState, error) {
	state, err := m.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("loading game %s: %w", code, err)
	}
	return state, nil
}

func (m *Manager) save(ctx context.Context, state *models.GameState) error {
	if err := m.store.Set(ctx, state); err != nil {
		return fmt.Errorf("saving game %s: %w", state.Code, err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, code string, typ GameEventType, payload any) {
	m.logger.WithFields(logrus.Fields{"code": code, "event": typ}).Debug("publishing event")
	m.notifier.Publish(ctx, code, GameEvent{Type: typ, Payload: payload})
}
