package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/sirupsen/logrus"
)

// GuessResult is returned by SubmitGuess.
type GuessResult struct {
	Round *models.Round

	// AllGuessed is true once every connected player has guessed this round.
	AllGuessed bool
}

// HeartResult is returned by SubmitHeart.
type HeartResult struct {
	Accepted bool
	Count    int

	// OwnerNoop is set when the owner hearted their own song; nothing is recorded.
	OwnerNoop bool
}

// RoundResult is returned when a round ends.
type RoundResult struct {
	Round       *models.Round
	RoundScores map[uuid.UUID]int
	Scores      map[uuid.UUID]int
	HeartTotals map[uuid.UUID]int
}

// SubmitGuess records guesserID's guess of who owns the current song. Only the
// first guess of a player in a round counts; later ones return the current
// result with ErrAlreadyApplied and leave the timestamp untouched.
func (m *Manager) SubmitGuess(ctx context.Context, code string, guesserID, guessedOwnerID uuid.UUID) (*GuessResult, error) {
	state, round, err := m.loadPlayingRound(ctx, code)
	if err != nil {
		return nil, err
	}
	if state.PlayerByID(guesserID) == nil {
		return nil, fmt.Errorf("guesser %s in game %s: %w", guesserID, code, ErrPlayerNotFound)
	}
	if state.PlayerByID(guessedOwnerID) == nil {
		return nil, fmt.Errorf("guessed owner %s in game %s: %w", guessedOwnerID, code, ErrPlayerNotFound)
	}

	if _, done := round.Guesses[guesserID]; done {
		return &GuessResult{Round: round, AllGuessed: allGuessed(state, round)}, ErrAlreadyApplied
	}

	round.Guesses[guesserID] = guessedOwnerID
	round.GuessTimestamps[guesserID] = m.Now()
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	result := &GuessResult{Round: round, AllGuessed: allGuessed(state, round)}
	m.logger.WithFields(logrus.Fields{"code": code, "round": round.Number, "player": guesserID}).Debug("guess recorded")
	m.publish(ctx, code, EventPlayerGuessed, GuessPayload{
		PlayerID:   guesserID,
		GuessCount: len(round.Guesses),
		AllGuessed: result.AllGuessed,
	})
	return result, nil
}

// SubmitHeart records that playerID liked the current song. A player hearts at
// most once per round. The owner may heart their own song any number of times,
// but it is only acknowledged, never counted.
func (m *Manager) SubmitHeart(ctx context.Context, code string, playerID uuid.UUID) (*HeartResult, error) {
	state, round, err := m.loadPlayingRound(ctx, code)
	if err != nil {
		return nil, err
	}
	if state.PlayerByID(playerID) == nil {
		return nil, fmt.Errorf("player %s in game %s: %w", playerID, code, ErrPlayerNotFound)
	}

	if playerID == round.Song.OwnerID {
		return &HeartResult{Accepted: true, Count: len(round.Hearts), OwnerNoop: true}, nil
	}
	if round.HasHeart(playerID) {
		return &HeartResult{Count: len(round.Hearts)}, ErrAlreadyApplied
	}

	round.Hearts = append(round.Hearts, playerID)
	state.HeartTotals[round.Song.OwnerID]++
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.publish(ctx, code, EventPlayerHearted, HeartPayload{PlayerID: playerID, Count: len(round.Hearts)})
	return &HeartResult{Accepted: true, Count: len(round.Hearts)}, nil
}

// EndRound reveals the current round and awards points for correct guesses.
// A round is scored once: ending a round that is already over returns
// ErrAlreadyApplied and leaves the scores alone.
func (m *Manager) EndRound(ctx context.Context, code string) (*RoundResult, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	round, err := endableRound(state)
	if err != nil {
		return nil, err
	}
	return m.endRound(ctx, state, round)
}

// ExpireRound handles a client's countdown running out for round number. The
// server only acts if that round is still the one being played; a late or
// duplicate expiry returns ErrAlreadyApplied.
func (m *Manager) ExpireRound(ctx context.Context, code string, number int) (*RoundResult, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if cur := state.Current(); cur != nil && number < cur.Number {
		return nil, ErrAlreadyApplied
	}
	round, err := endableRound(state)
	if err != nil {
		return nil, err
	}
	if number > round.Number {
		return nil, fmt.Errorf("expiring round %d of game %s (current %d): %w", number, code, round.Number, ErrRoundState)
	}

	m.publish(ctx, code, EventTimerExpired, TimerExpiredPayload{Number: number})
	return m.endRound(ctx, state, round)
}

func (m *Manager) endRound(ctx context.Context, state *models.GameState, round *models.Round) (*RoundResult, error) {
	round.Status = models.RoundRevealing

	roundScores := scoreRound(state, round)
	for id, points := range roundScores {
		state.Scores[id] += points
	}
	round.Status = models.RoundComplete

	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{"code": state.Code, "round": round.Number, "guesses": len(round.Guesses)}).Info("round ended")
	m.publish(ctx, state.Code, EventRoundEnd, RoundEndPayload{
		Number:      round.Number,
		Track:       round.Song.Track,
		OwnerID:     round.Song.OwnerID,
		OwnerName:   round.Song.OwnerName,
		Guesses:     round.Guesses,
		RoundScores: roundScores,
		Scores:      state.Scores,
		HeartTotals: state.HeartTotals,
	})
	return &RoundResult{
		Round:       round,
		RoundScores: roundScores,
		Scores:      state.Scores,
		HeartTotals: state.HeartTotals,
	}, nil
}

// endableRound returns the current round if it is playing.
func endableRound(state *models.GameState) (*models.Round, error) {
	if state.Status == models.StatusLobby {
		return nil, fmt.Errorf("ending round of game %s in lobby: %w", state.Code, ErrGameState)
	}
	round := state.Current()
	if round == nil {
		return nil, fmt.Errorf("game %s has no current round: %w", state.Code, ErrRoundState)
	}
	switch round.Status {
	case models.RoundPlaying:
		return round, nil
	case models.RoundRevealing, models.RoundComplete:
		return nil, ErrAlreadyApplied
	default:
		return nil, fmt.Errorf("ending round %d of game %s in status %s: %w", round.Number, state.Code, round.Status, ErrRoundState)
	}
}

// loadPlayingRound loads a game whose current round accepts guesses and hearts.
func (m *Manager) loadPlayingRound(ctx context.Context, code string) (*models.GameState, *models.Round, error) {
	state, err := m.load(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if state.Status != models.StatusPlaying {
		return nil, nil, fmt.Errorf("game %s in status %s: %w", code, state.Status, ErrGameState)
	}
	round := state.Current()
	if round == nil || round.Status != models.RoundPlaying {
		return nil, nil, fmt.Errorf("current round of game %s is not playing: %w", code, ErrRoundState)
	}
	return state, round, nil
}

// scoreRound gives every player their points for the round: a time-decayed
// award for guessing the owner, zero otherwise.
func scoreRound(state *models.GameState, round *models.Round) map[uuid.UUID]int {
	scores := make(map[uuid.UUID]int, len(state.Players))
	for _, p := range state.Players {
		scores[p.ID] = 0
	}
	for guesser, guessed := range round.Guesses {
		if guessed != round.Song.OwnerID {
			continue
		}
		elapsed := round.GuessTimestamps[guesser].Sub(round.StartedAt)
		scores[guesser] = Score(elapsed, state.Config.RoundDurationSec)
	}
	return scores
}

// allGuessed ignores disconnected players so a round can finish without them.
func allGuessed(state *models.GameState, round *models.Round) bool {
	for _, p := range state.ConnectedPlayers() {
		if _, ok := round.Guesses[p.ID]; !ok {
			return false
		}
	}
	return true
}
