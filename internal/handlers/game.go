// internal/handlers/game.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/auth"
	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/sirupsen/logrus"
)

// joinRequest is the body of createGame and addPlayerToGame. Config is only
// read on create.
type joinRequest struct {
	Name        string             `json:"name"`
	ExternalID  string             `json:"externalId"`
	AccessToken string             `json:"accessToken"`
	Config      *models.GameConfig `json:"config,omitempty"`
}

type sessionResponse struct {
	Code     string        `json:"code"`
	PlayerID uuid.UUID     `json:"playerId"`
	Token    string        `json:"token"`
	Game     game.GameView `json:"game"`
}

type roundResultResponse struct {
	Round       *game.RoundView   `json:"round"`
	RoundScores map[uuid.UUID]int `json:"roundScores"`
	Scores      map[uuid.UUID]int `json:"scores"`
	HeartTotals map[uuid.UUID]int `json:"heartTotals"`
}

type nextRoundRequest struct {
	AfterRound int `json:"afterRound"`
}

type nextRoundResponse struct {
	Round    *game.RoundView `json:"round"`
	Finished bool            `json:"finished"`
}

type guessRequest struct {
	GuessedOwnerID uuid.UUID `json:"guessedOwnerId"`
}

type guessResponse struct {
	GuessCount int  `json:"guessCount"`
	AllGuessed bool `json:"allGuessed"`
	RoundEnded bool `json:"roundEnded"`
}

type heartResponse struct {
	Accepted  bool `json:"accepted"`
	Count     int  `json:"count"`
	OwnerNoop bool `json:"ownerNoop"`
}

// CreateGameHandler opens a lobby with the caller as host. The host's tracks
// are read from the track source before the game exists.
func CreateGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		var cfg models.GameConfig
		if req.Config != nil {
			cfg = *req.Config
		}
		cfg = cfg.Normalize(gs.Defaults)

		host, err := gs.newPlayer(r.Context(), req, cfg)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		state, err := gs.Manager.CreateGame(r.Context(), host, cfg)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		gs.writeSession(w, r, http.StatusCreated, state, host.ID)
	}
}

func GetGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := gs.Manager.GetGame(r.Context(), gameCode(r))
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, game.NewGameView(state))
	}
}

// JoinGameHandler adds the caller to a lobby, or reconnects them if their
// external id already joined.
func JoinGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := gameCode(r)
		var req joinRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}

		// Checked up front so a late joiner doesn't cost a track fetch.
		state, err := gs.Manager.GetGame(r.Context(), code)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		if state.Status != models.StatusLobby {
			writeError(w, gs.Logger, r, fmt.Errorf("joining game %s: %w", code, game.ErrGameState))
			return
		}

		player, err := gs.newPlayer(r.Context(), req, state.Config)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		state, err = gs.Manager.AddPlayer(r.Context(), code, player)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		gs.writeSession(w, r, http.StatusOK, state, player.ID)
	}
}

func LeaveGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := authenticate(r)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		if _, err := gs.Manager.RemovePlayer(r.Context(), gameCode(r), playerID); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func StartGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := authenticate(r)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		state, err := gs.Manager.StartGame(r.Context(), gameCode(r), playerID)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, game.NewGameView(state))
	}
}

func StartRoundHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := authenticate(r); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		round, err := gs.Manager.StartRound(r.Context(), gameCode(r))
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, game.NewRoundView(round))
	}
}

func EndRoundHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := authenticate(r); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		result, err := gs.Manager.EndRound(r.Context(), gameCode(r))
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newRoundResultResponse(result))
	}
}

// ExpireRoundHandler is called by clients when their countdown for a round
// reaches zero. Only the first report for the current round ends it.
func ExpireRoundHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := authenticate(r); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		number, err := strconv.Atoi(chi.URLParam(r, "number"))
		if err != nil || number < 1 {
			writeError(w, gs.Logger, r, badRequest("round number must be a positive integer"))
			return
		}
		result, err := gs.Manager.ExpireRound(r.Context(), gameCode(r), number)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newRoundResultResponse(result))
	}
}

func NextRoundHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := authenticate(r); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		var req nextRoundRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		if req.AfterRound < 1 {
			writeError(w, gs.Logger, r, badRequest("afterRound must be the number of the round that just ended"))
			return
		}

		next, err := gs.Manager.NextRound(r.Context(), gameCode(r), req.AfterRound)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		if next == nil {
			writeJSON(w, http.StatusOK, nextRoundResponse{Finished: true})
			return
		}
		writeJSON(w, http.StatusOK, nextRoundResponse{Round: game.NewRoundView(next)})
	}
}

// SubmitGuessHandler records a guess. The guess that completes the round ends
// it right away; losing that race to a timer is not an error.
func SubmitGuessHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := authenticate(r)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		var req guessRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		if req.GuessedOwnerID == uuid.Nil {
			writeError(w, gs.Logger, r, badRequest("guessedOwnerId is required"))
			return
		}

		code := gameCode(r)
		res, err := gs.Manager.SubmitGuess(r.Context(), code, playerID, req.GuessedOwnerID)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}

		resp := guessResponse{GuessCount: len(res.Round.Guesses), AllGuessed: res.AllGuessed}
		if res.AllGuessed {
			_, err := gs.Manager.EndRound(r.Context(), code)
			switch {
			case err == nil:
				resp.RoundEnded = true
			case errors.Is(err, game.ErrAlreadyApplied):
				resp.RoundEnded = true
				gs.Logger.WithField("code", code).Debug("round already ended by another request")
			default:
				gs.Logger.WithFields(logrus.Fields{"code": code, "round": res.Round.Number}).Warnf("ending round after last guess: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func SubmitHeartHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := authenticate(r)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		res, err := gs.Manager.SubmitHeart(r.Context(), gameCode(r), playerID)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, heartResponse{Accepted: res.Accepted, Count: res.Count, OwnerNoop: res.OwnerNoop})
	}
}

// newPlayer builds a player from a join request, reading their ranked tracks
// from the track source.
func (gs *GameServer) newPlayer(ctx context.Context, req joinRequest, cfg models.GameConfig) (*models.Player, error) {
	if req.Name == "" {
		return nil, badRequest("name is required")
	}
	if req.ExternalID == "" {
		return nil, badRequest("externalId is required")
	}
	if gs.Tracks == nil {
		return nil, errNotConfigured
	}

	tracks, err := gs.Tracks.Fetch(ctx, game.PlayerIdentity{ExternalID: req.ExternalID, AccessToken: req.AccessToken}, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTrackSource, err)
	}
	gs.Logger.WithFields(logrus.Fields{"external_id": req.ExternalID, "tracks": len(tracks)}).Debug("fetched tracks")

	return &models.Player{
		ExternalID:   req.ExternalID,
		Name:         req.Name,
		RankedTracks: tracks,
	}, nil
}

// writeSession issues the player's session token, as a cookie and in the body.
func (gs *GameServer) writeSession(w http.ResponseWriter, r *http.Request, status int, state *models.GameState, playerID uuid.UUID) {
	token, err := auth.CreateJWT(playerID, state.Code)
	if err != nil {
		writeError(w, gs.Logger, r, fmt.Errorf("issuing session token: %w", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/games/" + state.Code,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{
		Code:     state.Code,
		PlayerID: playerID,
		Token:    token,
		Game:     game.NewGameView(state),
	})
}

func newRoundResultResponse(res *game.RoundResult) roundResultResponse {
	return roundResultResponse{
		Round:       game.NewRoundView(res.Round),
		RoundScores: res.RoundScores,
		Scores:      res.Scores,
		HeartTotals: res.HeartTotals,
	}
}
