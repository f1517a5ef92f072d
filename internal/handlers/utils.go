package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/auth"
	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/sirupsen/logrus"
)

const sessionCookie = "session_token"

var (
	errBadRequest    = errors.New("bad request")
	errMissingToken  = errors.New("missing session token")
	errWrongGame     = errors.New("session token belongs to another game")
	errTrackSource   = errors.New("could not read the player's tracks")
	errNotConfigured = errors.New("no track source configured")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps an error onto a status code and a stable error code.
// InvalidState is deliberately vague towards clients.
func writeError(w http.ResponseWriter, logger *logrus.Logger, r *http.Request, err error) {
	status, code, msg := http.StatusInternalServerError, "internal", "internal error"
	switch {
	case errors.Is(err, errBadRequest):
		status, code, msg = http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, errMissingToken), errors.Is(err, auth.ErrInvalidToken):
		status, code, msg = http.StatusUnauthorized, "invalid_token", "a valid session token is required"
	case errors.Is(err, errWrongGame), errors.Is(err, game.ErrUnauthorized):
		status, code, msg = http.StatusForbidden, "unauthorized", game.ErrUnauthorized.Error()
	case errors.Is(err, game.ErrGameNotFound):
		status, code, msg = http.StatusNotFound, "not_found", game.ErrGameNotFound.Error()
	case errors.Is(err, game.ErrPlayerNotFound):
		status, code, msg = http.StatusNotFound, "not_found", game.ErrPlayerNotFound.Error()
	case errors.Is(err, game.ErrInsufficientContent):
		status, code, msg = http.StatusUnprocessableEntity, "insufficient_content", game.ErrInsufficientContent.Error()
	case errors.Is(err, game.ErrAlreadyApplied):
		status, code, msg = http.StatusConflict, "already_applied", game.ErrAlreadyApplied.Error()
	case game.IsInvalidState(err):
		status, code, msg = http.StatusConflict, "invalid_state", "game not in progress"
	case errors.Is(err, errTrackSource):
		status, code, msg = http.StatusBadGateway, "track_source", errTrackSource.Error()
	case errors.Is(err, game.ErrCodeExhausted), errors.Is(err, errNotConfigured):
		status, code, msg = http.StatusServiceUnavailable, "unavailable", err.Error()
	}

	log := logger.WithFields(logrus.Fields{"path": r.URL.Path, "status": status})
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	} else {
		log.Debugf("request rejected: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// gameCode returns the {code} path parameter, upper-cased.
func gameCode(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "code"))
}

// authenticate returns the player id of the session token sent with r, which
// must have been issued for the game in the path. The token is read from the
// Authorization header, the session cookie or (for websockets) the token query
// parameter, in that order.
func authenticate(r *http.Request) (uuid.UUID, error) {
	token := sessionToken(r)
	if token == "" {
		return uuid.Nil, errMissingToken
	}

	playerID, code, err := auth.AuthenticateJWT(token)
	if err != nil {
		return uuid.Nil, err
	}
	if code != gameCode(r) {
		return uuid.Nil, errWrongGame
	}
	return playerID, nil
}

func sessionToken(r *http.Request) string {
	if token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); token != "" {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
