// internal/handlers/game_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/auth"
	"github.com/jason-s-yu/whosesong/internal/cache"
	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTrackSource struct {
	mock.Mock
}

func (m *mockTrackSource) Fetch(ctx context.Context, identity game.PlayerIdentity, cfg models.GameConfig) ([]models.Track, error) {
	args := m.Called(ctx, identity, cfg)
	tracks, _ := args.Get(0).([]models.Track)
	return tracks, args.Error(1)
}

type testServer struct {
	*httptest.Server
	tracks *mockTrackSource
	mgr    *game.Manager
}

var testDefaults = models.GameConfig{TotalRounds: 10, RoundDurationSec: 30, TimeRange: "medium_term", TrackLimit: 50}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, auth.Init(time.Hour))

	mr := miniredis.RunT(t)
	rdb, err := cache.Connect(context.Background(), mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	logger, _ := test.NewNullLogger()
	bus := cache.NewEventBus(rdb, logger, 1, time.Millisecond)
	t.Cleanup(func() { bus.Close() })

	mgr := game.NewManager(cache.NewGameStore(rdb, time.Hour), bus, logger)
	mgr.Seed(1)
	tracks := &mockTrackSource{}

	srv := httptest.NewServer(NewRouter(NewGameServer(mgr, tracks, bus, testDefaults, logger)))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, tracks: tracks, mgr: mgr}
}

// expectPlayer makes the track source return ids for externalID.
func (ts *testServer) expectPlayer(externalID string, ids ...string) {
	tracks := make([]models.Track, len(ids))
	for i, id := range ids {
		tracks[i] = models.Track{ID: id, Name: "song " + id, Artists: []string{"someone"}}
	}
	ts.tracks.On("Fetch", mock.Anything, game.PlayerIdentity{ExternalID: externalID, AccessToken: "tok-" + externalID}, mock.Anything).
		Return(tracks, nil)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (ts *testServer) join(t *testing.T, path, externalID string, cfg *models.GameConfig) sessionResponse {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, path, "", joinRequest{
		Name:        strings.ToUpper(externalID[:1]) + externalID[1:],
		ExternalID:  externalID,
		AccessToken: "tok-" + externalID,
		Config:      cfg,
	})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, status, string(body))

	var session sessionResponse
	require.NoError(t, json.Unmarshal(body, &session))
	require.NotEmpty(t, session.Token)
	return session
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Error
}

// setupGame creates a three-player lobby and returns the sessions, host first.
func setupGame(t *testing.T, ts *testServer, rounds int) []sessionResponse {
	t.Helper()
	ts.expectPlayer("host", "h1", "h2", "h3")
	ts.expectPlayer("ana", "a1", "a2", "a3")
	ts.expectPlayer("ben", "b1", "b2", "b3")

	host := ts.join(t, "/games", "host", &models.GameConfig{TotalRounds: rounds, RoundDurationSec: 20})
	ana := ts.join(t, "/games/"+host.Code+"/players", "ana", nil)
	ben := ts.join(t, "/games/"+host.Code+"/players", "ben", nil)
	return []sessionResponse{host, ana, ben}
}

func TestCreateAndJoin(t *testing.T) {
	ts := newTestServer(t)
	sessions := setupGame(t, ts, 3)
	host := sessions[0]

	assert.Len(t, host.Code, game.CodeLength)
	assert.Equal(t, models.StatusLobby, host.Game.Status)
	assert.Equal(t, 20, host.Game.Config.RoundDurationSec)
	assert.Equal(t, "medium_term", host.Game.Config.TimeRange, "missing settings come from the defaults")

	status, body := ts.do(t, http.MethodGet, "/games/"+strings.ToLower(host.Code), "", nil)
	require.Equal(t, http.StatusOK, status)
	var view game.GameView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Len(t, view.Players, 3)
	assert.NotContains(t, string(body), "rankedTracks")

	// Rejoining with the same account keeps one roster entry.
	again := ts.join(t, "/games/"+host.Code+"/players", "ana", nil)
	assert.Equal(t, sessions[1].PlayerID, again.PlayerID)
	assert.Len(t, again.Game.Players, 3)

	ts.tracks.AssertExpectations(t)
}

func TestCreateSetsSessionCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.expectPlayer("host", "h1")

	data, err := json.Marshal(joinRequest{Name: "Host", ExternalID: "host", AccessToken: "tok-host"})
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+"/games", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, session.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	// The cookie alone authenticates.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/games/"+session.Code+"/players/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	leave, err := ts.Client().Do(req)
	require.NoError(t, err)
	leave.Body.Close()
	assert.Equal(t, http.StatusNoContent, leave.StatusCode)
}

func TestFullGame(t *testing.T) {
	ts := newTestServer(t)
	sessions := setupGame(t, ts, 3)
	host := sessions[0]
	base := "/games/" + host.Code
	tokenOf := make(map[uuid.UUID]string)
	for _, s := range sessions {
		tokenOf[s.PlayerID] = s.Token
	}

	status, body := ts.do(t, http.MethodPost, base+"/start", sessions[1].Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, base+"/start", host.Token, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	for number := 1; number <= 3; number++ {
		status, body = ts.do(t, http.MethodPost, base+"/rounds/current/start", host.Token, nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var round game.RoundView
		require.NoError(t, json.Unmarshal(body, &round))
		assert.Equal(t, number, round.Number)
		assert.Nil(t, round.OwnerID)

		status, body = ts.do(t, http.MethodPost, base+"/rounds/current/start", sessions[2].Token, nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "already_applied", errorCode(t, body))

		state, err := ts.mgr.GetGame(context.Background(), host.Code)
		require.NoError(t, err)
		owner := state.Current().Song.OwnerID

		var last guessResponse
		for i, s := range sessions {
			status, body = ts.do(t, http.MethodPost, base+"/guesses", s.Token, guessRequest{GuessedOwnerID: owner})
			require.Equal(t, http.StatusOK, status, string(body))
			require.NoError(t, json.Unmarshal(body, &last))
			assert.Equal(t, i+1, last.GuessCount)
		}
		assert.True(t, last.AllGuessed)
		assert.True(t, last.RoundEnded, "the last guess ends the round")

		status, body = ts.do(t, http.MethodPost, base+"/rounds/current/end", host.Token, nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "already_applied", errorCode(t, body))

		var next nextRoundResponse
		status, body = ts.do(t, http.MethodPost, base+"/rounds/next", tokenOf[owner], nextRoundRequest{AfterRound: number})
		require.Equal(t, http.StatusOK, status, string(body))
		require.NoError(t, json.Unmarshal(body, &next))
		if number < 3 {
			require.NotNil(t, next.Round)
			assert.Equal(t, number+1, next.Round.Number)
			assert.False(t, next.Finished)

			status, _ = ts.do(t, http.MethodPost, base+"/rounds/next", host.Token, nextRoundRequest{AfterRound: number})
			assert.Equal(t, http.StatusConflict, status, "second advance is a no-op")
		} else {
			assert.True(t, next.Finished)
			assert.Nil(t, next.Round)
		}
	}

	status, body = ts.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, status)
	var view game.GameView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, models.StatusFinished, view.Status)
	for _, s := range sessions {
		assert.Equal(t, 300, view.Scores[s.PlayerID], "three instant correct guesses")
	}

	status, body = ts.do(t, http.MethodPost, base+"/guesses", host.Token, guessRequest{GuessedOwnerID: host.PlayerID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", errorCode(t, body))
}

func TestHeartsAndExpiry(t *testing.T) {
	ts := newTestServer(t)
	sessions := setupGame(t, ts, 2)
	base := "/games/" + sessions[0].Code

	status, _ := ts.do(t, http.MethodPost, base+"/start", sessions[0].Token, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, base+"/rounds/current/start", sessions[0].Token, nil)
	require.Equal(t, http.StatusOK, status)

	state, err := ts.mgr.GetGame(context.Background(), sessions[0].Code)
	require.NoError(t, err)
	owner := state.Current().Song.OwnerID

	for _, s := range sessions {
		status, body := ts.do(t, http.MethodPost, base+"/hearts", s.Token, nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var heart heartResponse
		require.NoError(t, json.Unmarshal(body, &heart))
		assert.True(t, heart.Accepted)
		assert.Equal(t, s.PlayerID == owner, heart.OwnerNoop)
	}
	status, body := ts.do(t, http.MethodPost, base+"/hearts", otherThan(sessions, owner).Token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_applied", errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, base+"/rounds/2/expire", sessions[1].Token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, base+"/rounds/1/expire", sessions[1].Token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var result roundResultResponse
	require.NoError(t, json.Unmarshal(body, &result))
	require.NotNil(t, result.Round.OwnerID)
	assert.Equal(t, owner, *result.Round.OwnerID)
	assert.Equal(t, 2, result.HeartTotals[owner])
	assert.Len(t, result.RoundScores, 3)

	status, _ = ts.do(t, http.MethodPost, base+"/rounds/1/expire", sessions[2].Token, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func otherThan(sessions []sessionResponse, id uuid.UUID) sessionResponse {
	for _, s := range sessions {
		if s.PlayerID != id {
			return s
		}
	}
	return sessionResponse{}
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t)
	sessions := setupGame(t, ts, 3)
	base := "/games/" + sessions[0].Code

	foreignToken, err := auth.CreateJWT(sessions[1].PlayerID, "WXYZ")
	require.NoError(t, err)

	ts.tracks.On("Fetch", mock.Anything, game.PlayerIdentity{ExternalID: "broken", AccessToken: "tok-broken"}, mock.Anything).
		Return(nil, errors.New("spotify: 401"))
	ts.expectPlayer("empty")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown game", http.MethodGet, "/games/ZZZZ", "", nil, http.StatusNotFound, "not_found"},
		{"no token", http.MethodPost, base + "/hearts", "", nil, http.StatusUnauthorized, "invalid_token"},
		{"garbage token", http.MethodPost, base + "/hearts", "garbage", nil, http.StatusUnauthorized, "invalid_token"},
		{"token for another game", http.MethodPost, base + "/hearts", foreignToken, nil, http.StatusForbidden, "unauthorized"},
		{"guess before start", http.MethodPost, base + "/guesses", sessions[1].Token, guessRequest{GuessedOwnerID: sessions[0].PlayerID}, http.StatusConflict, "invalid_state"},
		{"guess without owner", http.MethodPost, base + "/guesses", sessions[1].Token, map[string]string{}, http.StatusBadRequest, "bad_request"},
		{"malformed body", http.MethodPost, base + "/rounds/next", sessions[1].Token, "not an object", http.StatusBadRequest, "bad_request"},
		{"missing afterRound", http.MethodPost, base + "/rounds/next", sessions[1].Token, nil, http.StatusBadRequest, "bad_request"},
		{"bad round number", http.MethodPost, base + "/rounds/first/expire", sessions[1].Token, nil, http.StatusBadRequest, "bad_request"},
		{"join without name", http.MethodPost, base + "/players", "", joinRequest{ExternalID: "x"}, http.StatusBadRequest, "bad_request"},
		{"track source down", http.MethodPost, base + "/players", "", joinRequest{Name: "B", ExternalID: "broken", AccessToken: "tok-broken"}, http.StatusBadGateway, "track_source"},
		{"end round in lobby", http.MethodPost, base + "/rounds/current/end", sessions[0].Token, nil, http.StatusConflict, "invalid_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, status, string(body))
			assert.Equal(t, tt.wantCode, errorCode(t, body))
		})
	}

	t.Run("start without tracks", func(t *testing.T) {
		empty := ts.join(t, "/games", "empty", nil)
		status, body := ts.do(t, http.MethodPost, "/games/"+empty.Code+"/start", empty.Token, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "insufficient_content", errorCode(t, body))
	})

	t.Run("join after start", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodPost, base+"/start", sessions[0].Token, nil)
		require.Equal(t, http.StatusOK, status)
		status, body := ts.do(t, http.MethodPost, base+"/players", "", joinRequest{Name: "Late", ExternalID: "late"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "invalid_state", errorCode(t, body))
	})
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, ".", string(body))
}

func TestSessionToken(t *testing.T) {
	tests := []struct {
		name   string
		auth   string
		cookie string
		query  string
		want   string
	}{
		{"bearer header", "Bearer hdr", "session_token=ck", "token=q", "hdr"},
		{"cookie", "", "session_token=abc", "token=q", "abc"},
		{"cookie among others", "", "theme=dark; session_token=abc; lang=en", "", "abc"},
		{"similar cookie name", "", "xsession_token=evil", "", ""},
		{"similar name falls through to query", "", "xsession_token=evil", "token=q", "q"},
		{"query", "", "theme=dark", "token=q", "q"},
		{"nothing", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/games/ABCD/ws?"+tt.query, nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			if tt.cookie != "" {
				r.Header.Set("Cookie", tt.cookie)
			}
			assert.Equal(t, tt.want, sessionToken(r))
		})
	}
}

func wsURL(ts *testServer, code, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/games/" + code + "/ws?token=" + token
}

func readEvent(t *testing.T, ctx context.Context, c *websocket.Conn) (game.GameEventType, []byte) {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	typ, err := game.EventType(data)
	require.NoError(t, err)
	return typ, data
}

func TestGameWS(t *testing.T) {
	ts := newTestServer(t)
	ts.expectPlayer("host", "h1", "h2")
	ts.expectPlayer("ana", "a1", "a2")
	host := ts.join(t, "/games", "host", &models.GameConfig{TotalRounds: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(ts, host.Code, host.Token), &websocket.DialOptions{Subprotocols: []string{"game"}})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	typ, data := readEvent(t, ctx, c)
	assert.Equal(t, game.EventSync, typ)
	var sync struct {
		Payload game.GameView `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &sync))
	assert.Equal(t, host.Code, sync.Payload.Code)

	ana := ts.join(t, "/games/"+host.Code+"/players", "ana", nil)
	typ, data = readEvent(t, ctx, c)
	assert.Equal(t, game.EventPlayerJoined, typ)
	assert.Contains(t, string(data), ana.PlayerID.String())

	status, _ := ts.do(t, http.MethodPost, "/games/"+host.Code+"/start", host.Token, nil)
	require.Equal(t, http.StatusOK, status)
	typ, data = readEvent(t, ctx, c)
	assert.Equal(t, game.EventGameStarted, typ)
	assert.NotContains(t, string(data), "songPool")
	assert.NotContains(t, string(data), "rankedTracks")
}

func TestGameWSRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.expectPlayer("host", "h1")
	host := ts.join(t, "/games", "host", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts, host.Code, "bogus"), &websocket.DialOptions{Subprotocols: []string{"game"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c, _, err := websocket.Dial(ctx, wsURL(ts, host.Code, host.Token), nil)
	require.NoError(t, err)
	_, _, err = c.Read(ctx)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}
