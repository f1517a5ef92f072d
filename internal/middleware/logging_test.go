package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()

	h := chimw.RequestID(LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/games", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "POST", entry.Data["method"])
	assert.Equal(t, "/games", entry.Data["path"])
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.NotEmpty(t, entry.Data["request_id"])
}

func TestLogMiddlewareServerError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	h := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/games/ABCD", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	_, hasID := entry.Data["request_id"]
	assert.False(t, hasID)
}

func TestLogWebSocket(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogWebSocketConnect(logger, "10.0.0.1:5000", "ABCD")
	LogWebSocketDisconnect(logger, "10.0.0.1:5000", "ABCD", errors.New("closed"))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "ABCD", entries[0].Data["code"])
	assert.Equal(t, "WebSocket disconnected", entries[1].Message)
	assert.EqualError(t, entries[1].Data["error"].(error), "closed")
}
