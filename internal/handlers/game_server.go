// internal/handlers/game_server.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jason-s-yu/whosesong/internal/cache"
	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/middleware"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/sirupsen/logrus"
)

// GameServer holds what the HTTP and websocket handlers need. It keeps no
// game state of its own; any number of instances can serve the same store.
type GameServer struct {
	Manager *game.Manager
	Tracks  game.TrackSource
	Events  *cache.EventBus
	Logger  *logrus.Logger

	// Defaults fills in the settings a createGame request leaves out.
	Defaults models.GameConfig
}

func NewGameServer(mgr *game.Manager, tracks game.TrackSource, events *cache.EventBus, defaults models.GameConfig, logger *logrus.Logger) *GameServer {
	return &GameServer{
		Manager:  mgr,
		Tracks:   tracks,
		Events:   events,
		Logger:   logger,
		Defaults: defaults,
	}
}

// NewRouter wires every command of the game onto a chi router.
func NewRouter(gs *GameServer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogMiddleware(gs.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))

	r.Route("/games", func(r chi.Router) {
		r.Post("/", CreateGameHandler(gs))

		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", GetGameHandler(gs))
			r.Get("/ws", GameWSHandler(gs))

			r.Post("/players", JoinGameHandler(gs))
			r.Delete("/players/me", LeaveGameHandler(gs))
			r.Post("/start", StartGameHandler(gs))

			r.Post("/rounds/current/start", StartRoundHandler(gs))
			r.Post("/rounds/current/end", EndRoundHandler(gs))
			r.Post("/rounds/next", NextRoundHandler(gs))
			r.Post("/rounds/{number}/expire", ExpireRoundHandler(gs))

			r.Post("/guesses", SubmitGuessHandler(gs))
			r.Post("/hearts", SubmitHeartHandler(gs))
		})
	})
	return r
}
