// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/middleware"
)

const wsWriteTimeout = 5 * time.Second

// GameWSHandler streams a game's events to one of its players. The client
// gets a sync message with the current GameView, then every event published
// for the game, until it disconnects or the game is over. The stream is
// read-only; commands go through the HTTP endpoints.
func GameWSHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := gameCode(r)
		playerID, err := authenticate(r)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		state, err := gs.Manager.GetGame(r.Context(), code)
		if err != nil {
			writeError(w, gs.Logger, r, err)
			return
		}
		if state.PlayerByID(playerID) == nil {
			writeError(w, gs.Logger, r, fmt.Errorf("player %s in game %s: %w", playerID, code, game.ErrPlayerNotFound))
			return
		}
		if gs.Events == nil {
			writeError(w, gs.Logger, r, errNotConfigured)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			gs.Logger.Warnf("WebSocket accept error for game %s: %v", code, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "game" {
			c.Close(BadSubprotocolError, "client must speak the game subprotocol")
			return
		}
		middleware.LogWebSocketConnect(gs.Logger, r.RemoteAddr, code)

		// Clients never send anything; CloseRead handles pings and notices
		// when the peer goes away.
		ctx := c.CloseRead(r.Context())

		sub, err := gs.Events.Subscribe(ctx, code)
		if err != nil {
			gs.Logger.Errorf("subscribing to game %s: %v", code, err)
			c.Close(SubscribeFailedError, "could not subscribe to game events")
			return
		}
		defer sub.Close()

		// Reload after subscribing so no event falls between sync and stream.
		state, err = gs.Manager.GetGame(ctx, code)
		if err != nil {
			c.Close(GameExpiredError, "game no longer exists")
			return
		}
		sync, err := game.EncodeEvent(game.GameEvent{Type: game.EventSync, Payload: game.NewGameView(state)})
		if err == nil {
			err = writeFrame(ctx, c, sync)
		}
		if err == nil {
			err = forwardEvents(ctx, c, sub.C)
		}

		if errors.Is(err, context.Canceled) {
			err = nil
		}
		middleware.LogWebSocketDisconnect(gs.Logger, r.RemoteAddr, code, err)
		if err == nil {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// forwardEvents writes every frame from events to c. It returns nil once the
// game-over event has been written or the subscription ends.
func forwardEvents(ctx context.Context, c *websocket.Conn, events <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := writeFrame(ctx, c, data); err != nil {
				return err
			}
			if typ, err := game.EventType(data); err == nil && typ == game.EventGameOver {
				return nil
			}
		}
	}
}

func writeFrame(ctx context.Context, c *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, data)
}
