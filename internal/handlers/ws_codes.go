// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the game event stream.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Session token was missing, invalid, expired or issued for another game.
	SubscribeFailedError  = 3002 // The event channel of the game could not be subscribed.
	GameExpiredError      = 3003 // The game disappeared from the store while the client was connected.
)
