package game

import "errors"

// Callers branch on these with errors.Is to decide whether to retry, ignore or
// surface a failure.
var (
	ErrGameNotFound   = errors.New("game not found")
	ErrPlayerNotFound = errors.New("player not recognized")

	// ErrGameState and ErrRoundState mean the command is not legal in the
	// persisted status.
	ErrGameState  = errors.New("game not in expected status")
	ErrRoundState = errors.New("round not in expected status")

	// ErrAlreadyApplied is the benign subcase of an invalid state: another caller
	// already performed this transition.
	ErrAlreadyApplied = errors.New("already applied")

	ErrInsufficientContent = errors.New("not enough songs to play")
	ErrUnauthorized        = errors.New("only the host can do that")
	ErrCodeExhausted       = errors.New("could not allocate a free game code")
)

// IsInvalidState reports whether err is a status violation, including the
// AlreadyApplied subcase.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrGameState) || errors.Is(err, ErrRoundState) || errors.Is(err, ErrAlreadyApplied)
}
