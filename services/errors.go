package services

import (
	"errors"
	"fmt"
)

// Validation errors: returned before any engine call is made.
var (
	ErrBattleNotFound     = errors.New("battle not found")
	ErrBattleNotActive    = errors.New("battle is not active")
	ErrBattleNotPending   = errors.New("battle is not pending")
	ErrNotParticipant     = errors.New("you are not part of this battle")
	ErrOpponentMissing    = errors.New("opponent not found")
	ErrInvalidTransition  = errors.New("invalid battle status transition")
	ErrEngineIDAlreadySet = errors.New("engine battle id already set")
	ErrNotInitialized     = errors.New("battle not initialized on engine")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvalidFormat      = errors.New("format must be singles or doubles")
	ErrInvalidDifficulty  = errors.New("difficulty must be easy, normal or hard")
	ErrDecisionClosed     = errors.New("decision already executed or failed")
)

// Matchmaking / team failures.
var (
	ErrTeamNotFound      = errors.New("team not found")
	ErrTeamNotOwned      = errors.New("team does not belong to you")
	ErrNoOpponents       = errors.New("no opponents available")
	ErrOpponentHasNoTeam = errors.New("opponent has no team")
	ErrInvalidTeam       = errors.New("invalid team")
)

// ErrDuplicateTurn is the conflict raised when two submissions race on the same turn number.
var ErrDuplicateTurn = errors.New("a decision for this turn number already exists")

// Engine errors.
var (
	ErrEngineUnavailable = errors.New("battle engine unavailable")
	ErrEngineNotFound    = errors.New("battle not found on engine")
)

// EngineRejectedError is returned when the engine was reachable but refused the request.
// Message is the engine's own error text, relayed verbatim.
type EngineRejectedError struct {
	StatusCode int
	Message    string
}

func (e *EngineRejectedError) Error() string {
	return fmt.Sprintf("battle engine rejected request (%d): %s", e.StatusCode, e.Message)
}

// IsEngineRejected reports whether err carries an engine rejection.
func IsEngineRejected(err error) bool {
	var rej *EngineRejectedError
	return errors.As(err, &rej)
}
