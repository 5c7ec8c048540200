package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// statusFor maps a domain error to the HTTP status returned to the gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBattleNotFound),
		errors.Is(err, ErrTeamNotFound),
		errors.Is(err, ErrEngineNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrTeamNotOwned):
		return fiber.StatusForbidden
	case errors.Is(err, ErrDuplicateTurn),
		errors.Is(err, ErrBattleNotActive),
		errors.Is(err, ErrBattleNotPending),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrEngineIDAlreadySet),
		errors.Is(err, ErrDecisionClosed),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrNoOpponents),
		errors.Is(err, ErrOpponentHasNoTeam),
		errors.Is(err, ErrOpponentMissing):
		return fiber.StatusConflict
	case errors.Is(err, ErrInvalidAction),
		errors.Is(err, ErrInvalidFormat),
		errors.Is(err, ErrInvalidDifficulty),
		errors.Is(err, ErrInvalidTeam):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrEngineUnavailable):
		return fiber.StatusServiceUnavailable
	case IsEngineRejected(err):
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

// respondError writes {"error": ...}. Unexpected errors are logged and hidden from the client.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	body := fiber.Map{"error": err.Error()}
	var rej *EngineRejectedError
	if errors.As(err, &rej) {
		body["error"] = rej.Message
		body["engine_status"] = rej.StatusCode
	}
	return c.Status(status).JSON(body)
}

// currentUserID returns the caller set by the gateway or SSE middleware.
func currentUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok && id != "" {
		return id
	}
	if id, ok := c.Locals("userID").(string); ok {
		return id
	}
	return ""
}

func hasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals("user_roles").([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
