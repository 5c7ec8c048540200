package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// UserContextMiddleware requires the X-User-ID set by the gateway and exposes it,
// together with X-User-Roles, as c.Locals("user_id") and c.Locals("user_roles").
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn().Str("component", "user_ctx").Str("path", c.Path()).Msg("X-User-ID missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)

		log.Debug().Str("component", "user_ctx").Str("user_id", userID).Strs("roles", roles).Str("path", c.Path()).Msg("request")
		return c.Next()
	}
}
