package middleware

import (
	"strings"

	"pokemon-battle-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	UserIDContextKey    contextKey = "userID"
	UserRolesContextKey contextKey = "userRoles"
	DeviceIDContextKey  contextKey = "deviceID"
)

// SSEAuthMiddleware validates `token` and `device_id` query params through the auth
// service; EventSource clients cannot send the gateway headers.
func SSEAuthMiddleware(authClient *services.AuthServiceClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		resp, err := authClient.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warn().Err(err).Str("component", "sse_auth").Str("device_id", deviceID).Msg("token validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(string(UserIDContextKey), resp.UserID)
		c.Locals(string(DeviceIDContextKey), resp.DeviceID)
		c.Locals(string(UserRolesContextKey), resp.Roles)

		log.Debug().Str("component", "sse_auth").Str("user_id", resp.UserID).Str("device_id", resp.DeviceID).Msg("stream authenticated")
		return c.Next()
	}
}
