package handlers

import (
	"pokemon-battle-system/middleware"
	"pokemon-battle-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupBattleRoutes registers battle routes. The event stream authenticates through
// query params, so it is mounted outside the gateway user context when authClient is set.
func SetupBattleRoutes(app *fiber.App, battleService *services.BattleService, authClient *services.AuthServiceClient) {
	if authClient != nil {
		app.Get("/battles/events/stream", middleware.SSEAuthMiddleware(authClient), battleService.StreamBattleEvents)
	}

	app.Get("/engine/health", battleService.EngineHealth)

	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/battles/pvp", battleService.CreatePvPBattle)
	secured.Post("/battles/pve", battleService.CreatePvEBattle)
	secured.Get("/battles", battleService.ListBattles)
	secured.Get("/battles/:id", battleService.GetBattle)
	secured.Post("/battles/:id/move", battleService.SubmitMove)
	secured.Post("/battles/:id/switch", battleService.SubmitSwitch)
	secured.Post("/battles/:id/forfeit", battleService.Forfeit)
	secured.Get("/battles/:id/state", battleService.GetState)
	secured.Get("/battles/:id/logs", battleService.GetLogs)

	admin := secured.Group("/admin")
	admin.Get("/engine/battles", battleService.ListEngineBattles)
	admin.Post("/battles/:id/finish", battleService.FinishBattle)
}
