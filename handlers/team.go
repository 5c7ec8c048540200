package handlers

import (
	"pokemon-battle-system/middleware"
	"pokemon-battle-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTeamRoutes(app *fiber.App, teamService *services.TeamService, trainerService *services.TrainerService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/teams", teamService.CreateTeam)
	secured.Get("/teams", teamService.ListTeams)
	secured.Get("/teams/:id", teamService.GetTeam)
	secured.Delete("/teams/:id", teamService.DeleteTeam)

	secured.Get("/trainers/search", trainerService.SearchTrainers)
}
