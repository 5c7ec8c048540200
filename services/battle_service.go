package services

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// BattleService exposes battles over HTTP. Actor identity always comes from the
// gateway's X-User-ID and is passed explicitly into the orchestrator.
type BattleService struct {
	Orchestrator *TurnOrchestrator
	Matchmaker   *Matchmaker
	Hub          *Hub
}

func NewBattleService(o *TurnOrchestrator, m *Matchmaker, hub *Hub) *BattleService {
	return &BattleService{Orchestrator: o, Matchmaker: m, Hub: hub}
}

type createPvPRequest struct {
	TeamID string `json:"team_id"`
	Format string `json:"format"`
}

type createPvERequest struct {
	TeamID     string `json:"team_id"`
	Difficulty string `json:"difficulty"`
}

type moveRequest struct {
	Move string `json:"move"`
}

type switchRequest struct {
	PokemonIndex *int `json:"pokemon_index"`
}

type finishRequest struct {
	Winner string `json:"winner"` // p1 | p2 | "" for a draw
}

// CreatePvPBattle handles POST /battles/pvp: random opponent, pending battle, engine start.
func (s *BattleService) CreatePvPBattle(c *fiber.Ctx) error {
	var req createPvPRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Format == "" {
		req.Format = "singles"
	}
	ctx := c.UserContext()
	userID := currentUserID(c)

	pending, err := s.Matchmaker.MatchPvP(ctx, userID, req.TeamID, req.Format)
	if err != nil {
		return respondError(c, err)
	}
	battle, err := s.Orchestrator.InitializeBattle(ctx, pending.ID)
	if err != nil {
		return respondError(c, err)
	}
	log.Info().Str("component", "matchmaking").Str("battle_id", battle.ID).Str("user_id", userID).Msg("pvp battle created")
	return c.Status(fiber.StatusCreated).JSON(battle)
}

// CreatePvEBattle handles POST /battles/pve.
func (s *BattleService) CreatePvEBattle(c *fiber.Ctx) error {
	var req createPvERequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	ctx := c.UserContext()
	userID := currentUserID(c)

	team, err := s.Matchmaker.OwnedTeam(ctx, userID, req.TeamID)
	if err != nil {
		return respondError(c, err)
	}
	pending, err := s.Matchmaker.CreatePvEBattle(ctx, userID, team, req.Difficulty)
	if err != nil {
		return respondError(c, err)
	}
	battle, err := s.Orchestrator.InitializeBattle(ctx, pending.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(battle)
}

// ListBattles handles GET /battles?page=&limit=.
func (s *BattleService) ListBattles(c *fiber.Ctx) error {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}

	battles, total, err := s.Orchestrator.Store.ListBattlesForOwner(c.UserContext(), currentUserID(c), page, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"battles": battles,
		"page":    page,
		"limit":   limit,
		"total":   total,
	})
}

func (s *BattleService) GetBattle(c *fiber.Ctx) error {
	battle, err := s.Orchestrator.GetBattle(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(battle)
}

// SubmitMove handles POST /battles/:id/move.
func (s *BattleService) SubmitMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	out, err := s.Orchestrator.SubmitMove(c.UserContext(), c.Params("id"), currentUserID(c), req.Move)
	if err != nil {
		return respondTurnError(c, out, err)
	}
	return c.JSON(out)
}

// SubmitSwitch handles POST /battles/:id/switch with a 0-indexed pokemon_index.
func (s *BattleService) SubmitSwitch(c *fiber.Ctx) error {
	var req switchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PokemonIndex == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "pokemon_index is required"})
	}
	out, err := s.Orchestrator.SubmitSwitch(c.UserContext(), c.Params("id"), currentUserID(c), *req.PokemonIndex)
	if err != nil {
		return respondTurnError(c, out, err)
	}
	return c.JSON(out)
}

// respondTurnError includes the failed decision when one was recorded.
func respondTurnError(c *fiber.Ctx, out *TurnOutcome, err error) error {
	status := statusFor(err)
	if out == nil || out.Decision == nil || status == fiber.StatusInternalServerError {
		return respondError(c, err)
	}
	msg := err.Error()
	var rej *EngineRejectedError
	if errors.As(err, &rej) {
		msg = rej.Message
	}
	return c.Status(status).JSON(fiber.Map{"error": msg, "decision": out.Decision})
}

func (s *BattleService) Forfeit(c *fiber.Ctx) error {
	battle, err := s.Orchestrator.Forfeit(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "battle forfeited", "battle": battle})
}

// GetState proxies the engine state verbatim.
func (s *BattleService) GetState(c *fiber.Ctx) error {
	state, err := s.Orchestrator.GetState(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if len(state.Raw) > 0 {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(state.Raw)
	}
	return c.JSON(state)
}

func (s *BattleService) GetLogs(c *fiber.Ctx) error {
	replay, err := s.Orchestrator.GetLogs(c.UserContext(), c.Params("id"), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(replay)
}

func (s *BattleService) EngineHealth(c *fiber.Ctx) error {
	health, err := s.Orchestrator.Engine.Health(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(health)
}

// ListEngineBattles is a diagnostic view of what the engine is holding.
func (s *BattleService) ListEngineBattles(c *fiber.Ctx) error {
	if !hasRole(c, "admin") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
	}
	list, err := s.Orchestrator.Engine.ListBattles(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// FinishBattle lets an admin close an active battle with a winner slot or as a draw.
func (s *BattleService) FinishBattle(c *fiber.Ctx) error {
	if !hasRole(c, "admin") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
	}
	var req finishRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
	}
	battle, err := s.Orchestrator.Finish(c.UserContext(), c.Params("id"), req.Winner)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(battle)
}
