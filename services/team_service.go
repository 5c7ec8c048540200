package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pokemon-battle-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// TeamService stores user-owned rosters. It is a plain record store keyed by owner.
type TeamService struct {
	DB *gorm.DB
}

func NewTeamService(db *gorm.DB) *TeamService {
	return &TeamService{DB: db}
}

type CreateTeamRequest struct {
	Name    string              `json:"name"`
	Members []models.TeamMember `json:"members"`
}

// teamFieldBreakers would split a team line or shift its fields.
const teamFieldBreakers = "|\r\n"

func validateMembers(members []models.TeamMember) error {
	if len(members) == 0 || len(members) > models.MaxTeamSize {
		return fmt.Errorf("%w: a team needs 1 to %d members", ErrInvalidTeam, models.MaxTeamSize)
	}
	for i := range members {
		m := &members[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return fmt.Errorf("%w: member %d has no name", ErrInvalidTeam, i+1)
		}
		for field, v := range map[string]string{"name": m.Name, "item": m.Item, "ability": m.Ability, "gender": m.Gender, "nature": m.Nature} {
			if strings.ContainsAny(v, teamFieldBreakers) {
				return fmt.Errorf("%w: member %d %s contains a reserved character", ErrInvalidTeam, i+1, field)
			}
		}
		for _, mv := range m.Moves {
			if strings.ContainsAny(mv, teamFieldBreakers+",") {
				return fmt.Errorf("%w: %s move %q contains a reserved character", ErrInvalidTeam, m.Name, mv)
			}
		}
		if len(m.Moves) > models.MaxMovesPerMember {
			return fmt.Errorf("%w: %s has more than %d moves", ErrInvalidTeam, m.Name, models.MaxMovesPerMember)
		}
		if m.Level == 0 {
			m.Level = 50
		}
		if m.Level < 1 || m.Level > 100 {
			return fmt.Errorf("%w: %s level must be 1-100", ErrInvalidTeam, m.Name)
		}
	}
	return nil
}

func (s *TeamService) Create(ctx context.Context, ownerID string, req CreateTeamRequest) (*models.Team, error) {
	if ownerID == "" {
		return nil, ErrNotParticipant
	}
	if err := validateMembers(req.Members); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "My Team"
	}
	id := uuid.NewString()
	team := &models.Team{
		ID:      id,
		OwnerID: ownerID,
		Name:    name,
		Slug:    slug.Make(name) + "-" + id[:8],
		Members: req.Members,
	}
	if err := s.DB.WithContext(ctx).Create(team).Error; err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return team, nil
}

func (s *TeamService) List(ctx context.Context, ownerID string) ([]models.Team, error) {
	var teams []models.Team
	err := s.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&teams).Error
	return teams, err
}

// Get returns a team only to its owner.
func (s *TeamService) Get(ctx context.Context, ownerID, id string) (*models.Team, error) {
	var team models.Team
	err := s.DB.WithContext(ctx).First(&team, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}
	if team.OwnerID != ownerID {
		return nil, ErrTeamNotOwned
	}
	return &team, nil
}

func (s *TeamService) Delete(ctx context.Context, ownerID, id string) error {
	team, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Delete(team).Error
}

// CreateTeam handles POST /teams.
func (s *TeamService) CreateTeam(c *fiber.Ctx) error {
	var req CreateTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	team, err := s.Create(c.UserContext(), currentUserID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}

func (s *TeamService) ListTeams(c *fiber.Ctx) error {
	teams, err := s.List(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(teams)
}

func (s *TeamService) GetTeam(c *fiber.Ctx) error {
	team, err := s.Get(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(team)
}

func (s *TeamService) DeleteTeam(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "team deleted", "id": id})
}
