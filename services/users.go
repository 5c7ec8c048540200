package services

import (
	"strconv"
	"strings"

	"pokemon-battle-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// TrainerService reads the local trainer mirror kept by the sync worker.
type TrainerService struct {
	DB *gorm.DB
}

func NewTrainerService(db *gorm.DB) *TrainerService {
	return &TrainerService{DB: db}
}

// TrainerSummary is what clients see; ExternalUserID is the id used everywhere else.
type TrainerSummary struct {
	ID             string  `json:"id"`
	ExternalUserID string  `json:"external_user_id"`
	Username       string  `json:"username"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
}

// Search returns up to limit trainers whose username or email contains query.
func (s *TrainerService) Search(query string, limit int) ([]TrainerSummary, error) {
	var trainers []models.Trainer
	db := s.DB.Model(&models.Trainer{}).Where("is_banned = ?", false).Order("username ASC").Limit(limit)

	if q := strings.TrimSpace(query); q != "" {
		term := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", term, term)
	}
	if err := db.Find(&trainers).Error; err != nil {
		return nil, err
	}

	res := make([]TrainerSummary, len(trainers))
	for i, t := range trainers {
		res[i] = TrainerSummary{
			ID:             t.ID,
			ExternalUserID: t.ExternalUserID,
			Username:       t.Username,
			AvatarURL:      t.AvatarURL,
		}
	}
	return res, nil
}

// SearchTrainers handles GET /trainers/search?q=&limit=.
func (s *TrainerService) SearchTrainers(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}
	res, err := s.Search(c.Query("q", ""), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "search failed", "details": err.Error()})
	}
	return c.JSON(res)
}
