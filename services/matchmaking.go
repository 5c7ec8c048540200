package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pokemon-battle-system/models"

	"gorm.io/gorm"
)

// Matchmaker picks opponents and creates pending battles. Opponent choice is uniform
// random over every other trainer; there is no rating.
type Matchmaker struct {
	DB    *gorm.DB
	Store *BattleStore

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMatchmaker(db *gorm.DB, store *BattleStore) *Matchmaker {
	return &Matchmaker{DB: db, Store: store, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (m *Matchmaker) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

// FindRandomOpponent returns a uniformly random trainer other than the requester.
// Banned trainers are never matched.
func (m *Matchmaker) FindRandomOpponent(ctx context.Context, requesterID string) (*models.Trainer, error) {
	q := m.DB.WithContext(ctx).Model(&models.Trainer{}).
		Where("external_user_id <> ? AND is_banned = ?", requesterID, false)

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return nil, fmt.Errorf("count opponents: %w", err)
	}
	if n == 0 {
		return nil, ErrNoOpponents
	}

	var t models.Trainer
	err := m.DB.WithContext(ctx).
		Where("external_user_id <> ? AND is_banned = ?", requesterID, false).
		Order("id ASC").
		Offset(m.intn(int(n))).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoOpponents
	}
	if err != nil {
		return nil, fmt.Errorf("pick opponent: %w", err)
	}
	return &t, nil
}

// OpponentTeam returns the owner's oldest team.
func (m *Matchmaker) OpponentTeam(ctx context.Context, ownerID string) (*models.Team, error) {
	var team models.Team
	err := m.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").First(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOpponentHasNoTeam
	}
	if err != nil {
		return nil, fmt.Errorf("load opponent team: %w", err)
	}
	return &team, nil
}

// OwnedTeam loads teamID and checks it belongs to ownerID.
func (m *Matchmaker) OwnedTeam(ctx context.Context, ownerID, teamID string) (*models.Team, error) {
	var team models.Team
	err := m.DB.WithContext(ctx).First(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}
	if team.OwnerID != ownerID {
		return nil, ErrTeamNotOwned
	}
	return &team, nil
}

// MatchPvP pairs the requester with a random opponent and creates the pending battle.
func (m *Matchmaker) MatchPvP(ctx context.Context, requesterID, teamID, format string) (*models.Battle, error) {
	if !models.ValidFormat(format) {
		return nil, ErrInvalidFormat
	}
	team, err := m.OwnedTeam(ctx, requesterID, teamID)
	if err != nil {
		return nil, err
	}
	opponent, err := m.FindRandomOpponent(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	oppTeam, err := m.OpponentTeam(ctx, opponent.ExternalUserID)
	if err != nil {
		return nil, err
	}
	return m.CreatePvPBattle(ctx, requesterID, team, opponent.ExternalUserID, oppTeam, format)
}

// CreatePvPBattle creates a pending battle with two human seats in one transaction.
func (m *Matchmaker) CreatePvPBattle(ctx context.Context, p1ID string, team1 *models.Team, p2ID string, team2 *models.Team, format string) (*models.Battle, error) {
	if !models.ValidFormat(format) {
		return nil, ErrInvalidFormat
	}
	if p1ID == p2ID {
		return nil, fmt.Errorf("%w: a trainer cannot battle themselves", ErrInvalidAction)
	}
	if team1 == nil || team1.OwnerID != p1ID || team2 == nil || team2.OwnerID != p2ID {
		return nil, ErrTeamNotOwned
	}

	battle := &models.Battle{Kind: models.BattleKindPvP, Format: format}
	p1 := models.BattlePlayer{OwnerID: &p1ID, TeamID: &team1.ID, DisplayName: m.displayName(ctx, p1ID)}
	p2 := models.BattlePlayer{OwnerID: &p2ID, TeamID: &team2.ID, DisplayName: m.displayName(ctx, p2ID)}
	if err := m.Store.CreateBattle(ctx, battle, p1, p2); err != nil {
		return nil, err
	}
	return battle, nil
}

// CreatePvEBattle creates a pending battle with the requester as p1 and an AI seat as p2.
func (m *Matchmaker) CreatePvEBattle(ctx context.Context, requesterID string, team *models.Team, difficulty string) (*models.Battle, error) {
	if difficulty == "" {
		difficulty = models.DifficultyNormal
	}
	if !models.ValidDifficulty(difficulty) {
		return nil, ErrInvalidDifficulty
	}
	if team == nil || team.OwnerID != requesterID {
		return nil, ErrTeamNotOwned
	}

	battle := &models.Battle{Kind: models.BattleKindPvE, Format: models.FormatSingles, Difficulty: difficulty}
	human := models.BattlePlayer{OwnerID: &requesterID, TeamID: &team.ID, DisplayName: m.displayName(ctx, requesterID)}
	ai := models.BattlePlayer{IsAI: true, DisplayName: AIDisplayName}
	if err := m.Store.CreateBattle(ctx, battle, human, ai); err != nil {
		return nil, err
	}
	return battle, nil
}

// displayName is the trainer's username when known, capped for the engine.
func (m *Matchmaker) displayName(ctx context.Context, ownerID string) string {
	var t models.Trainer
	if err := m.DB.WithContext(ctx).Select("username").First(&t, "external_user_id = ?", ownerID).Error; err == nil && t.Username != "" {
		return EngineName(t.Username)
	}
	return EngineName("")
}
