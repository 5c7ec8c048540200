package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pokemon-battle-system/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BattleStore persists battles, seats and turn decisions.
// Each method is its own committed write unless stated otherwise.
type BattleStore struct {
	DB *gorm.DB
}

func NewBattleStore(db *gorm.DB) *BattleStore {
	return &BattleStore{DB: db}
}

// CreateBattle inserts the battle and both of its seats in one transaction.
func (s *BattleStore) CreateBattle(ctx context.Context, battle *models.Battle, p1, p2 models.BattlePlayer) error {
	if battle.ID == "" {
		battle.ID = uuid.NewString()
	}
	if battle.Status == "" {
		battle.Status = models.BattleStatusPending
	}
	p1.Slot, p2.Slot = models.SlotP1, models.SlotP2
	seats := []models.BattlePlayer{p1, p2}
	for i := range seats {
		if err := validateSeat(&seats[i]); err != nil {
			return err
		}
		if seats[i].ID == "" {
			seats[i].ID = uuid.NewString()
		}
		seats[i].BattleID = battle.ID
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(battle).Error; err != nil {
			return fmt.Errorf("create battle: %w", err)
		}
		if err := tx.Omit(clause.Associations).Create(&seats).Error; err != nil {
			return fmt.Errorf("create battle seats: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	battle.Players = seats
	return nil
}

// validateSeat enforces owner == nil iff AI.
func validateSeat(p *models.BattlePlayer) error {
	hasOwner := p.OwnerID != nil && *p.OwnerID != ""
	if p.IsAI == hasOwner {
		return fmt.Errorf("seat %s: AI seats must have no owner and human seats must have one", p.Slot)
	}
	return nil
}

// GetBattle loads a battle with its seats.
func (s *BattleStore) GetBattle(ctx context.Context, id string) (*models.Battle, error) {
	var b models.Battle
	err := s.DB.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("slot ASC") }).
		Preload("Players.Team").
		First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBattleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load battle %s: %w", id, err)
	}
	return &b, nil
}

// SetEngineID records the engine ids. It only succeeds while no engine id is stored.
func (s *BattleStore) SetEngineID(ctx context.Context, battleID, engineID string, roomID *string) error {
	updates := map[string]interface{}{"engine_battle_id": engineID}
	if roomID != nil {
		updates["engine_room_id"] = *roomID
	}
	res := s.DB.WithContext(ctx).Model(&models.Battle{}).
		Where("id = ? AND engine_battle_id IS NULL", battleID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set engine id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEngineIDAlreadySet
	}
	return nil
}

// Transition moves a battle between statuses, guarded by the current status.
func (s *BattleStore) Transition(ctx context.Context, battleID, from, to string) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	res := s.DB.WithContext(ctx).Model(&models.Battle{}).
		Where("id = ? AND status = ?", battleID, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("transition battle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: battle %s is not %s", ErrInvalidTransition, battleID, from)
	}
	return nil
}

// NextTurnNumber is one more than the player's highest recorded turn, starting at 1.
func (s *BattleStore) NextTurnNumber(ctx context.Context, battleID, playerID string) (int, error) {
	var last int
	err := s.DB.WithContext(ctx).Model(&models.TurnDecision{}).
		Where("battle_id = ? AND battle_player_id = ?", battleID, playerID).
		Select("COALESCE(MAX(turn_number), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("next turn number: %w", err)
	}
	return last + 1, nil
}

// RecordDecision stores a pending decision. A concurrent writer that already took the
// turn number makes this fail with ErrDuplicateTurn.
func (s *BattleStore) RecordDecision(ctx context.Context, battleID, playerID string, turn int, d models.Decision) (*models.TurnDecision, error) {
	kind, payload, err := models.EncodeDecision(d)
	if err != nil {
		return nil, err
	}
	dec := &models.TurnDecision{
		ID:             uuid.NewString(),
		BattleID:       battleID,
		BattlePlayerID: playerID,
		TurnNumber:     turn,
		Kind:           kind,
		Payload:        datatypes.JSON(payload),
		Status:         models.DecisionStatusPending,
	}
	if err := s.DB.WithContext(ctx).Create(dec).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: turn %d", ErrDuplicateTurn, turn)
		}
		return nil, fmt.Errorf("record decision: %w", err)
	}
	return dec, nil
}

// MarkExecuted stores the engine result and bumps the seat's turn counter.
func (s *BattleStore) MarkExecuted(ctx context.Context, dec *models.TurnDecision, result []byte) error {
	if !dec.IsPending() {
		return ErrDecisionClosed
	}
	res := s.DB.WithContext(ctx).Model(&models.TurnDecision{}).
		Where("id = ? AND status = ?", dec.ID, models.DecisionStatusPending).
		Updates(map[string]interface{}{
			"status": models.DecisionStatusExecuted,
			"result": datatypes.JSON(result),
		})
	if res.Error != nil {
		return fmt.Errorf("mark decision executed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDecisionClosed
	}
	dec.Status = models.DecisionStatusExecuted
	dec.Result = datatypes.JSON(result)

	err := s.DB.WithContext(ctx).Model(&models.BattlePlayer{}).
		Where("id = ? AND current_turn < ?", dec.BattlePlayerID, dec.TurnNumber).
		Update("current_turn", dec.TurnNumber).Error
	if err != nil {
		return fmt.Errorf("update turn counter: %w", err)
	}
	return nil
}

// MarkFailed closes a pending decision as failed with the reason shown to the user.
func (s *BattleStore) MarkFailed(ctx context.Context, dec *models.TurnDecision, reason string) error {
	if !dec.IsPending() {
		return ErrDecisionClosed
	}
	res := s.DB.WithContext(ctx).Model(&models.TurnDecision{}).
		Where("id = ? AND status = ?", dec.ID, models.DecisionStatusPending).
		Updates(map[string]interface{}{
			"status":         models.DecisionStatusFailed,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("mark decision failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDecisionClosed
	}
	dec.Status = models.DecisionStatusFailed
	dec.FailureReason = reason
	return nil
}

// PendingDecisionForTurn returns the player's still-pending decision for turn, or nil.
func (s *BattleStore) PendingDecisionForTurn(ctx context.Context, battleID, playerID string, turn int) (*models.TurnDecision, error) {
	var dec models.TurnDecision
	err := s.DB.WithContext(ctx).
		Where("battle_id = ? AND battle_player_id = ? AND turn_number = ? AND status = ?",
			battleID, playerID, turn, models.DecisionStatusPending).
		First(&dec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending decision: %w", err)
	}
	return &dec, nil
}

// ListDecisions returns a battle's decisions ordered by turn number.
func (s *BattleStore) ListDecisions(ctx context.Context, battleID string) ([]models.TurnDecision, error) {
	var decs []models.TurnDecision
	err := s.DB.WithContext(ctx).
		Where("battle_id = ?", battleID).
		Order("turn_number ASC, created_at ASC").
		Find(&decs).Error
	return decs, err
}

// FinishBattle sets the battle finished with winner (nil = draw) and updates both seat flags.
// The battle must currently be active.
func (s *BattleStore) FinishBattle(ctx context.Context, battle *models.Battle, winner *models.BattlePlayer) error {
	now := time.Now()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":      models.BattleStatusFinished,
			"finished_at": now,
		}
		if winner != nil {
			updates["winner_id"] = winner.ID
			if winner.OwnerID != nil {
				updates["winner_owner_id"] = *winner.OwnerID
			}
		}
		res := tx.Model(&models.Battle{}).
			Where("id = ? AND status = ?", battle.ID, models.BattleStatusActive).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("finish battle: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: battle %s is not active", ErrInvalidTransition, battle.ID)
		}

		for i := range battle.Players {
			seat := &battle.Players[i]
			var flag *bool
			var value interface{} // NULL on a draw
			if winner != nil {
				won := seat.ID == winner.ID
				flag, value = &won, won
			}
			if err := tx.Model(&models.BattlePlayer{}).Where("id = ?", seat.ID).
				Update("is_winner", value).Error; err != nil {
				return fmt.Errorf("update seat result: %w", err)
			}
			seat.IsWinner = flag
		}

		battle.Status = models.BattleStatusFinished
		battle.FinishedAt = &now
		if winner != nil {
			battle.WinnerID = &winner.ID
			battle.WinnerOwnerID = winner.OwnerID
		}
		return nil
	})
}

// SetReplay stores the replay log once; later calls leave the stored log untouched.
func (s *BattleStore) SetReplay(ctx context.Context, battleID string, replay []byte, replayURL string) error {
	res := s.DB.WithContext(ctx).Model(&models.Battle{}).
		Where("id = ? AND status = ? AND replay_log IS NULL", battleID, models.BattleStatusFinished).
		Updates(map[string]interface{}{
			"replay_log": datatypes.JSON(replay),
			"replay_url": replayURL,
		})
	return res.Error
}

func (s *BattleStore) MarkEngineCleanedUp(ctx context.Context, battleID string) error {
	return s.DB.WithContext(ctx).Model(&models.Battle{}).
		Where("id = ?", battleID).
		Update("engine_cleaned_up", true).Error
}

// FinishedUncleaned lists finished battles whose engine-side battle may still exist.
func (s *BattleStore) FinishedUncleaned(ctx context.Context, limit int) ([]models.Battle, error) {
	var battles []models.Battle
	err := s.DB.WithContext(ctx).
		Where("status = ? AND engine_battle_id IS NOT NULL AND engine_cleaned_up = ?", models.BattleStatusFinished, false).
		Order("finished_at ASC").
		Limit(limit).
		Find(&battles).Error
	return battles, err
}

// CountOrphanDecisions counts decisions left pending since before cutoff.
func (s *BattleStore) CountOrphanDecisions(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.TurnDecision{}).
		Where("status = ? AND created_at < ?", models.DecisionStatusPending, cutoff).
		Count(&n).Error
	return n, err
}

// ListBattlesForOwner pages through the battles an owner is seated in, newest first.
func (s *BattleStore) ListBattlesForOwner(ctx context.Context, ownerID string, page, limit int) ([]models.Battle, int64, error) {
	sub := s.DB.Model(&models.BattlePlayer{}).Select("battle_id").Where("owner_id = ?", ownerID)

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Battle{}).Where("id IN (?)", sub).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var battles []models.Battle
	err := s.DB.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("slot ASC") }).
		Where("id IN (?)", sub).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&battles).Error
	return battles, total, err
}

// isDuplicateKey recognizes unique-constraint violations from postgres and sqlite.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
