package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	BattleKindPvP = "pvp"
	BattleKindPvE = "pve"
)

const (
	FormatSingles = "singles"
	FormatDoubles = "doubles"
)

const (
	BattleStatusPending  = "pending"
	BattleStatusActive   = "active"
	BattleStatusFinished = "finished"
)

const (
	SlotP1 = "p1"
	SlotP2 = "p2"
)

const (
	DifficultyEasy   = "easy"
	DifficultyNormal = "normal"
	DifficultyHard   = "hard"
)

// Battle is one match between two seats, tracked pending → active → finished.
type Battle struct {
	ID         string `json:"id" gorm:"primaryKey"`
	Kind       string `json:"kind" gorm:"type:varchar(8);not null;index:idx_battles_status_kind,priority:2"`
	Format     string `json:"format" gorm:"type:varchar(16);not null;default:'singles'"`
	Status     string `json:"status" gorm:"type:varchar(16);not null;default:'pending';index:idx_battles_status_kind,priority:1"`
	Difficulty string `json:"difficulty,omitempty" gorm:"type:varchar(16)"` // pve only

	// Set once when the external engine confirms creation.
	EngineBattleID *string `json:"engine_battle_id,omitempty" gorm:"uniqueIndex"`
	EngineRoomID   *string `json:"engine_room_id,omitempty"`

	// WinnerID references the winning seat (BattlePlayer.ID); nil = draw or undecided.
	WinnerID      *string `json:"winner_id,omitempty"`
	WinnerOwnerID *string `json:"winner_owner_id,omitempty"`

	ReplayLog       datatypes.JSON `json:"replay_log,omitempty"`
	ReplayURL       string         `json:"replay_url,omitempty"`
	EngineCleanedUp bool           `json:"-" gorm:"default:false"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`

	Players   []BattlePlayer `json:"players,omitempty" gorm:"foreignKey:BattleID;constraint:OnDelete:CASCADE"`
	Decisions []TurnDecision `json:"decisions,omitempty" gorm:"foreignKey:BattleID;constraint:OnDelete:CASCADE"`

	Timestamps
}

// PlayerBySlot returns the loaded seat for slot, or nil.
func (b *Battle) PlayerBySlot(slot string) *BattlePlayer {
	for i := range b.Players {
		if b.Players[i].Slot == slot {
			return &b.Players[i]
		}
	}
	return nil
}

// PlayerByOwner returns the human seat owned by ownerID, or nil.
func (b *Battle) PlayerByOwner(ownerID string) *BattlePlayer {
	if ownerID == "" {
		return nil
	}
	for i := range b.Players {
		p := &b.Players[i]
		if p.OwnerID != nil && *p.OwnerID == ownerID {
			return p
		}
	}
	return nil
}

// Opponent returns the seat opposite to p.
func (b *Battle) Opponent(p *BattlePlayer) *BattlePlayer {
	return b.PlayerBySlot(OppositeSlot(p.Slot))
}

// AIPlayer returns the AI-controlled seat, or nil for PvP battles.
func (b *Battle) AIPlayer() *BattlePlayer {
	for i := range b.Players {
		if b.Players[i].IsAI {
			return &b.Players[i]
		}
	}
	return nil
}

// OwnerIDs lists the human owners seated in the battle.
func (b *Battle) OwnerIDs() []string {
	var ids []string
	for _, p := range b.Players {
		if p.OwnerID != nil {
			ids = append(ids, *p.OwnerID)
		}
	}
	return ids
}

func (b *Battle) IsFinished() bool {
	return b.Status == BattleStatusFinished
}

// OppositeSlot maps p1 ↔ p2.
func OppositeSlot(slot string) string {
	if slot == SlotP1 {
		return SlotP2
	}
	return SlotP1
}

// allowedTransitions lists every legal status change. Status is monotonic:
// pending → active → finished. The one exception is pending → finished, used
// only to close out a battle whose engine initialization failed.
var allowedTransitions = map[string]map[string]bool{
	BattleStatusPending: {BattleStatusActive: true, BattleStatusFinished: true},
	BattleStatusActive:  {BattleStatusFinished: true},
}

// CanTransition reports whether a battle may move from one status to another.
func CanTransition(from, to string) bool {
	return allowedTransitions[from][to]
}

func ValidFormat(format string) bool {
	return format == FormatSingles || format == FormatDoubles
}

func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return true
	}
	return false
}

// BattlePlayer is one seat (p1 or p2) of a battle. AI seats have no owner.
type BattlePlayer struct {
	ID          string  `json:"id" gorm:"primaryKey"`
	BattleID    string  `json:"battle_id" gorm:"not null;uniqueIndex:idx_battle_players_slot,priority:1;index:idx_battle_players_owner,priority:2"`
	OwnerID     *string `json:"owner_id,omitempty" gorm:"index:idx_battle_players_owner,priority:1"`
	TeamID      *string `json:"team_id,omitempty"`
	Slot        string  `json:"slot" gorm:"type:varchar(2);not null;uniqueIndex:idx_battle_players_slot,priority:2"`
	IsAI        bool    `json:"is_ai" gorm:"default:false"`
	IsWinner    *bool   `json:"is_winner,omitempty"` // nil = undecided or draw
	CurrentTurn int     `json:"current_turn" gorm:"default:0"`
	DisplayName string  `json:"display_name"`

	Team *Team `json:"team,omitempty" gorm:"foreignKey:TeamID"`

	Timestamps
}

const (
	DecisionStatusPending  = "pending"
	DecisionStatusExecuted = "executed"
	DecisionStatusFailed   = "failed"
)

// TurnDecision is one player's recorded action for a given turn number.
// Payload is written once at creation; only Result, Status and FailureReason change.
type TurnDecision struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	BattleID       string         `json:"battle_id" gorm:"not null;uniqueIndex:idx_turn_decisions_turn,priority:1;index:idx_turn_decisions_battle_turn,priority:1"`
	BattlePlayerID string         `json:"battle_player_id" gorm:"not null;uniqueIndex:idx_turn_decisions_turn,priority:2"`
	TurnNumber     int            `json:"turn_number" gorm:"not null;uniqueIndex:idx_turn_decisions_turn,priority:3;index:idx_turn_decisions_battle_turn,priority:2"`
	Kind           string         `json:"kind" gorm:"type:varchar(16);not null"`
	Payload        datatypes.JSON `json:"payload"`
	Result         datatypes.JSON `json:"result,omitempty"`
	Status         string         `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	FailureReason  string         `json:"failure_reason,omitempty"`

	Timestamps
}

// Decision decodes the stored payload into its typed variant.
func (d *TurnDecision) Decision() (Decision, error) {
	return DecodeDecision(d.Kind, d.Payload)
}

func (d *TurnDecision) IsPending() bool {
	return d.Status == DecisionStatusPending
}
