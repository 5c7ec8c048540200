package services

import (
	"encoding/json"
	"fmt"
)

// BattleState is the engine's snapshot of a battle. Only the fields the PvE agent reads are typed;
// Raw keeps the full response for callers that proxy it.
type BattleState struct {
	Turn          int                       `json:"turn"`
	ActivePokemon map[string]*ActivePokemon `json:"activePokemons"`
	Teams         map[string][]RosterEntry  `json:"teams"`
	Raw           json.RawMessage           `json:"-"`
}

type ActivePokemon struct {
	Name  string     `json:"name"`
	HP    float64    `json:"hp"`
	MaxHP float64    `json:"maxHp"`
	Moves []MoveSlot `json:"moves"`
}

type MoveSlot struct {
	Name  string `json:"name"`
	PP    int    `json:"pp"`
	MaxPP int    `json:"maxpp,omitempty"`
}

type RosterEntry struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

const StatusFainted = "fainted"

// HPFraction returns hp/maxHp, treating a missing maxHp as 1.
func (a *ActivePokemon) HPFraction() float64 {
	if a == nil {
		return 0
	}
	maxHP := a.MaxHP
	if maxHP <= 0 {
		maxHP = 1
	}
	return a.HP / maxHP
}

// Active returns the active combatant for slot, or nil.
func (s *BattleState) Active(slot string) *ActivePokemon {
	if s == nil || s.ActivePokemon == nil {
		return nil
	}
	return s.ActivePokemon[slot]
}

// Roster returns the team status list for slot.
func (s *BattleState) Roster(slot string) []RosterEntry {
	if s == nil || s.Teams == nil {
		return nil
	}
	return s.Teams[slot]
}

// ParseBattleState decodes an engine state payload, keeping it verbatim in Raw.
func ParseBattleState(raw []byte) (*BattleState, error) {
	st := &BattleState{Raw: json.RawMessage(raw)}
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, &EngineRejectedError{StatusCode: 200, Message: fmt.Sprintf("malformed battle state: %v", err)}
	}
	return st, nil
}
