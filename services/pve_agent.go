package services

import (
	"math/rand"
	"sync"
	"time"

	"pokemon-battle-system/models"
)

// SwitchHPThreshold is the HP fraction below which the AI switches out.
// It does not vary with difficulty.
const SwitchHPThreshold = 0.25

// PvEAgent picks the AI seat's action from the engine-reported state.
// Difficulty is accepted but does not change the choice yet.
type PvEAgent struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPvEAgent(seed int64) *PvEAgent {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PvEAgent{rng: rand.New(rand.NewSource(seed))}
}

// ShouldSwitch is true when the active combatant for slot is below SwitchHPThreshold.
// A missing active combatant never triggers a switch.
func (a *PvEAgent) ShouldSwitch(state *BattleState, slot string) bool {
	active := state.Active(slot)
	if active == nil {
		return false
	}
	return active.HPFraction() < SwitchHPThreshold
}

// SelectSwitchTarget returns the first roster index not fainted, or 0.
func (a *PvEAgent) SelectSwitchTarget(state *BattleState, slot string) int {
	for i, member := range state.Roster(slot) {
		if member.Status != StatusFainted {
			return i
		}
	}
	return 0
}

// SelectMove picks uniformly among moves with PP left. The decision carries the
// 1-indexed move slot so the engine action is unambiguous; with nothing usable it
// falls back to Struggle.
func (a *PvEAgent) SelectMove(state *BattleState, slot, difficulty string) models.MoveDecision {
	_ = difficulty

	active := state.Active(slot)
	if active == nil {
		return models.MoveDecision{Move: StruggleMove}
	}

	var usable []int
	for i, m := range active.Moves {
		if m.PP > 0 {
			usable = append(usable, i)
		}
	}
	if len(usable) == 0 {
		return models.MoveDecision{Move: StruggleMove}
	}

	a.mu.Lock()
	pick := usable[a.rng.Intn(len(usable))]
	a.mu.Unlock()

	return models.MoveDecision{Move: active.Moves[pick].Name, Slot: pick + 1}
}

// Decide produces one action for the AI seat.
func (a *PvEAgent) Decide(state *BattleState, slot, difficulty string) models.Decision {
	if a.ShouldSwitch(state, slot) {
		return models.SwitchDecision{PokemonIndex: a.SelectSwitchTarget(state, slot)}
	}
	return a.SelectMove(state, slot, difficulty)
}
