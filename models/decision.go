package models

import (
	"encoding/json"
	"fmt"
)

const (
	DecisionKindMove    = "move"
	DecisionKindSwitch  = "switch"
	DecisionKindForfeit = "forfeit"
)

// Decision is the typed form of a TurnDecision payload, keyed by kind.
type Decision interface {
	Kind() string
}

// MoveDecision uses a move by name. Slot is the 1-indexed move slot when known, 0 otherwise.
type MoveDecision struct {
	Move string `json:"move"`
	Slot int    `json:"slot,omitempty"`
}

func (MoveDecision) Kind() string { return DecisionKindMove }

// SwitchDecision swaps in the roster member at the 0-indexed PokemonIndex.
type SwitchDecision struct {
	PokemonIndex int `json:"pokemonIndex"`
}

func (SwitchDecision) Kind() string { return DecisionKindSwitch }

type ForfeitDecision struct{}

func (ForfeitDecision) Kind() string { return DecisionKindForfeit }

// EncodeDecision returns the kind and JSON payload stored for d.
func EncodeDecision(d Decision) (string, []byte, error) {
	if d == nil {
		return "", nil, fmt.Errorf("nil decision")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s decision: %w", d.Kind(), err)
	}
	return d.Kind(), b, nil
}

// DecodeDecision rebuilds the typed variant for kind from its stored payload.
func DecodeDecision(kind string, payload []byte) (Decision, error) {
	switch kind {
	case DecisionKindMove:
		var m MoveDecision
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode move decision: %w", err)
		}
		return m, nil
	case DecisionKindSwitch:
		var s SwitchDecision
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decode switch decision: %w", err)
		}
		return s, nil
	case DecisionKindForfeit:
		return ForfeitDecision{}, nil
	default:
		return nil, fmt.Errorf("unknown decision kind %q", kind)
	}
}

// TurnResult is what the engine returned for a submitted turn.
// Raw keeps the engine response verbatim for fields this service does not model.
type TurnResult struct {
	Turn int             `json:"turn"`
	Logs []string        `json:"logs"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}
