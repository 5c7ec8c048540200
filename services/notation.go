package services

import (
	"fmt"
	"strconv"
	"strings"

	"pokemon-battle-system/models"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DefaultAction  = ">move 1" // "use first available option" placeholder for the other seat
	StruggleMove   = "Struggle"
	AIDisplayName  = "AI Opponent"
	maxEngineName  = 20
	defaultItem    = "Leftovers"
	defaultNature  = "Timid"
	defaultMove    = "Tackle"
	defaultEVsSpec = "EVs: 252 SpA / 252 Spe / 4 HP"
)

// evOrder fixes the order stats are written in, so team strings are deterministic.
var evOrder = []string{"HP", "Atk", "Def", "SpA", "SpD", "Spe"}

var titleCaser = cases.Title(language.English)

// CanonicalMoveName normalizes a user-typed move name, e.g. "thunderbolt " -> "Thunderbolt".
func CanonicalMoveName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return titleCaser.String(strings.ToLower(name))
}

// EngineName turns a display name into the ASCII, length-capped form the engine accepts.
func EngineName(name string) string {
	n := strings.TrimSpace(unidecode.Unidecode(name))
	n = strings.ReplaceAll(n, "|", "")
	if n == "" {
		n = "Trainer"
	}
	if len(n) > maxEngineName {
		n = strings.TrimSpace(n[:maxEngineName])
	}
	return n
}

// BuildTeam serializes a roster into team notation, one Pokémon per line:
// Name|Item|Ability|Gender|Move1,Move2,...|EVs: <v> <Stat> / ...|Nature|
func BuildTeam(members []models.TeamMember) string {
	lines := make([]string, 0, len(members))
	for _, m := range members {
		name := teamField(m.Name)
		if name == "" {
			name = "Pikachu"
		}
		item := teamField(m.Item)
		if item == "" {
			item = defaultItem
		}
		var moves []string
		for _, mv := range m.Moves {
			if mv = strings.ReplaceAll(teamField(mv), ",", ""); mv != "" {
				moves = append(moves, mv)
			}
		}
		if len(moves) == 0 {
			moves = []string{defaultMove}
		}
		nature := teamField(m.Nature)
		if nature == "" {
			nature = defaultNature
		}

		fields := []string{
			name,
			item,
			teamField(m.Ability),
			teamField(m.Gender),
			strings.Join(moves, ","),
			evString(m.EVs),
			nature,
		}
		lines = append(lines, strings.Join(fields, "|")+"|")
	}
	return strings.Join(lines, "\n")
}

var teamFieldStripper = strings.NewReplacer("|", "", "\r", "", "\n", "")

// teamField drops characters that would break the line or field layout.
func teamField(v string) string {
	return strings.TrimSpace(teamFieldStripper.Replace(v))
}

func evString(evs map[string]int) string {
	if len(evs) == 0 {
		return defaultEVsSpec
	}
	var parts []string
	for _, stat := range evOrder {
		if v, ok := evs[stat]; ok {
			parts = append(parts, fmt.Sprintf("%d %s", v, stat))
		}
	}
	if len(parts) == 0 {
		return defaultEVsSpec
	}
	return "EVs: " + strings.Join(parts, " / ")
}

// DefaultTeam is used for a seat that has no roster.
func DefaultTeam() []models.TeamMember {
	evSpecial := map[string]int{"SpA": 252, "Spe": 252, "HP": 4}
	return []models.TeamMember{
		{Name: "Pikachu", Level: 50, Item: "Assault Vest", Ability: "Lightningrod", Moves: []string{"Thunderbolt", "Volt Switch", "Nuzzle", "Play Nice"}, EVs: evSpecial, Nature: "Timid"},
		{Name: "Charizard", Level: 50, Item: "Charizardite X", Ability: "Blaze", Moves: []string{"Flamethrower", "Dragon Claw", "Roost", "Swords Dance"}, EVs: evSpecial, Nature: "Timid"},
		{Name: "Blastoise", Level: 50, Item: "Assault Vest", Ability: "Torrent", Moves: []string{"Hydro Pump", "Ice Beam", "Earthquake", "Volt Switch"}, EVs: evSpecial, Nature: "Timid"},
		{Name: "Venusaur", Level: 50, Item: "Assault Vest", Ability: "Chlorophyll", Moves: []string{"Giga Drain", "Sludge Bomb", "Earthquake", "Sleep Powder"}, EVs: evSpecial, Nature: "Timid"},
		{Name: "Lapras", Level: 50, Item: "Assault Vest", Ability: "Water Absorb", Moves: []string{"Hydro Pump", "Ice Beam", "Thunderbolt", "Recover"}, EVs: evSpecial, Nature: "Timid"},
		{Name: "Gyarados", Level: 50, Item: "Assault Vest", Ability: "Intimidate", Moves: []string{"Earthquake", "Waterfall", "Stone Edge", "Crunch"}, EVs: map[string]int{"Atk": 252, "Spe": 252, "HP": 4}, Nature: "Adamant"},
	}
}

// GenerateAITeam builds the AI roster. Team notation carries no level, so the
// roster is the same for every difficulty.
func GenerateAITeam() []models.TeamMember {
	const level = 50
	return []models.TeamMember{
		{Name: "Pikachu", Level: level, Moves: []string{"Thunderbolt", "Quick Attack", "Thunder Wave", "Iron Tail"}},
		{Name: "Blastoise", Level: level, Moves: []string{"Hydro Pump", "Ice Beam", "Earthquake", "Recover"}},
	}
}

// BuildAction translates a decision into engine action notation.
// Move slots and switch targets are 1-indexed on the wire; SwitchDecision.PokemonIndex is 0-indexed.
func BuildAction(d models.Decision) (string, error) {
	switch v := d.(type) {
	case models.MoveDecision:
		if v.Slot > 0 {
			return ">move " + strconv.Itoa(v.Slot), nil
		}
		if strings.TrimSpace(v.Move) == "" {
			return "", fmt.Errorf("%w: empty move", ErrInvalidAction)
		}
		return ">move " + strings.ToLower(strings.TrimSpace(v.Move)), nil
	case models.SwitchDecision:
		if v.PokemonIndex < 0 || v.PokemonIndex >= models.MaxTeamSize {
			return "", fmt.Errorf("%w: switch index %d out of range", ErrInvalidAction, v.PokemonIndex)
		}
		return ">switch " + strconv.Itoa(v.PokemonIndex+1), nil
	case models.ForfeitDecision:
		return "", fmt.Errorf("%w: forfeit is not a turn action", ErrInvalidAction)
	default:
		return "", fmt.Errorf("%w: unsupported decision %T", ErrInvalidAction, d)
	}
}

// LogSummary is what ParseLogs extracts from engine protocol lines.
type LogSummary struct {
	Turns  int        `json:"turns"`
	Winner string     `json:"winner,omitempty"` // engine player name
	Tie    bool       `json:"tie"`
	Events []LogEvent `json:"events"`
}

type LogEvent struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ParseLogs scans engine protocol lines for turn markers, the winner and notable events.
func ParseLogs(logs []string) LogSummary {
	sum := LogSummary{Events: []LogEvent{}}
	for _, line := range logs {
		switch {
		case strings.HasPrefix(line, "|turn|"):
			sum.Turns++
		case strings.HasPrefix(line, "|win|"):
			sum.Winner = strings.TrimSpace(strings.TrimPrefix(line, "|win|"))
		case line == "|tie" || strings.HasPrefix(line, "|tie|"):
			sum.Tie = true
		case strings.HasPrefix(line, "|faint|"):
			sum.Events = append(sum.Events, LogEvent{Type: "faint", Data: line})
		case strings.HasPrefix(line, "|move|"):
			sum.Events = append(sum.Events, LogEvent{Type: "move", Data: line})
		}
	}
	return sum
}

// Terminal reports whether the logs end the battle.
func (s LogSummary) Terminal() bool {
	return s.Winner != "" || s.Tie
}
