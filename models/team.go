package models

import "gorm.io/datatypes"

const MaxTeamSize = 6
const MaxMovesPerMember = 4

// TeamMember is one Pokémon loadout inside a team roster.
type TeamMember struct {
	Name    string         `json:"name"`
	Level   int            `json:"level"`
	Item    string         `json:"item,omitempty"`
	Ability string         `json:"ability,omitempty"`
	Gender  string         `json:"gender,omitempty"` // M | F | ""
	Moves   []string       `json:"moves,omitempty"`
	EVs     map[string]int `json:"evs,omitempty"` // e.g. {"SpA": 252, "Spe": 252}
	Nature  string         `json:"nature,omitempty"`
}

// Team is a user-owned roster of up to six Pokémon.
type Team struct {
	ID      string                          `json:"id" gorm:"primaryKey"`
	OwnerID string                          `json:"owner_id" gorm:"index;not null"`
	Name    string                          `json:"name" gorm:"not null"`
	Slug    string                          `json:"slug" gorm:"index"`
	Members datatypes.JSONSlice[TeamMember] `json:"members"`

	Timestamps
}
