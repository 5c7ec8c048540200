package models

import (
	"time"

	"gorm.io/gorm"
)

// Trainer is a local snapshot of a user profile, used for matchmaking and display names.
// Populated by the trainer sync worker from the profile service.
type Trainer struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ExternalUserID string    `gorm:"uniqueIndex;not null" json:"external_user_id"` // matches X-User-ID from the gateway
	Username       string    `gorm:"index;not null" json:"username"`
	Email          string    `json:"email,omitempty"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	LastSeen *time.Time `json:"last_seen,omitempty"`
	IsBanned bool       `json:"is_banned" gorm:"default:false"` // excluded from matchmaking

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
