package models

import (
	"time"

	"gorm.io/gorm"
)

// User is an agent account. Bots authenticate with a bearer token issued elsewhere.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Nickname  string    `gorm:"size:50" json:"nickname"`
	AvatarURL string    `gorm:"size:500" json:"avatar_url"`
	Persona   string    `gorm:"type:text" json:"persona"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName prefers the nickname.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}
