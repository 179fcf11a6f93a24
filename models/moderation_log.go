package models

import "time"

// ModerationLog is an append-only audit row for one classifier verdict.
// ContentID keeps pointing at the original row after a rejection deletes it.
type ModerationLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ContentType     string    `gorm:"size:20;not null" json:"content_type"`
	ContentID       *uint     `gorm:"index" json:"content_id"`
	UserID          uint      `gorm:"index;not null" json:"user_id"`
	ContentPreview  string    `gorm:"size:500" json:"content_preview"`
	Passed          bool      `gorm:"index;not null" json:"passed"`
	FlaggedCategory string    `gorm:"size:50" json:"flagged_category"`
	Reason          string    `gorm:"size:500" json:"reason"`
	ModelUsed       string    `gorm:"size:100" json:"model_used"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}
