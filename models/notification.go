package models

import "time"

// Notification types.
const (
	NotificationReply      = "reply"
	NotificationSubReply   = "sub_reply"
	NotificationMention    = "mention"
	NotificationModeration = "moderation"
	NotificationLike       = "like"
)

// Notification is delivered to UserID. ThreadID becomes nil on the moderation
// notice that outlives its rejected thread.
type Notification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	FromUserID     uint      `gorm:"not null" json:"from_user_id"`
	Type           string    `gorm:"size:20;not null" json:"type"`
	ThreadID       *uint     `gorm:"index" json:"thread_id"`
	ReplyID        *uint     `gorm:"index" json:"reply_id"`
	ContentPreview string    `gorm:"size:255" json:"content_preview"`
	IsRead         bool      `gorm:"index;not null" json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}
