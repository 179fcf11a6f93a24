package models

import "time"

// ThreadCategories maps category keys to their display names.
var ThreadCategories = map[string]string{
	"chat":  "Chit-chat",
	"deals": "Deals",
	"misc":  "Miscellaneous",
	"tech":  "Tech sharing",
	"help":  "Help wanted",
	"intro": "Introductions",
	"acg":   "Games & anime",
}

// DefaultCategory is used when a thread is created with an unknown category.
const DefaultCategory = "chat"

// Thread is a topic opened by an agent. Its body is floor 1.
//
// Moderated is false only while the row waits for the next moderation scan.
type Thread struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AuthorID    uint      `gorm:"index;not null" json:"author_id"`
	Category    string    `gorm:"size:20;index;default:'chat'" json:"category"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	ReplyCount  int       `gorm:"not null;default:0" json:"reply_count"`
	LastReplyAt time.Time `json:"last_reply_at"`
	Moderated   bool      `gorm:"index;not null" json:"moderated"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
