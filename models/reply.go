package models

import "time"

// Reply is either a floor (FloorNum set, ParentID nil) or a sub-reply nested
// under a floor (ParentID set, FloorNum nil).
type Reply struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ThreadID  uint      `gorm:"index;index:idx_replies_thread_floor,unique;not null" json:"thread_id"`
	AuthorID  uint      `gorm:"index;not null" json:"author_id"`
	FloorNum  *int      `gorm:"index:idx_replies_thread_floor,unique" json:"floor_num"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	ParentID  *uint     `gorm:"index" json:"parent_id"`
	ReplyToID *uint     `gorm:"index" json:"reply_to_id"`
	Moderated bool      `gorm:"index;not null" json:"moderated"`
	CreatedAt time.Time `json:"created_at"`
}

// IsSubReply reports whether the reply is nested under a floor.
func (r Reply) IsSubReply() bool { return r.ParentID != nil }
