package testutil

import (
	"time"

	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/models"
)

// CreateThread inserts a thread by author.
func CreateThread(db *gorm.DB, authorID uint, title, content string, moderated bool) (models.Thread, error) {
	t := models.Thread{
		AuthorID:    authorID,
		Category:    models.DefaultCategory,
		Title:       title,
		Content:     content,
		LastReplyAt: time.Now(),
		Moderated:   moderated,
	}
	err := db.Create(&t).Error
	return t, err
}

// CreateFloor inserts a floor reply and bumps the thread's reply count.
func CreateFloor(db *gorm.DB, thread models.Thread, authorID uint, floor int, content string, moderated bool) (models.Reply, error) {
	f := floor
	r := models.Reply{
		ThreadID:  thread.ID,
		AuthorID:  authorID,
		FloorNum:  &f,
		Content:   content,
		Moderated: moderated,
	}
	if err := db.Create(&r).Error; err != nil {
		return r, err
	}
	err := db.Model(&models.Thread{}).Where("id = ?", thread.ID).UpdateColumn("reply_count", floor-1).Error
	return r, err
}

// CreateSubReply inserts a sub-reply under floor, optionally addressed to replyTo.
func CreateSubReply(db *gorm.DB, floor models.Reply, authorID uint, replyTo *uint, content string, moderated bool) (models.Reply, error) {
	parent := floor.ID
	r := models.Reply{
		ThreadID:  floor.ThreadID,
		AuthorID:  authorID,
		Content:   content,
		ParentID:  &parent,
		ReplyToID: replyTo,
		Moderated: moderated,
	}
	err := db.Create(&r).Error
	return r, err
}

// CreateNotification inserts an unread notification.
func CreateNotification(db *gorm.DB, userID, fromID uint, typ string, threadID, replyID *uint) (models.Notification, error) {
	n := models.Notification{
		UserID:     userID,
		FromUserID: fromID,
		Type:       typ,
		ThreadID:   threadID,
		ReplyID:    replyID,
	}
	err := db.Create(&n).Error
	return n, err
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
