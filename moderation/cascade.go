package moderation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/advent259141/Astrbook/metrics"
	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/notify"
	"github.com/advent259141/Astrbook/utils"
)

// FallbackReason is given to authors when the classifier rejected without a reason.
const FallbackReason = "content violates community guidelines"

const noticePreviewLen = 50

// Removal describes one completed rejection.
type Removal struct {
	Type           ContentType
	TargetID       uint
	ThreadID       uint
	RepliesRemoved int
	Notice         models.Notification
}

// CascadeDeleter removes rejected content together with everything that
// depends on it, leaving the author a moderation notice.
type CascadeDeleter struct {
	pusher notify.Pusher
	log    *zap.SugaredLogger
}

// NewCascadeDeleter creates a CascadeDeleter. pusher may be nil.
func NewCascadeDeleter(pusher notify.Pusher, log *zap.SugaredLogger) *CascadeDeleter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CascadeDeleter{pusher: pusher, log: log}
}

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// RejectThread deletes a thread, its replies and their notifications. It
// returns nil when the thread no longer exists.
func (d *CascadeDeleter) RejectThread(ctx context.Context, db *gorm.DB, threadID uint, reason string) (*Removal, error) {
	if reason == "" {
		reason = FallbackReason
	}
	var removal *Removal
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var thread models.Thread
		err := lockForUpdate(tx).Take(&thread, threadID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock thread %d: %w", threadID, err)
		}

		tid := thread.ID
		notice := models.Notification{
			UserID:     thread.AuthorID,
			FromUserID: thread.AuthorID,
			Type:       models.NotificationModeration,
			ThreadID:   &tid,
			ContentPreview: utils.Truncate(fmt.Sprintf("Your thread \"%s\" failed content moderation and was removed. Reason: %s",
				utils.Truncate(thread.Title, noticePreviewLen), reason), 255),
		}
		if err := tx.Create(&notice).Error; err != nil {
			return fmt.Errorf("create moderation notice: %w", err)
		}

		var replyIDs []uint
		if err := tx.Model(&models.Reply{}).Where("thread_id = ?", tid).Pluck("id", &replyIDs).Error; err != nil {
			return fmt.Errorf("collect replies: %w", err)
		}

		res := tx.Where("thread_id = ? AND id <> ?", tid, notice.ID).Delete(&models.Notification{})
		if res.Error != nil {
			return fmt.Errorf("delete thread notifications: %w", res.Error)
		}
		notesRemoved := res.RowsAffected
		if len(replyIDs) > 0 {
			res = tx.Where("reply_id IN ? AND id <> ?", replyIDs, notice.ID).Delete(&models.Notification{})
			if res.Error != nil {
				return fmt.Errorf("delete reply notifications: %w", res.Error)
			}
			notesRemoved += res.RowsAffected
			if err := detachReferences(tx, replyIDs); err != nil {
				return err
			}
		}

		res = tx.Where("thread_id = ?", tid).Delete(&models.Reply{})
		if res.Error != nil {
			return fmt.Errorf("delete replies: %w", res.Error)
		}
		// The notice outlives the thread.
		if err := tx.Model(&models.Notification{}).Where("id = ?", notice.ID).Update("thread_id", nil).Error; err != nil {
			return fmt.Errorf("detach moderation notice: %w", err)
		}
		notice.ThreadID = nil
		if err := tx.Delete(&models.Thread{}, tid).Error; err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}

		metrics.CascadeDeletedRows.WithLabelValues("threads").Inc()
		metrics.CascadeDeletedRows.WithLabelValues("replies").Add(float64(res.RowsAffected))
		metrics.CascadeDeletedRows.WithLabelValues("notifications").Add(float64(notesRemoved))
		removal = &Removal{
			Type:           ContentThread,
			TargetID:       tid,
			ThreadID:       tid,
			RepliesRemoved: int(res.RowsAffected),
			Notice:         notice,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if removal != nil {
		d.log.Infow("thread removed by moderation", "thread_id", threadID, "replies", removal.RepliesRemoved, "reason", reason)
	}
	return removal, nil
}

// RejectReply deletes a floor with its sub-replies, or a single sub-reply.
// It returns nil when the reply no longer exists.
func (d *CascadeDeleter) RejectReply(ctx context.Context, db *gorm.DB, replyID uint, reason string) (*Removal, error) {
	if reason == "" {
		reason = FallbackReason
	}
	var removal *Removal
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reply models.Reply
		err := lockForUpdate(tx).Take(&reply, replyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock reply %d: %w", replyID, err)
		}

		ct, label := ContentReply, "reply"
		if reply.IsSubReply() {
			ct, label = ContentSubReply, "sub-reply"
		}
		threadID := reply.ThreadID
		notice := models.Notification{
			UserID:     reply.AuthorID,
			FromUserID: reply.AuthorID,
			Type:       models.NotificationModeration,
			ThreadID:   &threadID,
			ContentPreview: utils.Truncate(fmt.Sprintf("Your %s \"%s\" failed content moderation and was removed. Reason: %s",
				label, utils.Truncate(reply.Content, noticePreviewLen), reason), 255),
		}
		if err := tx.Create(&notice).Error; err != nil {
			return fmt.Errorf("create moderation notice: %w", err)
		}

		var subIDs []uint
		if !reply.IsSubReply() {
			if err := tx.Model(&models.Reply{}).Where("parent_id = ?", reply.ID).Pluck("id", &subIDs).Error; err != nil {
				return fmt.Errorf("collect sub-replies: %w", err)
			}
		}
		removed := append([]uint{reply.ID}, subIDs...)

		res := tx.Where("reply_id IN ? AND id <> ?", removed, notice.ID).Delete(&models.Notification{})
		if res.Error != nil {
			return fmt.Errorf("delete reply notifications: %w", res.Error)
		}
		metrics.CascadeDeletedRows.WithLabelValues("notifications").Add(float64(res.RowsAffected))

		if err := detachReferences(tx, removed); err != nil {
			return err
		}
		if len(subIDs) > 0 {
			if err := tx.Where("id IN ?", subIDs).Delete(&models.Reply{}).Error; err != nil {
				return fmt.Errorf("delete sub-replies: %w", err)
			}
		}
		if err := tx.Delete(&models.Reply{}, reply.ID).Error; err != nil {
			return fmt.Errorf("delete reply: %w", err)
		}

		if !reply.IsSubReply() {
			n := 1 + len(subIDs)
			err := tx.Model(&models.Thread{}).Where("id = ?", threadID).
				UpdateColumn("reply_count", gorm.Expr("CASE WHEN reply_count > ? THEN reply_count - ? ELSE 0 END", n, n)).Error
			if err != nil {
				return fmt.Errorf("decrement reply count: %w", err)
			}
		}

		metrics.CascadeDeletedRows.WithLabelValues("replies").Add(float64(len(removed)))
		removal = &Removal{
			Type:           ct,
			TargetID:       reply.ID,
			ThreadID:       threadID,
			RepliesRemoved: len(removed),
			Notice:         notice,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if removal != nil {
		d.log.Infow("reply removed by moderation", "reply_id", replyID, "thread_id", removal.ThreadID, "replies", removal.RepliesRemoved, "reason", reason)
	}
	return removal, nil
}

// detachReferences clears reply_to_id and parent_id on surviving rows that
// point into ids.
func detachReferences(tx *gorm.DB, ids []uint) error {
	if err := tx.Model(&models.Reply{}).Where("reply_to_id IN ? AND id NOT IN ?", ids, ids).
		UpdateColumn("reply_to_id", nil).Error; err != nil {
		return fmt.Errorf("clear reply_to references: %w", err)
	}
	if err := tx.Model(&models.Reply{}).Where("parent_id IN ? AND id NOT IN ?", ids, ids).
		UpdateColumn("parent_id", nil).Error; err != nil {
		return fmt.Errorf("clear parent references: %w", err)
	}
	return nil
}

// Announce pushes the moderation notices of committed removals.
func (d *CascadeDeleter) Announce(ctx context.Context, removals ...*Removal) {
	if d.pusher == nil {
		return
	}
	for _, r := range removals {
		if r != nil {
			d.pusher.Push(ctx, r.Notice)
		}
	}
}
