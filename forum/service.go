package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/moderation"
	"github.com/advent259141/Astrbook/notify"
	"github.com/advent259141/Astrbook/utils"
)

const (
	maxTitleLen   = 200
	previewLength = 100
)

// RejectedError is returned when a new thread fails the synchronous check.
type RejectedError struct {
	Category string
	Reason   string
}

func (e *RejectedError) Error() string {
	return "content rejected by moderation: " + e.Reason
}

// Service creates forum content.
type Service struct {
	db       *gorm.DB
	pipeline *moderation.Pipeline
	floors   FloorAllocator
	pusher   notify.Pusher
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewService creates a Service. pusher may be nil.
func NewService(db *gorm.DB, pipeline *moderation.Pipeline, pusher notify.Pusher, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{db: db, pipeline: pipeline, pusher: pusher, log: log, now: time.Now}
}

// CreateThread checks the thread with the classifier before storing it. A
// rejection is logged and returned as *RejectedError.
func (s *Service) CreateThread(ctx context.Context, authorID uint, title, content, category string) (*models.Thread, error) {
	title = utils.Truncate(utils.Sanitize(title), maxTitleLen)
	content = utils.Sanitize(content)
	if title == "" || content == "" {
		return nil, ErrEmptyContent
	}
	if _, ok := models.ThreadCategories[category]; !ok {
		category = models.DefaultCategory
	}

	settings := s.pipeline.Settings(ctx)
	v := s.pipeline.ScanWith(ctx, s.db, settings, []moderation.Subject{{
		Type:     moderation.ContentThread,
		AuthorID: authorID,
		Content:  title + "\n" + content,
	}})[0]
	if !v.Passed {
		reason := v.Reason
		if reason == "" {
			reason = moderation.FallbackReason
		}
		s.log.Infow("thread rejected on submit", "author_id", authorID, "category", v.Category)
		return nil, &RejectedError{Category: v.Category, Reason: reason}
	}

	now := s.now()
	thread := models.Thread{
		AuthorID:    authorID,
		Category:    category,
		Title:       title,
		Content:     content,
		LastReplyAt: now,
		// A thread that only passed because the classifier failed waits for the next scan.
		Moderated: !settings.Active() || v.Err == nil,
	}
	if err := s.db.WithContext(ctx).Create(&thread).Error; err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &thread, nil
}

// CreateReply appends a floor to a thread.
func (s *Service) CreateReply(ctx context.Context, authorID, threadID uint, content string) (*models.Reply, error) {
	content = utils.Sanitize(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	active := s.pipeline.Settings(ctx).Active()
	mentioned, err := resolveMentions(ctx, s.db, content)
	if err != nil {
		return nil, err
	}

	var (
		reply models.Reply
		notes []models.Notification
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thread, floor, err := s.floors.lock(ctx, tx, threadID)
		if err != nil {
			return err
		}
		now := s.now()
		reply = models.Reply{
			ThreadID:  threadID,
			AuthorID:  authorID,
			FloorNum:  &floor,
			Content:   content,
			Moderated: !active,
			CreatedAt: now,
		}
		if err := tx.Create(&reply).Error; err != nil {
			return fmt.Errorf("create reply: %w", err)
		}
		if err := tx.Model(&models.Thread{}).Where("id = ?", threadID).UpdateColumns(map[string]interface{}{
			"reply_count":   floor - 1,
			"last_reply_at": now,
		}).Error; err != nil {
			return fmt.Errorf("update thread counters: %w", err)
		}

		fan := newFanout(authorID, threadID, reply.ID, content)
		fan.add(thread.AuthorID, models.NotificationReply)
		for _, uid := range mentioned {
			fan.add(uid, models.NotificationMention)
		}
		notes, err = fan.save(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	notify.PushAll(ctx, s.pusher, notes)
	return &reply, nil
}

// CreateSubReply nests a reply under a floor. A sub-reply target is
// redirected to its floor and becomes the reply_to target.
func (s *Service) CreateSubReply(ctx context.Context, authorID, targetID uint, replyToID *uint, content string) (*models.Reply, error) {
	content = utils.Sanitize(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	active := s.pipeline.Settings(ctx).Active()
	mentioned, err := resolveMentions(ctx, s.db, content)
	if err != nil {
		return nil, err
	}

	var (
		sub   models.Reply
		notes []models.Notification
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := findReply(tx, "id = ?", targetID)
		if err != nil {
			return err
		}
		floor := target
		if target.IsSubReply() {
			if floor, err = findReply(tx, "id = ?", *target.ParentID); err != nil {
				return err
			}
			if replyToID == nil {
				replyToID = &target.ID
			}
		}

		var replyTo *models.Reply
		if replyToID != nil {
			rt, err := findReply(tx, "id = ? AND parent_id = ?", *replyToID, floor.ID)
			if err != nil {
				return err
			}
			replyTo = &rt
		}

		parentID := floor.ID
		sub = models.Reply{
			ThreadID:  floor.ThreadID,
			AuthorID:  authorID,
			Content:   content,
			ParentID:  &parentID,
			ReplyToID: replyToID,
			Moderated: !active,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&sub).Error; err != nil {
			return fmt.Errorf("create sub-reply: %w", err)
		}

		fan := newFanout(authorID, floor.ThreadID, sub.ID, content)
		fan.add(floor.AuthorID, models.NotificationSubReply)
		if replyTo != nil {
			fan.add(replyTo.AuthorID, models.NotificationSubReply)
		}
		for _, uid := range mentioned {
			fan.add(uid, models.NotificationMention)
		}
		notes, err = fan.save(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	notify.PushAll(ctx, s.pusher, notes)
	return &sub, nil
}

func findReply(tx *gorm.DB, query string, args ...interface{}) (models.Reply, error) {
	var r models.Reply
	err := tx.Where(query, args...).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r, ErrReplyNotFound
	}
	if err != nil {
		return r, fmt.Errorf("load reply: %w", err)
	}
	return r, nil
}

// fanout collects notifications for one new reply, at most one per recipient
// and none for the author.
type fanout struct {
	from     uint
	threadID uint
	replyID  uint
	preview  string
	seen     map[uint]bool
	notes    []models.Notification
}

func newFanout(from, threadID, replyID uint, content string) *fanout {
	return &fanout{
		from:     from,
		threadID: threadID,
		replyID:  replyID,
		preview:  utils.Truncate(content, previewLength),
		seen:     map[uint]bool{from: true},
	}
}

func (f *fanout) add(userID uint, typ string) {
	if userID == 0 || f.seen[userID] {
		return
	}
	f.seen[userID] = true
	tid, rid := f.threadID, f.replyID
	f.notes = append(f.notes, models.Notification{
		UserID:         userID,
		FromUserID:     f.from,
		Type:           typ,
		ThreadID:       &tid,
		ReplyID:        &rid,
		ContentPreview: f.preview,
	})
}

func (f *fanout) save(tx *gorm.DB) ([]models.Notification, error) {
	if len(f.notes) == 0 {
		return nil, nil
	}
	if err := tx.Create(&f.notes).Error; err != nil {
		return nil, fmt.Errorf("create notifications: %w", err)
	}
	return f.notes, nil
}
