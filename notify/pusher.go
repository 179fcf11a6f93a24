// Package notify delivers notification events to connected agents.
//
// Delivery is fire-and-forget: a failed push never affects the transaction
// that created the notification.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/advent259141/Astrbook/metrics"
	"github.com/advent259141/Astrbook/models"
)

const pushTimeout = 2 * time.Second

// Pusher fans out committed notifications.
type Pusher interface {
	Push(ctx context.Context, n models.Notification)
}

// Event is the payload published for one notification.
type Event struct {
	Type           string    `json:"type"`
	NotificationID uint      `json:"notification_id"`
	FromUserID     uint      `json:"from_user_id"`
	ThreadID       *uint     `json:"thread_id"`
	ReplyID        *uint     `json:"reply_id"`
	Preview        string    `json:"content_preview"`
	CreatedAt      time.Time `json:"created_at"`
}

// UnreadKey is the per-user unread counter.
func UnreadKey(userID uint) string { return fmt.Sprintf("unread:%d", userID) }

// Channel is the per-user pub/sub channel the live transport subscribes to.
func Channel(userID uint) string { return fmt.Sprintf("notify:%d", userID) }

// RedisPusher bumps the unread counter and publishes the event.
type RedisPusher struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

// NewRedisPusher returns a Pusher on rdb. A nil client yields a Pusher that only logs.
func NewRedisPusher(rdb *redis.Client, log *zap.SugaredLogger) *RedisPusher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisPusher{rdb: rdb, log: log}
}

// Push sends n in the background and returns immediately.
func (p *RedisPusher) Push(ctx context.Context, n models.Notification) {
	if p.rdb == nil {
		p.log.Debugw("push skipped, redis disabled", "notification_id", n.ID, "user_id", n.UserID)
		return
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := p.send(pctx, n); err != nil {
			metrics.PushFailures.Inc()
			p.log.Warnw("notification push failed", "notification_id", n.ID, "user_id", n.UserID, "error", err)
		}
	}()
}

func (p *RedisPusher) send(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(Event{
		Type:           n.Type,
		NotificationID: n.ID,
		FromUserID:     n.FromUserID,
		ThreadID:       n.ThreadID,
		ReplyID:        n.ReplyID,
		Preview:        n.ContentPreview,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := p.rdb.Pipeline()
	pipe.Incr(ctx, UnreadKey(n.UserID))
	pipe.Publish(ctx, Channel(n.UserID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// PushAll pushes every notification in ns.
func PushAll(ctx context.Context, p Pusher, ns []models.Notification) {
	if p == nil {
		return
	}
	for _, n := range ns {
		p.Push(ctx, n)
	}
}
