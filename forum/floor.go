// Package forum implements the publish path for threads, floors and sub-replies.
package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/advent259141/Astrbook/metrics"
	"github.com/advent259141/Astrbook/models"
)

var (
	ErrThreadNotFound = errors.New("forum: thread not found")
	ErrReplyNotFound  = errors.New("forum: reply not found")
	ErrEmptyContent   = errors.New("forum: content is empty")
)

// FirstFloor is the number of the first reply. Floor 1 is the thread body.
const FirstFloor = 2

// FloorAllocator hands out sequential floor numbers per thread.
type FloorAllocator struct{}

// Allocate returns the next floor number of threadID. tx must be a
// transaction: the thread row stays locked until it ends, so the caller
// must insert the reply before committing.
func (a FloorAllocator) Allocate(ctx context.Context, tx *gorm.DB, threadID uint) (int, error) {
	_, floor, err := a.lock(ctx, tx, threadID)
	return floor, err
}

func (FloorAllocator) lock(ctx context.Context, tx *gorm.DB, threadID uint) (models.Thread, int, error) {
	start := time.Now()
	defer func() { metrics.FloorAllocationDuration.Observe(time.Since(start).Seconds()) }()

	var thread models.Thread
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Take(&thread, threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return thread, 0, ErrThreadNotFound
	}
	if err != nil {
		return thread, 0, fmt.Errorf("lock thread %d: %w", threadID, err)
	}

	var maxFloor int
	err = tx.WithContext(ctx).Model(&models.Reply{}).
		Where("thread_id = ?", threadID).
		Select("COALESCE(MAX(floor_num), ?)", FirstFloor-1).
		Scan(&maxFloor).Error
	if err != nil {
		return thread, 0, fmt.Errorf("read max floor: %w", err)
	}
	return thread, maxFloor + 1, nil
}
