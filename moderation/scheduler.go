package moderation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/metrics"
	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/utils"
)

// DefaultBackoff is the pause after a failed pass.
const DefaultBackoff = 10 * time.Second

// State is the scheduler's current phase.
type State int32

const (
	Idle State = iota
	Sleeping
	Scanning
	ApplyingThreads
	ApplyingReplies
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sleeping:
		return "sleeping"
	case Scanning:
		return "scanning"
	case ApplyingThreads:
		return "applying_threads"
	case ApplyingReplies:
		return "applying_replies"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ScanReport summarizes one pass.
type ScanReport struct {
	RunID           string        `json:"run_id"`
	Skipped         bool          `json:"skipped"`
	Threads         int           `json:"threads"`
	Replies         int           `json:"replies"`
	ThreadsRejected int           `json:"threads_rejected"`
	RepliesRejected int           `json:"replies_rejected"`
	FailedOpen      int           `json:"failed_open"`
	Duration        time.Duration `json:"duration"`
	Removals        []*Removal    `json:"-"`
}

// Scheduler periodically classifies every pending thread and reply.
type Scheduler struct {
	db       *gorm.DB
	store    SettingsStore
	pipeline *Pipeline
	deleter  *CascadeDeleter
	log      *zap.SugaredLogger
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) bool

	state atomic.Int32
	runMu sync.Mutex
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBackoff sets the pause after a failed pass.
func WithBackoff(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.backoff = d }
}

// WithSleep replaces the timer used between passes. sleep returns false when
// ctx ends before d elapses.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) SchedulerOption {
	return func(s *Scheduler) { s.sleep = sleep }
}

// NewScheduler creates a Scheduler.
func NewScheduler(db *gorm.DB, store SettingsStore, pipeline *Pipeline, deleter *CascadeDeleter, log *zap.SugaredLogger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		db:       db,
		store:    store,
		pipeline: pipeline,
		deleter:  deleter,
		log:      log,
		backoff:  DefaultBackoff,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current phase.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// Run scans on the configured interval until ctx is cancelled. Cancellation
// while sleeping triggers one last pass; cancellation during a pass lets that
// pass finish and returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("moderation scheduler started")
	defer s.setState(Idle)
	for {
		interval := ScanInterval(context.WithoutCancel(ctx), s.store)
		s.setState(Sleeping)
		if !s.sleep(ctx, interval) {
			s.finalPass(ctx)
			return
		}
		_, err := s.safeRunOnce(ctx)
		if ctx.Err() != nil {
			s.log.Info("moderation scheduler stopped")
			return
		}
		if err != nil {
			s.log.Errorw("moderation pass failed", "error", err, "backoff", s.backoff)
			s.setState(Sleeping)
			if !s.sleep(ctx, s.backoff) {
				s.finalPass(ctx)
				return
			}
		}
	}
}

func (s *Scheduler) finalPass(ctx context.Context) {
	if _, err := s.safeRunOnce(context.WithoutCancel(ctx)); err != nil {
		s.log.Debugw("final moderation pass failed", "error", err)
	}
	s.log.Info("moderation scheduler stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) safeRunOnce(ctx context.Context) (report ScanReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("moderation pass panicked: %v", r)
		}
	}()
	return s.RunOnce(ctx)
}

// RunOnce performs a single pass inside one transaction. A started pass is
// not interrupted by cancellation of ctx.
func (s *Scheduler) RunOnce(ctx context.Context) (ScanReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	defer s.setState(Idle)

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	report := ScanReport{RunID: uuid.NewString()}
	log := s.log.With("run_id", report.RunID)

	s.setState(Scanning)
	settings := s.pipeline.Settings(ctx)
	batchSize := BatchSize(ctx, s.store)

	var removals []*Removal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removals = removals[:0]
		if !settings.Active() {
			report.Skipped = true
			return releasePending(tx, &report)
		}

		s.setState(ApplyingThreads)
		if err := s.applyThreads(ctx, tx, settings, &report, &removals); err != nil {
			return err
		}
		s.setState(ApplyingReplies)
		return s.applyReplies(ctx, tx, settings, batchSize, &report, &removals)
	})
	report.Duration = time.Since(start)
	metrics.ObserveScan(start, err)
	if err != nil {
		return report, fmt.Errorf("moderation pass %s: %w", report.RunID, err)
	}

	report.Removals = removals
	s.deleter.Announce(ctx, removals...)
	if report.Skipped {
		log.Debugw("moderation inactive, pending content released", "threads", report.Threads, "replies", report.Replies)
	} else if report.Threads+report.Replies > 0 {
		log.Infow("moderation pass finished",
			"threads", report.Threads, "replies", report.Replies,
			"threads_rejected", report.ThreadsRejected, "replies_rejected", report.RepliesRejected,
			"failed_open", report.FailedOpen, "duration", report.Duration)
	}
	return report, nil
}

// releasePending marks all pending content moderated without classifying it.
func releasePending(tx *gorm.DB, report *ScanReport) error {
	res := tx.Model(&models.Thread{}).Where("moderated = ?", false).UpdateColumn("moderated", true)
	if res.Error != nil {
		return fmt.Errorf("release threads: %w", res.Error)
	}
	report.Threads = int(res.RowsAffected)
	res = tx.Model(&models.Reply{}).Where("moderated = ?", false).UpdateColumn("moderated", true)
	if res.Error != nil {
		return fmt.Errorf("release replies: %w", res.Error)
	}
	report.Replies = int(res.RowsAffected)
	return nil
}

func (s *Scheduler) applyThreads(ctx context.Context, tx *gorm.DB, settings Settings, report *ScanReport, removals *[]*Removal) error {
	var threads []models.Thread
	if err := tx.Where("moderated = ?", false).Order("id").Find(&threads).Error; err != nil {
		return fmt.Errorf("load pending threads: %w", err)
	}
	metrics.PendingItems.WithLabelValues(string(ContentThread)).Set(float64(len(threads)))
	report.Threads = len(threads)

	for _, t := range threads {
		v := s.pipeline.ScanWith(ctx, tx, settings, []Subject{{
			ID:       t.ID,
			Type:     ContentThread,
			AuthorID: t.AuthorID,
			Content:  utils.Truncate(t.Title+"\n"+t.Content, MaxContentLength),
		}})[0]
		if v.Err != nil {
			report.FailedOpen++
		}
		if v.Passed {
			if err := tx.Model(&models.Thread{}).Where("id = ?", t.ID).UpdateColumn("moderated", true).Error; err != nil {
				return fmt.Errorf("mark thread %d: %w", t.ID, err)
			}
			continue
		}
		r, err := s.deleter.RejectThread(ctx, tx, t.ID, v.Reason)
		if err != nil {
			return err
		}
		if r != nil {
			report.ThreadsRejected++
			*removals = append(*removals, r)
		}
	}
	return nil
}

func (s *Scheduler) applyReplies(ctx context.Context, tx *gorm.DB, settings Settings, batchSize int, report *ScanReport, removals *[]*Removal) error {
	var pending []models.Reply
	if err := tx.Where("moderated = ?", false).Order("id").Find(&pending).Error; err != nil {
		return fmt.Errorf("load pending replies: %w", err)
	}
	metrics.PendingItems.WithLabelValues(string(ContentReply)).Set(float64(len(pending)))
	report.Replies = len(pending)

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch, err := stillPending(tx, pending[start:end])
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}

		subjects := make([]Subject, len(batch))
		for i, r := range batch {
			ct := ContentReply
			if r.IsSubReply() {
				ct = ContentSubReply
			}
			subjects[i] = Subject{ID: r.ID, Type: ct, AuthorID: r.AuthorID, Content: r.Content}
		}
		verdicts := s.pipeline.ScanWith(ctx, tx, settings, subjects)

		var passed []uint
		for i, r := range batch {
			v := verdicts[i]
			if v.Err != nil {
				report.FailedOpen++
			}
			if v.Passed {
				passed = append(passed, r.ID)
				continue
			}
			rm, err := s.deleter.RejectReply(ctx, tx, r.ID, v.Reason)
			if err != nil {
				return err
			}
			if rm != nil {
				report.RepliesRejected++
				*removals = append(*removals, rm)
			}
		}
		if len(passed) > 0 {
			if err := tx.Model(&models.Reply{}).Where("id IN ?", passed).UpdateColumn("moderated", true).Error; err != nil {
				return fmt.Errorf("mark replies: %w", err)
			}
		}
	}
	return nil
}

// stillPending drops replies an earlier rejection in this pass already removed.
func stillPending(tx *gorm.DB, replies []models.Reply) ([]models.Reply, error) {
	ids := make([]uint, len(replies))
	for i, r := range replies {
		ids[i] = r.ID
	}
	var alive []uint
	if err := tx.Model(&models.Reply{}).Where("id IN ?", ids).Pluck("id", &alive).Error; err != nil {
		return nil, fmt.Errorf("recheck replies: %w", err)
	}
	if len(alive) == len(replies) {
		return replies, nil
	}
	keep := make(map[uint]bool, len(alive))
	for _, id := range alive {
		keep[id] = true
	}
	out := replies[:0:0]
	for _, r := range replies {
		if keep[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}
