// Package moderation classifies forum content through an LLM endpoint and
// removes what it rejects.
package moderation

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/metrics"
	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/utils"
)

// MaxContentLength bounds the text sent to the classifier and stored in the log.
const MaxContentLength = 500

// ContentType names what a verdict was given for.
type ContentType string

const (
	ContentThread   ContentType = "thread"
	ContentReply    ContentType = "reply"
	ContentSubReply ContentType = "sub_reply"
)

// Subject is one piece of content to classify. ID is zero for content that
// has not been stored yet.
type Subject struct {
	ID       uint
	Type     ContentType
	AuthorID uint
	Content  string
}

// SettingsSource supplies the current classifier settings.
type SettingsSource interface {
	Get(ctx context.Context) (Settings, error)
}

// Pipeline runs content through the classifier and records every verdict the
// classifier actually returned.
type Pipeline struct {
	source     SettingsSource
	classifier Classifier
	log        *zap.SugaredLogger
}

// NewPipeline creates a Pipeline.
func NewPipeline(source SettingsSource, classifier Classifier, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{source: source, classifier: classifier, log: log}
}

// Settings returns the current settings. A read failure disables moderation.
func (p *Pipeline) Settings(ctx context.Context) Settings {
	s, err := p.source.Get(ctx)
	if err != nil {
		p.log.Warnw("load moderation settings failed, moderation disabled", "error", err)
		return Settings{}
	}
	return s
}

// Check classifies one piece of content before it is stored.
func (p *Pipeline) Check(ctx context.Context, db *gorm.DB, content string, ct ContentType, authorID uint) Verdict {
	return p.Scan(ctx, db, []Subject{{Type: ct, AuthorID: authorID, Content: content}})[0]
}

// Scan classifies subjects in one request and returns their verdicts in order.
func (p *Pipeline) Scan(ctx context.Context, db *gorm.DB, subjects []Subject) []Verdict {
	return p.ScanWith(ctx, db, p.Settings(ctx), subjects)
}

// ScanWith is Scan with settings the caller already holds. Log rows are
// written through db so they share the caller's transaction.
func (p *Pipeline) ScanWith(ctx context.Context, db *gorm.DB, s Settings, subjects []Subject) []Verdict {
	if len(subjects) == 0 {
		return nil
	}
	if !s.Active() {
		p.log.Debugw("moderation skipped", "enabled", s.Enabled, "ready", s.Ready(), "items", len(subjects))
		for _, sub := range subjects {
			metrics.ObserveVerdict(string(sub.Type), "skipped")
		}
		return passAll(len(subjects))
	}

	items := make([]Item, len(subjects))
	for i, sub := range subjects {
		items[i] = Item{ID: i + 1, Content: utils.Truncate(sub.Content, MaxContentLength)}
	}

	verdicts, err := p.classifier.ClassifyBatch(ctx, s, items)
	if err != nil {
		p.log.Warnw("classification failed, passing content", "items", len(subjects), "error", err)
		out := passAll(len(subjects))
		for i, sub := range subjects {
			out[i].Err = err
			metrics.ObserveVerdict(string(sub.Type), "failed_open")
		}
		return out
	}
	if len(verdicts) < len(subjects) {
		verdicts = append(verdicts, passAll(len(subjects)-len(verdicts))...)
	}

	for i, sub := range subjects {
		v := verdicts[i]
		outcome := "passed"
		if !v.Passed {
			outcome = "rejected"
		}
		metrics.ObserveVerdict(string(sub.Type), outcome)
		p.record(db.WithContext(ctx), s.Model, sub, items[i].Content, v)
	}
	return verdicts[:len(subjects)]
}

func (p *Pipeline) record(db *gorm.DB, model string, sub Subject, preview string, v Verdict) {
	row := models.ModerationLog{
		ContentType:    string(sub.Type),
		UserID:         sub.AuthorID,
		ContentPreview: preview,
		Passed:         v.Passed,
		ModelUsed:      model,
	}
	if !v.Passed {
		row.FlaggedCategory = v.Category
		row.Reason = v.Reason
	}
	if sub.ID != 0 {
		id := sub.ID
		row.ContentID = &id
	}
	if err := db.Create(&row).Error; err != nil {
		p.log.Warnw("write moderation log failed", "content_type", sub.Type, "content_id", sub.ID, "error", err)
	}
}
