package moderation_test

import (
	"context"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/moderation"
	"github.com/advent259141/Astrbook/settings"
	"github.com/advent259141/Astrbook/testutil"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		store    *settings.Store
		cls      *fakeClassifier
		pipeline *moderation.Pipeline
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = testutil.OpenDB()
		Expect(err).NotTo(HaveOccurred())
		store = settings.NewStore(db)
		cls = &fakeClassifier{}
		pipeline = moderation.NewPipeline(moderation.NewConfigCache(store), cls, nil)
	})

	Context("when moderation is disabled", func() {
		It("passes without calling the classifier or logging", func() {
			v := pipeline.Check(ctx, db, "anything", moderation.ContentThread, 1)
			Expect(v.Passed).To(BeTrue())
			Expect(v.Err).NotTo(HaveOccurred())
			Expect(cls.Calls()).To(Equal(0))
			Expect(countRows(db, &models.ModerationLog{}, "")).To(BeZero())
		})
	})

	Context("when enabled but missing an api key", func() {
		It("passes without calling the classifier", func() {
			Expect(store.Set(ctx, moderation.KeyEnabled, "true")).To(Succeed())
			v := pipeline.Check(ctx, db, "anything", moderation.ContentThread, 1)
			Expect(v.Passed).To(BeTrue())
			Expect(cls.Calls()).To(Equal(0))
		})
	})

	Context("when enabled", func() {
		BeforeEach(func() {
			enableModeration(ctx, store)
		})

		It("passes with an error and writes no log when the reply cannot be parsed", func() {
			cls.respond = func(items []moderation.Item) ([]moderation.Verdict, error) {
				return passing(len(items)), fmt.Errorf("%w: prose", moderation.ErrMalformedReply)
			}
			v := pipeline.Check(ctx, db, "hello", moderation.ContentThread, 1)
			Expect(v.Passed).To(BeTrue())
			Expect(v.Err).To(MatchError(moderation.ErrMalformedReply))
			Expect(cls.Calls()).To(Equal(1))
			Expect(countRows(db, &models.ModerationLog{}, "")).To(BeZero())
		})

		It("logs a rejection from Check without a content id", func() {
			cls.respond = func(items []moderation.Item) ([]moderation.Verdict, error) {
				return []moderation.Verdict{{Passed: false, Category: "violence", Reason: "threat"}}, nil
			}
			v := pipeline.Check(ctx, db, "bad words", moderation.ContentThread, 7)
			Expect(v.Passed).To(BeFalse())
			Expect(v.Reason).To(Equal("threat"))

			var logs []models.ModerationLog
			Expect(db.Find(&logs).Error).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].ContentType).To(Equal("thread"))
			Expect(logs[0].ContentID).To(BeNil())
			Expect(logs[0].UserID).To(BeEquivalentTo(7))
			Expect(logs[0].Passed).To(BeFalse())
			Expect(logs[0].FlaggedCategory).To(Equal("violence"))
			Expect(logs[0].ModelUsed).To(Equal("test-model"))
		})

		It("truncates content to 500 characters", func() {
			long := strings.Repeat("字", 800)
			pipeline.Check(ctx, db, long, moderation.ContentReply, 1)
			Expect([]rune(cls.Batch(0)[0].Content)).To(HaveLen(moderation.MaxContentLength))

			var log models.ModerationLog
			Expect(db.Take(&log).Error).NotTo(HaveOccurred())
			Expect([]rune(log.ContentPreview)).To(HaveLen(moderation.MaxContentLength))
		})

		It("returns positional verdicts and logs each of them", func() {
			cls.respond = func(items []moderation.Item) ([]moderation.Verdict, error) {
				out := passing(len(items))
				out[1] = moderation.Verdict{Passed: false, Category: "sexual", Reason: "explicit"}
				return out, nil
			}
			subjects := []moderation.Subject{
				{ID: 10, Type: moderation.ContentReply, AuthorID: 1, Content: "a"},
				{ID: 11, Type: moderation.ContentSubReply, AuthorID: 2, Content: "b"},
				{ID: 12, Type: moderation.ContentReply, AuthorID: 3, Content: "c"},
			}
			verdicts := pipeline.Scan(ctx, db, subjects)
			Expect(verdicts).To(HaveLen(3))
			Expect(verdicts[0].Passed).To(BeTrue())
			Expect(verdicts[1].Passed).To(BeFalse())
			Expect(verdicts[2].Passed).To(BeTrue())

			items := cls.Batch(0)
			Expect(items).To(HaveLen(3))
			for i, it := range items {
				Expect(it.ID).To(Equal(i + 1))
			}

			Expect(countRows(db, &models.ModerationLog{}, "")).To(BeEquivalentTo(3))
			var rejected models.ModerationLog
			Expect(db.Where("passed = ?", false).Take(&rejected).Error).NotTo(HaveOccurred())
			Expect(*rejected.ContentID).To(BeEquivalentTo(11))
			Expect(rejected.ContentType).To(Equal("sub_reply"))
		})

		It("leaves category and reason empty on passed log rows", func() {
			cls.respond = func(items []moderation.Item) ([]moderation.Verdict, error) {
				return []moderation.Verdict{
					{Passed: true, Category: moderation.CategoryNone, Reason: "looks fine"},
					{Passed: false, Category: "violence", Reason: "threat"},
				}, nil
			}
			pipeline.Scan(ctx, db, []moderation.Subject{
				{ID: 1, Type: moderation.ContentReply, Content: "a"},
				{ID: 2, Type: moderation.ContentReply, Content: "b"},
			})

			var logs []models.ModerationLog
			Expect(db.Order("content_id").Find(&logs).Error).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(2))
			Expect(logs[0].Passed).To(BeTrue())
			Expect(logs[0].FlaggedCategory).To(BeEmpty())
			Expect(logs[0].Reason).To(BeEmpty())
			Expect(logs[1].FlaggedCategory).To(Equal("violence"))
			Expect(logs[1].Reason).To(Equal("threat"))
		})

		It("pads a short verdict list with passes", func() {
			cls.respond = func(items []moderation.Item) ([]moderation.Verdict, error) {
				return []moderation.Verdict{{Passed: false, Category: "x"}}, nil
			}
			verdicts := pipeline.Scan(ctx, db, []moderation.Subject{
				{ID: 1, Type: moderation.ContentReply, Content: "a"},
				{ID: 2, Type: moderation.ContentReply, Content: "b"},
			})
			Expect(verdicts).To(HaveLen(2))
			Expect(verdicts[0].Passed).To(BeFalse())
			Expect(verdicts[1].Passed).To(BeTrue())
		})
	})
})
