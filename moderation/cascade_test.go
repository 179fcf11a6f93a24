package moderation_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/moderation"
	"github.com/advent259141/Astrbook/testutil"
)

var _ = Describe("CascadeDeleter", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		pusher  *recordingPusher
		deleter *moderation.CascadeDeleter
		alice   models.User
		bob     models.User
		thread  models.Thread
		floor2  models.Reply
		floor3  models.Reply
		sub1    models.Reply
		sub2    models.Reply
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = testutil.OpenDB()
		Expect(err).NotTo(HaveOccurred())
		pusher = &recordingPusher{}
		deleter = moderation.NewCascadeDeleter(pusher, nil)

		alice, err = testutil.CreateUser(db, "alice")
		Expect(err).NotTo(HaveOccurred())
		bob, err = testutil.CreateUser(db, "bob")
		Expect(err).NotTo(HaveOccurred())

		thread, err = testutil.CreateThread(db, alice.ID, "hello", "first post", true)
		Expect(err).NotTo(HaveOccurred())
		floor2, err = testutil.CreateFloor(db, thread, bob.ID, 2, "floor two", true)
		Expect(err).NotTo(HaveOccurred())
		floor3, err = testutil.CreateFloor(db, thread, alice.ID, 3, "floor three", true)
		Expect(err).NotTo(HaveOccurred())
		sub1, err = testutil.CreateSubReply(db, floor2, alice.ID, nil, "sub one", true)
		Expect(err).NotTo(HaveOccurred())
		sub2, err = testutil.CreateSubReply(db, floor2, bob.ID, &sub1.ID, "sub two", true)
		Expect(err).NotTo(HaveOccurred())

		_, err = testutil.CreateNotification(db, alice.ID, bob.ID, models.NotificationReply, &thread.ID, &floor2.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = testutil.CreateNotification(db, bob.ID, alice.ID, models.NotificationSubReply, &thread.ID, &sub1.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = testutil.CreateNotification(db, alice.ID, alice.ID, models.NotificationMention, &thread.ID, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("RejectThread", func() {
		It("removes the thread with every dependent row and keeps a detached notice", func() {
			removal, err := deleter.RejectThread(ctx, db, thread.ID, "spam")
			Expect(err).NotTo(HaveOccurred())
			Expect(removal).NotTo(BeNil())
			Expect(removal.Type).To(Equal(moderation.ContentThread))
			Expect(removal.RepliesRemoved).To(Equal(4))

			Expect(countRows(db, &models.Thread{}, "")).To(BeZero())
			Expect(countRows(db, &models.Reply{}, "")).To(BeZero())

			var notes []models.Notification
			Expect(db.Find(&notes).Error).NotTo(HaveOccurred())
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].ID).To(Equal(removal.Notice.ID))
			Expect(notes[0].Type).To(Equal(models.NotificationModeration))
			Expect(notes[0].UserID).To(Equal(alice.ID))
			Expect(notes[0].ThreadID).To(BeNil())
			Expect(notes[0].ContentPreview).To(ContainSubstring("spam"))
		})

		It("uses the fallback reason when none is given", func() {
			removal, err := deleter.RejectThread(ctx, db, thread.ID, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(removal.Notice.ContentPreview).To(ContainSubstring(moderation.FallbackReason))
		})

		It("is a no-op for a thread that is already gone", func() {
			removal, err := deleter.RejectThread(ctx, db, thread.ID+100, "spam")
			Expect(err).NotTo(HaveOccurred())
			Expect(removal).To(BeNil())
			Expect(countRows(db, &models.Thread{}, "")).To(BeEquivalentTo(1))
		})

		It("rolls back with the enclosing transaction", func() {
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := deleter.RejectThread(ctx, tx, thread.ID, "spam")
				Expect(err).NotTo(HaveOccurred())
				return gorm.ErrInvalidTransaction
			})
			Expect(err).To(MatchError(gorm.ErrInvalidTransaction))
			Expect(countRows(db, &models.Thread{}, "")).To(BeEquivalentTo(1))
			Expect(countRows(db, &models.Reply{}, "")).To(BeEquivalentTo(4))
			Expect(countRows(db, &models.Notification{}, "type = ?", models.NotificationModeration)).To(BeZero())
		})
	})

	Describe("RejectReply", func() {
		It("removes a floor with its sub-replies and decrements the reply count", func() {
			removal, err := deleter.RejectReply(ctx, db, floor2.ID, "threat")
			Expect(err).NotTo(HaveOccurred())
			Expect(removal.Type).To(Equal(moderation.ContentReply))
			Expect(removal.RepliesRemoved).To(Equal(3))

			var left []models.Reply
			Expect(db.Find(&left).Error).NotTo(HaveOccurred())
			Expect(left).To(HaveLen(1))
			Expect(left[0].ID).To(Equal(floor3.ID))

			var t models.Thread
			Expect(db.Take(&t, thread.ID).Error).NotTo(HaveOccurred())
			Expect(t.ReplyCount).To(Equal(0))

			Expect(countRows(db, &models.Notification{}, "reply_id IN ?", []uint{floor2.ID, sub1.ID, sub2.ID})).To(BeZero())
			Expect(countRows(db, &models.Notification{}, "type = ?", models.NotificationMention)).To(BeEquivalentTo(1))

			var notice models.Notification
			Expect(db.Where("type = ?", models.NotificationModeration).Take(&notice).Error).NotTo(HaveOccurred())
			Expect(notice.UserID).To(Equal(bob.ID))
			Expect(*notice.ThreadID).To(Equal(thread.ID))
			Expect(notice.ReplyID).To(BeNil())
		})

		It("clamps the reply count at zero", func() {
			Expect(db.Model(&models.Thread{}).Where("id = ?", thread.ID).UpdateColumn("reply_count", 1).Error).To(Succeed())
			_, err := deleter.RejectReply(ctx, db, floor2.ID, "threat")
			Expect(err).NotTo(HaveOccurred())
			var t models.Thread
			Expect(db.Take(&t, thread.ID).Error).NotTo(HaveOccurred())
			Expect(t.ReplyCount).To(Equal(0))
		})

		It("removes a single sub-reply and clears references to it", func() {
			removal, err := deleter.RejectReply(ctx, db, sub1.ID, "rude")
			Expect(err).NotTo(HaveOccurred())
			Expect(removal.Type).To(Equal(moderation.ContentSubReply))
			Expect(removal.RepliesRemoved).To(Equal(1))

			var s2 models.Reply
			Expect(db.Take(&s2, sub2.ID).Error).NotTo(HaveOccurred())
			Expect(s2.ReplyToID).To(BeNil())
			Expect(*s2.ParentID).To(Equal(floor2.ID))

			var t models.Thread
			Expect(db.Take(&t, thread.ID).Error).NotTo(HaveOccurred())
			Expect(t.ReplyCount).To(Equal(2))
		})

		It("is a no-op for a reply that is already gone", func() {
			removal, err := deleter.RejectReply(ctx, db, 9999, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(removal).To(BeNil())
		})
	})

	It("announces committed removals", func() {
		r1, err := deleter.RejectReply(ctx, db, sub2.ID, "x")
		Expect(err).NotTo(HaveOccurred())
		r2, err := deleter.RejectReply(ctx, db, 9999, "x")
		Expect(err).NotTo(HaveOccurred())
		deleter.Announce(ctx, r1, r2)

		pushed := pusher.Pushed()
		Expect(pushed).To(HaveLen(1))
		Expect(pushed[0].ID).To(Equal(r1.Notice.ID))
	})
})
