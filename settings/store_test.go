package settings_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/advent259141/Astrbook/settings"
	"github.com/advent259141/Astrbook/testutil"
)

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		store *settings.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, err := testutil.OpenDB()
		Expect(err).NotTo(HaveOccurred())
		store = settings.NewStore(db)
	})

	It("returns the default for missing keys", func() {
		v, err := store.Get(ctx, "moderation_model", "gpt-4o-mini")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("gpt-4o-mini"))
	})

	It("upserts values", func() {
		Expect(store.Set(ctx, "moderation_model", "a")).To(Succeed())
		Expect(store.Set(ctx, "moderation_model", "b")).To(Succeed())
		v, err := store.Get(ctx, "moderation_model", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("b"))
	})

	It("treats an empty stored value as missing", func() {
		Expect(store.Set(ctx, "moderation_api_base", "")).To(Succeed())
		v, err := store.Get(ctx, "moderation_api_base", "https://api.openai.com/v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("https://api.openai.com/v1"))
	})

	It("reads a batch with defaults in one call", func() {
		Expect(store.SetMany(ctx, map[string]string{
			"moderation_enabled": "true",
			"moderation_api_key": "sk-test",
		})).To(Succeed())

		got, err := store.GetBatch(ctx,
			[]string{"moderation_enabled", "moderation_api_key", "moderation_model"},
			map[string]string{"moderation_model": "gpt-4o-mini"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]string{
			"moderation_enabled": "true",
			"moderation_api_key": "sk-test",
			"moderation_model":   "gpt-4o-mini",
		}))
	})

	DescribeTable("Int clamps and falls back",
		func(stored string, expected int) {
			if stored != "" {
				Expect(store.Set(ctx, "moderation_interval", stored)).To(Succeed())
			}
			Expect(store.Int(ctx, "moderation_interval", 60, 10, 0)).To(Equal(expected))
		},
		Entry("missing", "", 60),
		Entry("valid", "120", 120),
		Entry("below floor", "3", 10),
		Entry("garbage", "soon", 60),
		Entry("padded", " 45 ", 45),
	)

	It("clamps to an upper bound", func() {
		Expect(store.Set(ctx, "moderation_batch_size", "500")).To(Succeed())
		Expect(store.Int(ctx, "moderation_batch_size", 5, 1, 50)).To(Equal(50))
	})
})
