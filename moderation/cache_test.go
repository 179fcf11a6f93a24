package moderation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/advent259141/Astrbook/moderation"
	"github.com/advent259141/Astrbook/settings"
	"github.com/advent259141/Astrbook/testutil"
)

// countingStore counts batch reads and can hold the next one until released.
type countingStore struct {
	*settings.Store
	loads atomic.Int32

	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (c *countingStore) GetBatch(ctx context.Context, keys []string, defaults map[string]string) (map[string]string, error) {
	c.loads.Add(1)
	m, err := c.Store.GetBatch(ctx, keys, defaults)
	c.mu.Lock()
	gate, entered := c.gate, c.entered
	c.gate, c.entered = nil, nil
	c.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return m, err
}

func (c *countingStore) holdNext() (entered, release chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	c.entered = make(chan struct{})
	return c.entered, c.gate
}

var _ = Describe("ConfigCache", func() {
	var (
		ctx   context.Context
		store *countingStore
		cache *moderation.ConfigCache
		now   time.Time
		clock sync.Mutex
	)

	advance := func(d time.Duration) {
		clock.Lock()
		defer clock.Unlock()
		now = now.Add(d)
	}

	BeforeEach(func() {
		ctx = context.Background()
		db, err := testutil.OpenDB()
		Expect(err).NotTo(HaveOccurred())
		store = &countingStore{Store: settings.NewStore(db)}
		now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		cache = moderation.NewConfigCache(store, moderation.WithClock(func() time.Time {
			clock.Lock()
			defer clock.Unlock()
			return now
		}))
	})

	It("returns defaults when nothing is stored", func() {
		s, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Enabled).To(BeFalse())
		Expect(s.APIBase).To(Equal(moderation.DefaultAPIBase))
		Expect(s.Model).To(Equal(moderation.DefaultModel))
		Expect(s.Prompt).To(ContainSubstring(moderation.PromptPlaceholder))
		Expect(s.Ready()).To(BeFalse())
	})

	It("serves the snapshot until the TTL expires", func() {
		_, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Set(ctx, moderation.KeyModel, "other")).To(Succeed())

		advance(30 * time.Second)
		s, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Model).To(Equal(moderation.DefaultModel))
		Expect(store.loads.Load()).To(BeEquivalentTo(1))

		advance(31 * time.Second)
		s, err = cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Model).To(Equal("other"))
		Expect(store.loads.Load()).To(BeEquivalentTo(2))
	})

	It("reloads right after Invalidate", func() {
		_, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Set(ctx, moderation.KeyEnabled, "true")).To(Succeed())
		cache.Invalidate(ctx)

		s, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Enabled).To(BeTrue())
	})

	It("does not keep a load that raced with Invalidate", func() {
		entered, release := store.holdNext()
		done := make(chan moderation.Settings)
		go func() {
			defer GinkgoRecover()
			s, err := cache.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			done <- s
		}()
		Eventually(entered).Should(BeClosed())

		Expect(store.Set(ctx, moderation.KeyModel, "fresh")).To(Succeed())
		cache.Invalidate(ctx)
		close(release)
		Expect((<-done).Model).To(Equal(moderation.DefaultModel))

		s, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Model).To(Equal("fresh"))
	})

	It("never mixes fields of two generations", func() {
		pairs := []map[string]string{
			{moderation.KeyModel: "model-a", moderation.KeyAPIKey: "key-a"},
			{moderation.KeyModel: "model-b", moderation.KeyAPIKey: "key-b"},
		}
		Expect(store.SetMany(ctx, pairs[0])).To(Succeed())

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					s, err := cache.Get(ctx)
					Expect(err).NotTo(HaveOccurred())
					Expect(s.APIKey).To(Equal("key" + s.Model[len("model"):]))
				}
			}()
		}
		for i := 0; i < 20; i++ {
			Expect(store.SetMany(ctx, pairs[i%2])).To(Succeed())
			cache.Invalidate(ctx)
		}
		close(stop)
		wg.Wait()
	})
})
