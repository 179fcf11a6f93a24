package main

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/advent259141/Astrbook/config"
	"github.com/advent259141/Astrbook/controllers"
	"github.com/advent259141/Astrbook/forum"
	"github.com/advent259141/Astrbook/metrics"
	"github.com/advent259141/Astrbook/models"
	"github.com/advent259141/Astrbook/moderation"
	"github.com/advent259141/Astrbook/notify"
	"github.com/advent259141/Astrbook/routes"
	"github.com/advent259141/Astrbook/settings"
	"github.com/advent259141/Astrbook/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.All()...)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	log := utils.Sugar
	rdb := utils.GetRedis()
	pusher := notify.NewRedisPusher(rdb, log.Named("notify"))

	store := settings.NewStore(db)
	cache := moderation.NewConfigCache(store,
		moderation.WithRedis(rdb),
		moderation.WithCacheLogger(log.Named("moderation")))
	classifier := moderation.NewOpenAIClassifier(cfg.ModerationTimeout())
	pipeline := moderation.NewPipeline(cache, classifier, log.Named("moderation"))
	deleter := moderation.NewCascadeDeleter(pusher, log.Named("moderation"))
	scheduler := moderation.NewScheduler(db, store, pipeline, deleter, log.Named("scheduler"))
	svc := forum.NewService(db, pipeline, pusher, log.Named("forum"))

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		scheduler.Run(bgCtx)
	}()
	go func() {
		defer bg.Done()
		cache.Watch(bgCtx)
	}()

	r := routes.SetupRouter(cfg, routes.Handlers{
		Threads: controllers.NewThreadController(svc),
		Admin:   controllers.NewAdminController(db, store, cache, classifier, scheduler),
	})

	log.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	err := utils.GraceServer(":"+cfg.AppPort, r, func(ctx context.Context) {
		stopBackground()
		done := make(chan struct{})
		go func() {
			bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("background workers did not stop before shutdown deadline")
		}
	})
	stopBackground()
	if err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}
}
