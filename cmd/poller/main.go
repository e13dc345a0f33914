package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/feed"
	"race-lifecycle-orchestrator/internal/livedata"
	"race-lifecycle-orchestrator/internal/pollctl"
	"race-lifecycle-orchestrator/internal/ratelimit"
	"race-lifecycle-orchestrator/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	controller := pollctl.NewController(redisClient, cfg.PollTriggerRule)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.FeedRateCapacity, cfg.FeedRateRefill, time.Hour)

	uploader, err := livedata.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init uploader: %v", err)
	}

	poller := livedata.NewPoller(cfg, feed.NewClient(cfg), controller, limiter, uploader)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("poller started interval=%s bucket=%s", cfg.PollInterval, cfg.BlobBucket)
	if err := poller.Run(ctx); err != nil {
		log.Printf("poller stopped: %v", err)
	}
}
