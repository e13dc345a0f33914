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

	"race-lifecycle-orchestrator/internal/api"
	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/engine"
	"race-lifecycle-orchestrator/internal/feed"
	"race-lifecycle-orchestrator/internal/ledger"
	"race-lifecycle-orchestrator/internal/orchestrator"
	"race-lifecycle-orchestrator/internal/pollctl"
	"race-lifecycle-orchestrator/internal/timer"
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

	lg, err := ledger.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer lg.Close()

	if err := lg.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	timers := timer.NewQueue(redisClient)
	controller := pollctl.NewController(redisClient, cfg.PollTriggerRule)
	eng := engine.New(cfg, lg, timers, controller)
	runner := orchestrator.New(cfg, feed.NewClient(cfg), lg, eng)

	go runner.RunLoop(ctx)

	server := api.New(cfg, runner, controller, lg)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("orchestrator api listening on :%s (season=%d type=%s every %s)",
		cfg.HTTPPort, cfg.Season, cfg.SessionType, cfg.RunInterval)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
