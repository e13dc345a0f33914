package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/engine"
	"race-lifecycle-orchestrator/internal/ledger"
	"race-lifecycle-orchestrator/internal/pollctl"
	"race-lifecycle-orchestrator/internal/telemetry"
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

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("engine started tick=%s lease=%s rule=%s", cfg.EngineTick, cfg.TimerLease, cfg.PollTriggerRule)
	if err := eng.Run(ctx); err != nil {
		log.Printf("engine stopped: %v", err)
	}
}
