package livedata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/models"
	"race-lifecycle-orchestrator/internal/ratelimit"
	"race-lifecycle-orchestrator/internal/telemetry"
)

// Source fetches the raw snapshots the merge needs.
type Source interface {
	Drivers(ctx context.Context) ([]models.Driver, error)
	Positions(ctx context.Context) ([]models.Position, error)
}

// TriggerGate reports whether the polling trigger is currently on.
type TriggerGate interface {
	Enabled(ctx context.Context, ruleID string) (bool, error)
}

// RateLimiter bounds calls against the upstream feed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Poller runs the recurring fetch-merge-upload cycle. Each cycle first
// consults the trigger gate, so disabling the trigger stops uploads without
// stopping the process.
type Poller struct {
	cfg      config.Config
	source   Source
	gate     TriggerGate
	limiter  RateLimiter
	uploader Uploader
	clock    func() time.Time
}

// NewPoller constructs a poller.
func NewPoller(cfg config.Config, source Source, gate TriggerGate, limiter RateLimiter, uploader Uploader) *Poller {
	return &Poller{
		cfg:      cfg,
		source:   source,
		gate:     gate,
		limiter:  limiter,
		uploader: uploader,
		clock:    time.Now,
	}
}

// Run polls on the configured interval until context cancellation.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("livedata: polling every %s, rule=%s", interval, p.cfg.PollTriggerRule)
	for {
		select {
		case <-ctx.Done():
			log.Println("livedata: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				log.Printf("livedata: cycle: %v", err)
			}
		}
	}
}

// Cycle performs one fetch-merge-upload pass. A disabled trigger skips the
// cycle silently; that is the normal state between activation windows.
func (p *Poller) Cycle(ctx context.Context) error {
	enabled, err := p.gate.Enabled(ctx, p.cfg.PollTriggerRule)
	if err != nil {
		return fmt.Errorf("check trigger: %w", err)
	}
	if !enabled {
		telemetry.PollSkipped.Inc()
		return nil
	}

	if p.limiter != nil {
		allowed, _, err := p.limiter.Allow(ctx, ratelimit.FeedKey("livedata"))
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			telemetry.FeedThrottle.Inc()
			log.Println("livedata: feed budget exhausted, skipping cycle")
			return nil
		}
	}

	positions, err := p.source.Positions(ctx)
	if err != nil {
		telemetry.FeedErrors.Inc()
		return fmt.Errorf("fetch positions: %w", err)
	}
	drivers, err := p.source.Drivers(ctx)
	if err != nil {
		telemetry.FeedErrors.Inc()
		return fmt.Errorf("fetch drivers: %w", err)
	}

	merged := MergeDrivers(LatestStandings(positions), drivers)
	body, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := p.snapshotKey(merged)
	location, err := p.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	telemetry.BlobUploads.Inc()
	log.Printf("livedata: wrote %d standings to %s", len(merged), location)
	return nil
}

// snapshotKey names the blob by session (when known) and capture time, so
// successive cycles never overwrite each other.
func (p *Poller) snapshotKey(merged []models.MergedPosition) string {
	prefix := p.cfg.BlobPrefix
	if prefix == "" {
		prefix = "positions"
	}
	stamp := p.clock().UTC().Format("20060102T150405Z")
	if len(merged) > 0 && merged[0].SessionKey != 0 {
		return fmt.Sprintf("%s/%d/%s.json", prefix, merged[0].SessionKey, stamp)
	}
	return fmt.Sprintf("%s/%s.json", prefix, stamp)
}
