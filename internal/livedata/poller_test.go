package livedata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/feed"
	"race-lifecycle-orchestrator/internal/models"
	"race-lifecycle-orchestrator/internal/pollctl"
)

func TestCycleUploadsMergedSnapshot(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "position"):
			_, _ = w.Write([]byte(`[
				{"session_key":9531,"driver_number":1,"position":1,"date":"2025-01-24T20:30:00Z"},
				{"session_key":9531,"driver_number":44,"position":1,"date":"2025-01-24T20:05:00Z"},
				{"session_key":9531,"driver_number":16,"position":2,"date":"2025-01-24T20:10:00Z"}
			]`))
		default:
			_, _ = w.Write([]byte(`[{"session_key":9531,"driver_number":1,"full_name":"Max Verstappen","name_acronym":"VER"}]`))
		}
	}))
	defer srv.Close()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	const rule = "live-data-poll"
	ctrl := pollctl.NewController(client, rule)
	if _, err := ctrl.Set(ctx, rule, pollctl.ActionEnable, "wf-1"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	outDir := t.TempDir()
	cfg := config.Config{
		DriversURL:      srv.URL + "/drivers",
		PositionsURL:    srv.URL + "/position",
		FeedTimeout:     2 * time.Second,
		PollTriggerRule: rule,
		BlobPrefix:      "positions",
		LocalOutputDir:  outDir,
	}

	p := NewPoller(cfg, feed.NewClient(cfg), ctrl, nil, &localUploader{baseDir: outDir})
	p.clock = func() time.Time { return time.Date(2025, 1, 24, 20, 31, 0, 0, time.UTC) }

	if err := p.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	path := filepath.Join(outDir, "positions", "9531", "20250124T203100Z.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	var merged []models.MergedPosition
	if err := json.Unmarshal(data, &merged); err != nil {
		t.Fatalf("snapshot not json: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 standings, got %d", len(merged))
	}
	if merged[0].DriverNumber != 1 || merged[0].FullName != "Max Verstappen" {
		t.Fatalf("expected newest sample for slot 1 with driver join, got %+v", merged[0])
	}
}

func TestCycleSkipsWhenTriggerDisabled(t *testing.T) {
	ctx := context.Background()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	const rule = "live-data-poll"
	ctrl := pollctl.NewController(redis.NewClient(&redis.Options{Addr: mr.Addr()}), rule)

	cfg := config.Config{
		DriversURL:      srv.URL,
		PositionsURL:    srv.URL,
		FeedTimeout:     2 * time.Second,
		PollTriggerRule: rule,
		LocalOutputDir:  t.TempDir(),
	}
	p := NewPoller(cfg, feed.NewClient(cfg), ctrl, nil, &localUploader{baseDir: cfg.LocalOutputDir})

	if err := p.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if calls != 0 {
		t.Fatalf("disabled trigger must not hit the feed, got %d calls", calls)
	}
}
