// Package feed fetches session, driver, and position snapshots from the
// upstream timing API and converts them to typed models at the boundary.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/models"
)

// ErrUnavailable marks a fetch that failed or returned data we could not
// decode. The orchestrator treats it as fatal for the whole run: scheduling
// from a partial snapshot is worse than waiting for the next run.
var ErrUnavailable = errors.New("feed unavailable")

const maxBodyBytes = 32 << 20

// Client fetches full snapshots from the upstream feed. Construct once per
// process and share; it carries no per-call state.
type Client struct {
	httpClient   *http.Client
	sessionsURL  string
	driversURL   string
	positionsURL string
}

// NewClient builds a feed client from config.
func NewClient(cfg config.Config) *Client {
	timeout := cfg.FeedTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		sessionsURL:  cfg.SessionsURL,
		driversURL:   cfg.DriversURL,
		positionsURL: cfg.PositionsURL,
	}
}

// Sessions returns the current snapshot of known sessions.
func (c *Client) Sessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.get(ctx, c.sessionsURL, &sessions); err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.SessionKey == 0 {
			return nil, fmt.Errorf("%w: session with missing session_key", ErrUnavailable)
		}
	}
	return sessions, nil
}

// Drivers returns the driver identity snapshot.
func (c *Client) Drivers(ctx context.Context) ([]models.Driver, error) {
	var drivers []models.Driver
	if err := c.get(ctx, c.driversURL, &drivers); err != nil {
		return nil, err
	}
	return drivers, nil
}

// Positions returns the raw position sample snapshot.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	if err := c.get(ctx, c.positionsURL, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, url, err)
	}
	return nil
}
