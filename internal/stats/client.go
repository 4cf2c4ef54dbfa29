package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pilot-tracker/internal/alias"
	"pilot-tracker/internal/flight"
)

const defaultStatsPath = "/api/stats"

// Fetcher retrieves one normalised stats snapshot.
type Fetcher interface {
	FetchStats(ctx context.Context) (flight.Snapshot, error)
}

// ClientOptions parameterise the HTTP stats client.
type ClientOptions struct {
	BaseURL   string
	Path      string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches the upstream stats endpoint.
type Client struct {
	opts     ClientOptions
	logger   zerolog.Logger
	client   *http.Client
	endpoint string
	now      func() time.Time
}

var _ Fetcher = (*Client)(nil)

// NewClient constructs a stats client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	path := opts.Path
	if path == "" {
		path = defaultStatsPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Client{
		opts:     opts,
		logger:   logger.With().Str("component", "stats_client").Logger(),
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(opts.BaseURL, "/") + path,
		now:      time.Now,
	}
}

// FetchStats performs GET on the stats endpoint and normalises the body.
func (c *Client) FetchStats(ctx context.Context) (flight.Snapshot, error) {
	if c.opts.BaseURL == "" {
		return flight.Snapshot{}, errors.New("stats base url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return flight.Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pilottracker/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return flight.Snapshot{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return flight.Snapshot{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return flight.Snapshot{}, parseHTTPError(resp.StatusCode, payload)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return flight.Snapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	// some deployments wrap the payload in {"data": {...}}
	if inner, ok := raw["data"].(map[string]any); ok {
		if _, found := alias.Lookup(raw, totalField); !found {
			raw = inner
		}
	}

	snap := Normalize(raw, c.now())
	c.logger.Debug().
		Int64("total_rounds", snap.TotalRounds).
		Float64("average", snap.AverageMultiplier).
		Msg("stats fetched")
	return snap, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("stats api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("stats api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 && len(payload) < 512 {
		return fmt.Errorf("stats api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("stats api error (%d)", status)
}
