package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/famloop/trackd/internal/track"
)

// LegacyClientConfig holds configuration for the legacy single-fix
// uploader used by simpler devices. This path is intentionally best-effort:
// a non-200 response is logged and the fix is dropped, never retried.
type LegacyClientConfig struct {
	// BaseURL is the ingest server base URL.
	BaseURL string

	// SessionCookie is the session credential presented as a cookie,
	// matching the app's web session auth.
	SessionCookie string

	// Source identifies the reporting device class, e.g. "watch".
	Source string

	// Timeout bounds each request.
	// Default: 10 seconds
	Timeout time.Duration

	Logger zerolog.Logger
}

// legacyPayload is the single-fix JSON body.
type legacyPayload struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	Altitude float64 `json:"altitude,omitempty"`
	Speed    float64 `json:"speed"`
	Heading  float64 `json:"heading,omitempty"`
	Battery  *int    `json:"battery"`
	IsMoving bool    `json:"is_moving"`
	Source   string  `json:"source"`
}

// LegacyClient posts single fixes best-effort. A circuit breaker stops it
// from hammering a down endpoint, since this path has no backoff of its
// own.
type LegacyClient struct {
	config     LegacyClientConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[int]
	logger     zerolog.Logger
}

// NewLegacyClient creates a legacy single-fix uploader.
func NewLegacyClient(cfg LegacyClientConfig) *LegacyClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "device"
	}

	breaker := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "legacy-upload",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})

	return &LegacyClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     cfg.Logger,
	}
}

// Send posts a single fix. Failures are logged and swallowed; the caller
// never retries this path.
func (c *LegacyClient) Send(ctx context.Context, fix track.Fix, isMoving bool, battery *int) {
	status, err := c.breaker.Execute(func() (int, error) {
		return c.post(ctx, fix, isMoving, battery)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Debug().Msg("legacy upload skipped, circuit open")
	case err != nil:
		c.logger.Warn().Err(err).Msg("legacy upload dropped")
	case status != http.StatusOK:
		c.logger.Warn().Int("status", status).Msg("legacy upload rejected, dropped")
	}
}

func (c *LegacyClient) post(ctx context.Context, fix track.Fix, isMoving bool, battery *int) (int, error) {
	body, err := json.Marshal(legacyPayload{
		Lat:      fix.Lat,
		Lng:      fix.Lon,
		Accuracy: fix.Accuracy,
		Altitude: fix.Altitude,
		Speed:    fix.Speed,
		Heading:  fix.Bearing,
		Battery:  battery,
		IsMoving: isMoving,
		Source:   c.config.Source,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal fix: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/locations", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "famloop_session", Value: c.config.SessionCookie})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	// 5xx counts as a breaker failure; other statuses are delivered to the
	// caller, which logs and drops.
	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
