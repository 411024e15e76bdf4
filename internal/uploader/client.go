// Package uploader drains the offline queue: it batches pending location
// records, POSTs them to the ingest endpoint, and maps the response into
// per-record outcomes (sent, retry, abandoned) with exponential backoff
// between failed cycles.
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

	"github.com/famloop/trackd/internal/queue"
)

// Predefined upload errors.
var (
	// ErrAuthFailed is returned on 401/403 responses. Retrying the same
	// credentials is pointless; the session must be re-authenticated.
	ErrAuthFailed = errors.New("upload authentication failed")

	// ErrTransient covers network errors, timeouts, 5xx responses, and
	// anything else worth retrying with backoff.
	ErrTransient = errors.New("transient upload failure")
)

// BatchSender posts a batch of records and reports the outcome through its
// error: nil for acceptance, ErrAuthFailed for a credential rejection, and
// ErrTransient (wrapped) for everything retryable.
type BatchSender interface {
	SendBatch(ctx context.Context, records []*queue.Record) error
}

// wireRecord is the JSON shape of a single location in the batch payload.
type wireRecord struct {
	ClientEventID string  `json:"client_event_id"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	Accuracy      float64 `json:"accuracy,omitempty"`
	Altitude      float64 `json:"altitude,omitempty"`
	Bearing       float64 `json:"bearing,omitempty"`
	Speed         float64 `json:"speed"`
	SpeedKmh      float64 `json:"speed_kmh"`
	IsMoving      bool    `json:"is_moving"`
	BatteryLevel  *int    `json:"battery_level"`
	Timestamp     int64   `json:"timestamp"`
}

// batchPayload is the batch upload request body.
type batchPayload struct {
	Locations []wireRecord `json:"locations"`
}

// ClientConfig holds configuration for the batch upload client.
type ClientConfig struct {
	// BaseURL is the ingest server base URL, e.g. "https://api.famloop.app".
	BaseURL string

	// Token is the device bearer token presented on every upload.
	Token string

	// Timeout bounds each upload request (connect plus read).
	// Default: 15 seconds
	Timeout time.Duration
}

// Client posts location batches to the ingest server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a batch upload client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SendBatch implements BatchSender. The batch outcome is all-or-nothing:
// the wire protocol carries no per-record acknowledgment, so a 2xx accepts
// the whole batch and anything retryable fails the whole batch. The server
// dedups on client_event_id, which makes redelivery of a partially
// processed batch safe.
func (c *Client) SendBatch(ctx context.Context, records []*queue.Record) error {
	payload := batchPayload{Locations: make([]wireRecord, 0, len(records))}
	for _, rec := range records {
		payload.Locations = append(payload.Locations, wireRecord{
			ClientEventID: rec.EventID,
			Lat:           rec.Lat,
			Lng:           rec.Lon,
			Accuracy:      rec.Accuracy,
			Altitude:      rec.Altitude,
			Bearing:       rec.Bearing,
			Speed:         rec.Speed,
			SpeedKmh:      rec.SpeedKmh,
			IsMoving:      rec.IsMoving,
			BatteryLevel:  rec.BatteryLevel,
			Timestamp:     rec.Time.UnixMilli(),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/locations/batch", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Body is informational only; status code is the contract.
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
}
