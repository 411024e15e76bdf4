// Package ingest implements the server side of location uploads: the batch
// and legacy single-fix endpoints, device token auth, and the PostgreSQL
// location store. Batches dedup on the client-generated event id, which is
// what makes device-side redelivery safe.
package ingest

import (
	"strconv"
	"time"

	"github.com/famloop/trackd/internal/api/models"
)

// MaxBatchSize caps how many locations one batch request may carry.
const MaxBatchSize = 500

// Location is a stored location row.
type Location struct {
	ClientEventID string
	DeviceID      string
	FamilyID      string
	Lat           float64
	Lng           float64
	Accuracy      float64
	Altitude      float64
	Bearing       float64
	Speed         float64
	SpeedKmh      float64
	IsMoving      bool
	BatteryLevel  *int
	RecordedAt    time.Time
	Source        string
}

// LocationInput is one location in a batch upload request.
type LocationInput struct {
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

// BatchRequest is the batch upload request body.
type BatchRequest struct {
	Locations []LocationInput `json:"locations"`
}

// Validate checks the batch request and returns field errors for anything
// a client could fix by correcting its payload.
func (r BatchRequest) Validate() []models.FieldError {
	var errs []models.FieldError

	if len(r.Locations) == 0 {
		errs = append(errs, models.FieldError{
			Field:   "locations",
			Message: "must contain at least one location",
		})
		return errs
	}
	if len(r.Locations) > MaxBatchSize {
		errs = append(errs, models.FieldError{
			Field:   "locations",
			Message: "exceeds the maximum batch size",
		})
		return errs
	}

	for i, loc := range r.Locations {
		errs = append(errs, loc.validate(i)...)
	}
	return errs
}

func (l LocationInput) validate(index int) []models.FieldError {
	var errs []models.FieldError
	field := func(name string) string {
		return "locations[" + strconv.Itoa(index) + "]." + name
	}

	if l.ClientEventID == "" {
		errs = append(errs, models.FieldError{Field: field("client_event_id"), Message: "is required"})
	}
	if l.Lat < -90 || l.Lat > 90 {
		errs = append(errs, models.FieldError{Field: field("lat"), Message: "must be between -90 and 90"})
	}
	if l.Lng < -180 || l.Lng > 180 {
		errs = append(errs, models.FieldError{Field: field("lng"), Message: "must be between -180 and 180"})
	}
	if l.Timestamp <= 0 {
		errs = append(errs, models.FieldError{Field: field("timestamp"), Message: "must be a positive unix millisecond timestamp"})
	}
	return errs
}

// BatchResponse reports the outcome of a batch upload.
type BatchResponse struct {
	// Accepted is how many locations were stored.
	Accepted int `json:"accepted"`

	// Duplicates is how many locations were already stored under the same
	// client event id.
	Duplicates int `json:"duplicates"`
}

// LegacyLocationInput is the single-fix upload body used by simpler devices.
type LegacyLocationInput struct {
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

// Validate checks the legacy single-fix body.
func (l LegacyLocationInput) Validate() []models.FieldError {
	var errs []models.FieldError
	if l.Lat < -90 || l.Lat > 90 {
		errs = append(errs, models.FieldError{Field: "lat", Message: "must be between -90 and 90"})
	}
	if l.Lng < -180 || l.Lng > 180 {
		errs = append(errs, models.FieldError{Field: "lng", Message: "must be between -180 and 180"})
	}
	return errs
}

// LocationView is the read-side shape for latest-location queries.
type LocationView struct {
	DeviceID     string           `json:"deviceId"`
	Lat          float64          `json:"lat"`
	Lng          float64          `json:"lng"`
	Speed        float64          `json:"speed"`
	IsMoving     bool             `json:"isMoving"`
	BatteryLevel *int             `json:"batteryLevel,omitempty"`
	RecordedAt   models.Timestamp `json:"recordedAt"`
}

// LatestResponse lists the most recent location per device in a family.
type LatestResponse struct {
	Locations []LocationView `json:"locations"`
}
