// Package queue provides the durable offline queue of pending location
// records. The tracking loop appends, the uploader drains; records are
// never mutated except to increment their retry counter or flip the sent
// flag.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/famloop/trackd/internal/track"
)

// Predefined queue errors.
var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("queued record not found")
)

// Record is a durable pending location record. The EventID is generated on
// the device and carried to the server, which dedups on it; retried batches
// are therefore safe to deliver more than once.
type Record struct {
	// EventID is the client-generated unique id for idempotent server-side
	// dedup.
	EventID string

	// Lat and Lon are WGS84 coordinates in degrees.
	Lat float64
	Lon float64

	// Accuracy is the horizontal accuracy in meters, zero if unreported.
	Accuracy float64

	// Altitude in meters, zero if unreported.
	Altitude float64

	// Bearing in degrees, zero if unreported.
	Bearing float64

	// Speed is the ground speed in m/s.
	Speed float64

	// SpeedKmh is the derived speed in km/h.
	SpeedKmh float64

	// IsMoving is the tracking mode verdict at capture time.
	IsMoving bool

	// BatteryLevel is the battery percentage at capture time; nil when
	// unknown.
	BatteryLevel *int

	// Time is the device-clock capture time.
	Time time.Time

	// RetryCount is how many upload attempts have failed for this record.
	RetryCount int

	// Sent marks a record as done: either confirmed by the server or
	// abandoned after exceeding the retry ceiling. Sent records are
	// removed by the cleanup pass.
	Sent bool
}

// NewRecord converts a fix into a queue record, assigning a fresh event id.
func NewRecord(fix track.Fix, isMoving bool, batteryLevel *int) *Record {
	return &Record{
		EventID:      uuid.NewString(),
		Lat:          fix.Lat,
		Lon:          fix.Lon,
		Accuracy:     fix.Accuracy,
		Altitude:     fix.Altitude,
		Bearing:      fix.Bearing,
		Speed:        fix.Speed,
		SpeedKmh:     fix.Speed * 3.6,
		IsMoving:     isMoving,
		BatteryLevel: batteryLevel,
		Time:         fix.Time,
	}
}

// Stats summarizes queue state for status reporting.
type Stats struct {
	// Pending is the number of unsent records.
	Pending int

	// Oldest is the capture time of the oldest unsent record; zero when
	// the queue is empty.
	Oldest time.Time
}
