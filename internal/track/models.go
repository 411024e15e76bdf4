// Package track implements the adaptive location tracking core: motion
// classification, the IDLE/MOVING/BURST mode state machine, power-aware
// sampling policy, and the supervisor that wires fixes into the offline
// queue and upload pipeline.
package track

import (
	"errors"
	"time"
)

// Predefined tracking errors.
var (
	// ErrInvalidFix is returned when a fix is missing usable coordinates.
	ErrInvalidFix = errors.New("fix has invalid coordinates")

	// ErrPermissionDenied is returned when the platform refuses location
	// access. This is fatal to the tracking session.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrNotRunning is returned by operations that require an active
	// tracking session.
	ErrNotRunning = errors.New("tracking is not running")

	// ErrAlreadyRunning is returned by Start when tracking is already active.
	ErrAlreadyRunning = errors.New("tracking is already running")
)

// Mode is the tracking controller's operating state. It governs how
// aggressively location is sampled. Mode is owned exclusively by the
// controller; nothing else mutates it.
type Mode int

// Tracking modes.
const (
	// ModeIdle samples conservatively while the device appears stationary.
	ModeIdle Mode = iota

	// ModeMoving samples at a medium cadence while the device is in motion.
	ModeMoving

	// ModeBurst samples aggressively for a short window after an external
	// wake trigger, regardless of motion state.
	ModeBurst
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeMoving:
		return "moving"
	case ModeBurst:
		return "burst"
	default:
		return "unknown"
	}
}

// BatteryBucket is a coarse classification of remaining battery used to
// throttle sampling independent of motion. It is derived per decision and
// never persisted.
type BatteryBucket int

// Battery buckets.
const (
	BatteryNormal BatteryBucket = iota
	BatteryLow
	BatteryCritical
)

// String returns the bucket name.
func (b BatteryBucket) String() string {
	switch b {
	case BatteryNormal:
		return "normal"
	case BatteryLow:
		return "low"
	case BatteryCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BucketForLevel maps a battery percentage to a bucket. Negative levels
// mean the battery state is unknown and are treated as normal.
func BucketForLevel(percent int, lowBelow, criticalBelow int) BatteryBucket {
	switch {
	case percent < 0:
		return BatteryNormal
	case percent < criticalBelow:
		return BatteryCritical
	case percent < lowBelow:
		return BatteryLow
	default:
		return BatteryNormal
	}
}

// Fix is a single raw location reading from a positioning provider.
// Fixes are transient: they are classified and gated, and only ever
// persisted after conversion into a queue record.
type Fix struct {
	// Lat and Lon are WGS84 coordinates in degrees.
	Lat float64
	Lon float64

	// Accuracy is the horizontal accuracy estimate in meters. Zero means
	// the provider did not report one.
	Accuracy float64

	// Altitude in meters above the WGS84 ellipsoid, if reported.
	Altitude float64

	// Bearing is the direction of travel in degrees, if reported.
	Bearing float64

	// Speed is the instantaneous ground speed in m/s.
	Speed float64

	// Time is the device-clock capture time.
	Time time.Time
}

// Valid reports whether the fix carries usable coordinates. Fixes that
// fail this check must never reach the offline queue.
func (f Fix) Valid() bool {
	if f.Lat != f.Lat || f.Lon != f.Lon { // NaN check
		return false
	}
	if f.Lat < -90 || f.Lat > 90 || f.Lon < -180 || f.Lon > 180 {
		return false
	}
	// (0,0) is the null island sentinel emitted by providers without a fix.
	if f.Lat == 0 && f.Lon == 0 {
		return false
	}
	return true
}

// ActivityType is an OS activity-recognition classification.
type ActivityType int

// Activity types delivered by the platform's activity recognition source.
const (
	ActivityStill ActivityType = iota
	ActivityWalking
	ActivityRunning
	ActivityOnBicycle
	ActivityInVehicle
)

// String returns the activity name.
func (a ActivityType) String() string {
	switch a {
	case ActivityStill:
		return "still"
	case ActivityWalking:
		return "walking"
	case ActivityRunning:
		return "running"
	case ActivityOnBicycle:
		return "on_bicycle"
	case ActivityInVehicle:
		return "in_vehicle"
	default:
		return "unknown"
	}
}

// Moving reports whether the activity type implies motion.
func (a ActivityType) Moving() bool {
	switch a {
	case ActivityWalking, ActivityRunning, ActivityOnBicycle, ActivityInVehicle:
		return true
	default:
		return false
	}
}

// ActivityTransition is an enter/exit event for an activity type. These are
// higher-priority hints that short-circuit the distance/speed hysteresis.
type ActivityTransition struct {
	Activity ActivityType
	Enter    bool
	Time     time.Time
}
