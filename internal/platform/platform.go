// Package platform defines the capability interfaces the tracking core
// needs from the host OS: positioning, battery, permissions, connectivity,
// and keep-alive resources. The core never calls OS APIs directly; binding
// these interfaces to real platform facilities (or to the simulated
// implementations in this package) happens at wiring time, which keeps the
// core deterministic under test.
package platform

import (
	"context"

	"github.com/famloop/trackd/internal/track"
)

// LocationProvider delivers location fixes for a single active
// subscription. Fixes arrive in order on the channel returned by
// Subscribe; issuing a new subscription replaces the previous one.
type LocationProvider interface {
	// Subscribe starts (or replaces) the location subscription with the
	// given sampling parameters and returns the fix channel. The channel
	// is closed when the subscription is cancelled or the context ends.
	Subscribe(ctx context.Context, req track.SamplingRequest) (<-chan track.Fix, error)

	// Cancel stops the active subscription. No fixes are delivered after
	// Cancel returns.
	Cancel()
}

// ActivitySource delivers OS activity-recognition transitions, if the
// platform supports them. A nil ActivitySource disables activity hints.
type ActivitySource interface {
	// Transitions returns the channel of activity transition events.
	Transitions() <-chan track.ActivityTransition
}

// BatteryReader reports the current battery level.
type BatteryReader interface {
	// Level returns the battery percentage in [0, 100], or a negative
	// value when the level is unknown.
	Level() int
}

// PermissionChecker reports whether location access is granted.
type PermissionChecker interface {
	// LocationGranted returns true when the app may read location.
	LocationGranted() bool
}

// ConnectivityChecker reports whether the network is usable for uploads.
type ConnectivityChecker interface {
	// Online returns true when a usable network connection exists.
	Online() bool
}

// WakeLock is a keep-alive resource held while tracking runs in the
// foreground-service sense. Acquire is bounded by a ceiling duration;
// Release must always run in the stop path, including on error.
type WakeLock interface {
	Acquire()
	Release()
}

// Notifier updates the user-visible tracking status (foreground
// notification text on mobile platforms) and surfaces zone transitions.
type Notifier interface {
	TrackingStatus(mode track.Mode)

	// ZoneTransition reports that the device entered (or left) a
	// configured zone.
	ZoneTransition(zoneName string, entered bool)
}

// NopWakeLock is a WakeLock that does nothing, for platforms without a
// keep-alive concept.
type NopWakeLock struct{}

// Acquire implements WakeLock.
func (NopWakeLock) Acquire() {}

// Release implements WakeLock.
func (NopWakeLock) Release() {}

// NopNotifier is a Notifier that does nothing.
type NopNotifier struct{}

// TrackingStatus implements Notifier.
func (NopNotifier) TrackingStatus(track.Mode) {}

// ZoneTransition implements Notifier.
func (NopNotifier) ZoneTransition(string, bool) {}

// AlwaysOnline is a ConnectivityChecker that always reports a usable
// network.
type AlwaysOnline struct{}

// Online implements ConnectivityChecker.
func (AlwaysOnline) Online() bool { return true }

// AlwaysGranted is a PermissionChecker that always grants location access.
type AlwaysGranted struct{}

// LocationGranted implements PermissionChecker.
func (AlwaysGranted) LocationGranted() bool { return true }
