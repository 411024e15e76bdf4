package telemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// AgentMetrics holds the tracking agent's counters.
type AgentMetrics struct {
	// FixesSeen counts every fix delivered by the location provider.
	FixesSeen metric.Int64Counter

	// FixesEnqueued counts fixes persisted to the offline queue.
	FixesEnqueued metric.Int64Counter

	// FixesDropped counts fixes rejected by validation or the dedup gate.
	FixesDropped metric.Int64Counter

	// ModeTransitions counts tracking mode changes.
	ModeTransitions metric.Int64Counter

	// ZoneEvents counts geofence enter and exit events.
	ZoneEvents metric.Int64Counter

	// UploadSucceeded counts records confirmed by the server.
	UploadSucceeded metric.Int64Counter

	// UploadRetried counts records scheduled for retry.
	UploadRetried metric.Int64Counter

	// UploadAbandoned counts records dropped at the retry ceiling.
	UploadAbandoned metric.Int64Counter
}

// NewAgentMetrics creates the agent's metric instruments on the given
// meter.
func NewAgentMetrics(meter metric.Meter) (*AgentMetrics, error) {
	fixesSeen, err := meter.Int64Counter("trackd.fixes.seen",
		metric.WithDescription("Location fixes delivered by the provider"))
	if err != nil {
		return nil, err
	}

	fixesEnqueued, err := meter.Int64Counter("trackd.fixes.enqueued",
		metric.WithDescription("Location fixes persisted to the offline queue"))
	if err != nil {
		return nil, err
	}

	fixesDropped, err := meter.Int64Counter("trackd.fixes.dropped",
		metric.WithDescription("Location fixes rejected by validation or dedup gating"))
	if err != nil {
		return nil, err
	}

	modeTransitions, err := meter.Int64Counter("trackd.mode.transitions",
		metric.WithDescription("Tracking mode transitions"))
	if err != nil {
		return nil, err
	}

	zoneEvents, err := meter.Int64Counter("trackd.zone.events",
		metric.WithDescription("Geofence enter and exit events"))
	if err != nil {
		return nil, err
	}

	uploadSucceeded, err := meter.Int64Counter("trackd.upload.succeeded",
		metric.WithDescription("Records confirmed by the ingest server"))
	if err != nil {
		return nil, err
	}

	uploadRetried, err := meter.Int64Counter("trackd.upload.retried",
		metric.WithDescription("Records scheduled for upload retry"))
	if err != nil {
		return nil, err
	}

	uploadAbandoned, err := meter.Int64Counter("trackd.upload.abandoned",
		metric.WithDescription("Records abandoned at the retry ceiling"))
	if err != nil {
		return nil, err
	}

	return &AgentMetrics{
		FixesSeen:       fixesSeen,
		FixesEnqueued:   fixesEnqueued,
		FixesDropped:    fixesDropped,
		ModeTransitions: modeTransitions,
		ZoneEvents:      zoneEvents,
		UploadSucceeded: uploadSucceeded,
		UploadRetried:   uploadRetried,
		UploadAbandoned: uploadAbandoned,
	}, nil
}
