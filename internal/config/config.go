// Package config loads the tracking agent's configuration from the
// environment. Every tunable has a default matching the shipped product
// behavior; env vars exist for fleet experiments and test rigs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/famloop/trackd/internal/agent"
	"github.com/famloop/trackd/internal/geo"
	"github.com/famloop/trackd/internal/geofence"
	"github.com/famloop/trackd/internal/track"
	"github.com/famloop/trackd/internal/uploader"
)

// Agent is the full trackd process configuration.
type Agent struct {
	// ListenAddr is the control API bind address.
	ListenAddr string

	// QueuePath is the SQLite offline queue file; ":memory:" for tests.
	QueuePath string

	// UploadBaseURL and UploadToken configure the batch upload client.
	UploadBaseURL string
	UploadToken   string

	// LegacySessionCookie enables the best-effort legacy single-fix mirror
	// when non-empty. LegacySource labels the reporting device class.
	LegacySessionCookie string
	LegacySource        string

	// PubSubProjectID and WakeSubscription configure the wake listener.
	// Empty WakeSubscription disables it.
	PubSubProjectID  string
	WakeSubscription string

	// OTLPEndpoint and TelemetryEnabled configure telemetry export.
	OTLPEndpoint     string
	TelemetryEnabled bool

	// Environment is the deploy environment label, e.g. "production".
	Environment string

	Supervisor agent.Config
	Scheduler  uploader.SchedulerConfig

	// Zones are the configured geofences.
	Zones []geofence.Zone
}

// zoneSpec is the JSON shape of one entry in TRACKD_GEOFENCE_ZONES.
type zoneSpec struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	CenterLat float64 `json:"center_lat,omitempty"`
	CenterLng float64 `json:"center_lng,omitempty"`
	RadiusM   float64 `json:"radius_m,omitempty"`
	Perimeter string  `json:"perimeter,omitempty"`
}

// FromEnv builds the agent configuration from environment variables.
func FromEnv() (Agent, error) {
	cfg := Agent{
		ListenAddr:          getEnvOrDefault("TRACKD_LISTEN_ADDR", "127.0.0.1:8723"),
		QueuePath:           getEnvOrDefault("TRACKD_QUEUE_PATH", "trackd.db"),
		UploadBaseURL:       getEnvOrDefault("TRACKD_UPLOAD_URL", "https://api.famloop.app"),
		UploadToken:         os.Getenv("TRACKD_UPLOAD_TOKEN"),
		LegacySessionCookie: os.Getenv("TRACKD_LEGACY_SESSION_COOKIE"),
		LegacySource:        os.Getenv("TRACKD_LEGACY_SOURCE"),
		PubSubProjectID:     os.Getenv("TRACKD_PUBSUB_PROJECT"),
		WakeSubscription:    os.Getenv("TRACKD_WAKE_SUBSCRIPTION"),
		OTLPEndpoint:        getEnvOrDefault("TRACKD_OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:    getEnvOrDefault("TRACKD_TELEMETRY_ENABLED", "false") == "true",
		Environment:         getEnvOrDefault("TRACKD_ENVIRONMENT", "production"),
	}

	cfg.Supervisor = agent.Config{
		DedupDistance:        envFloat("TRACKD_DEDUP_DISTANCE_M", 0),
		WakeLockCeiling:      envDuration("TRACKD_WAKELOCK_CEILING", 0),
		BatteryLowBelow:      envInt("TRACKD_BATTERY_LOW_BELOW", 0),
		BatteryCriticalBelow: envInt("TRACKD_BATTERY_CRITICAL_BELOW", 0),
		Classifier: track.ClassifierConfig{
			MovingSpeed:      envFloat("TRACKD_MOVING_SPEED_MS", 0),
			EscalateDistance: envFloat("TRACKD_ESCALATE_DISTANCE_M", 0),
			SettleDistance:   envFloat("TRACKD_SETTLE_DISTANCE_M", 0),
			IdleTimeout:      envDuration("TRACKD_IDLE_TIMEOUT", 0),
		},
		Controller: track.ControllerConfig{
			BurstDuration:     envDuration("TRACKD_BURST_DURATION", 0),
			HeartbeatInterval: envDuration("TRACKD_HEARTBEAT_INTERVAL", 0),
		},
	}

	cfg.Scheduler = uploader.SchedulerConfig{
		BatchSize:      envInt("TRACKD_BATCH_SIZE", 0),
		RetryCeiling:   envInt("TRACKD_RETRY_CEILING", 0),
		InitialBackoff: envDuration("TRACKD_INITIAL_BACKOFF", 0),
		MaxBackoff:     envDuration("TRACKD_MAX_BACKOFF", 0),
		Interval:       envDuration("TRACKD_UPLOAD_INTERVAL", 0),
	}

	zones, err := parseZones(os.Getenv("TRACKD_GEOFENCE_ZONES"))
	if err != nil {
		return Agent{}, err
	}
	cfg.Zones = zones

	return cfg, nil
}

// parseZones decodes the TRACKD_GEOFENCE_ZONES JSON array into zones.
func parseZones(raw string) ([]geofence.Zone, error) {
	if raw == "" {
		return nil, nil
	}

	var specs []zoneSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("parse TRACKD_GEOFENCE_ZONES: %w", err)
	}

	zones := make([]geofence.Zone, 0, len(specs))
	for _, spec := range specs {
		var (
			zone geofence.Zone
			err  error
		)
		switch spec.Kind {
		case "circle":
			zone, err = geofence.NewCircleZone(spec.ID, spec.Name,
				geo.Point{Lat: spec.CenterLat, Lon: spec.CenterLng}, spec.RadiusM)
		case "polygon":
			zone, err = geofence.NewPolygonZone(spec.ID, spec.Name, spec.Perimeter)
		default:
			err = fmt.Errorf("%w: unknown kind %q", geofence.ErrInvalidZone, spec.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", spec.ID, err)
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
