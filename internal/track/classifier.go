package track

import (
	"time"

	"github.com/famloop/trackd/internal/geo"
)

// ClassifierConfig holds the motion thresholds. Escalation and settle
// thresholds are intentionally asymmetric: flipping to moving is easy,
// settling back to idle requires sustained low displacement.
type ClassifierConfig struct {
	// MovingSpeed is the instantaneous speed (m/s) at or above which a
	// single fix counts as moving.
	// Default: 1.0 m/s
	MovingSpeed float64

	// EscalateDistance is the displacement (meters) between consecutive
	// fixes that counts as moving regardless of reported speed.
	// Default: 50 m
	EscalateDistance float64

	// SettleDistance is the displacement (meters) below which a fix is
	// considered stationary noise while in moving mode.
	// Default: 15 m
	SettleDistance float64

	// IdleTimeout is how long displacement must stay below SettleDistance
	// before moving mode may settle back to idle.
	// Default: 2 minutes
	IdleTimeout time.Duration
}

// DefaultClassifierConfig returns the default motion thresholds.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MovingSpeed:      1.0,
		EscalateDistance: 50,
		SettleDistance:   15,
		IdleTimeout:      2 * time.Minute,
	}
}

// Classification is the result of classifying a fix against its predecessor.
type Classification struct {
	// Moving is the classifier's verdict for the current fix.
	Moving bool

	// Settled is true when moving mode should de-escalate to idle: the
	// displacement stayed under the settle threshold for at least the
	// idle timeout.
	Settled bool

	// DistanceMeters is the great-circle displacement from the previous
	// fix, or zero when there is no previous fix.
	DistanceMeters float64
}

// Classifier decides whether the device is currently moving or still from
// consecutive fixes. It is a pure function over its inputs and keeps no
// state of its own; hysteresis counters live in the controller.
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier, filling zero config fields with
// defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.MovingSpeed <= 0 {
		cfg.MovingSpeed = def.MovingSpeed
	}
	if cfg.EscalateDistance <= 0 {
		cfg.EscalateDistance = def.EscalateDistance
	}
	if cfg.SettleDistance <= 0 {
		cfg.SettleDistance = def.SettleDistance
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Classifier{config: cfg}
}

// Classify compares the current fix against the previous one under the
// given mode. sinceLastEnqueue is the elapsed time since a fix was last
// persisted; it only participates in the settle decision.
//
// Escalation (idle -> moving) triggers on either condition alone: speed at
// or above the moving threshold, or displacement at or above the escalation
// distance. De-escalation (moving -> idle) requires both low displacement
// and the idle timeout to have elapsed, so a car stopped at a traffic light
// does not thrash the mode.
func (c *Classifier) Classify(prev *Fix, cur Fix, mode Mode, sinceLastEnqueue time.Duration) Classification {
	var distance float64
	if prev != nil {
		distance = geo.HaversineDistanceMeters(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	}

	moving := cur.Speed >= c.config.MovingSpeed || distance >= c.config.EscalateDistance

	settled := false
	if mode == ModeMoving && !moving {
		settled = distance < c.config.SettleDistance && sinceLastEnqueue >= c.config.IdleTimeout
	}

	return Classification{
		Moving:         moving,
		Settled:        settled,
		DistanceMeters: distance,
	}
}
