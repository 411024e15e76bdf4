package track

import (
	"time"
)

// Priority is the positioning priority hint passed to the platform location
// provider, mirroring the usual fused-provider accuracy tiers.
type Priority int

// Positioning priorities, from most to least power hungry.
const (
	PriorityHighAccuracy Priority = iota
	PriorityBalanced
	PriorityLowPower
	PriorityPassive
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHighAccuracy:
		return "high_accuracy"
	case PriorityBalanced:
		return "balanced"
	case PriorityLowPower:
		return "low_power"
	case PriorityPassive:
		return "passive"
	default:
		return "unknown"
	}
}

// SamplingRequest is the parameter set for a location subscription.
type SamplingRequest struct {
	// Interval is the desired time between fixes.
	Interval time.Duration

	// MinDistance is the minimum displacement in meters before the
	// provider delivers a new fix. Zero disables the distance filter.
	MinDistance float64

	// Priority is the positioning priority hint.
	Priority Priority

	// MaxDelay allows the provider to batch deliveries up to this long
	// after Interval. Zero requests immediate delivery.
	MaxDelay time.Duration
}

// PolicyConfig holds the per-mode and per-bucket sampling parameters.
type PolicyConfig struct {
	// Burst is applied in burst mode at normal battery: short interval,
	// high accuracy, no distance filter.
	Burst SamplingRequest

	// Moving is applied in moving mode at normal battery.
	Moving SamplingRequest

	// Idle is applied in idle mode at normal battery.
	Idle SamplingRequest

	// LowBattery is applied in any mode when the battery bucket is low.
	LowBattery SamplingRequest

	// CriticalBattery is applied in any mode when the battery bucket is
	// critical. This is the most conservative request the policy emits.
	CriticalBattery SamplingRequest
}

// DefaultPolicyConfig returns the default sampling parameters.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Burst: SamplingRequest{
			Interval:    5 * time.Second,
			MinDistance: 0,
			Priority:    PriorityHighAccuracy,
		},
		Moving: SamplingRequest{
			Interval:    30 * time.Second,
			MinDistance: 25,
			Priority:    PriorityHighAccuracy,
			MaxDelay:    2 * time.Minute,
		},
		Idle: SamplingRequest{
			Interval:    5 * time.Minute,
			MinDistance: 100,
			Priority:    PriorityBalanced,
		},
		LowBattery: SamplingRequest{
			Interval:    10 * time.Minute,
			MinDistance: 150,
			Priority:    PriorityBalanced,
		},
		CriticalBattery: SamplingRequest{
			Interval:    30 * time.Minute,
			MinDistance: 500,
			Priority:    PriorityLowPower,
		},
	}
}

// Policy computes location-request parameters from the current mode and
// battery bucket.
//
// Battery overrides take precedence over mode: a critical battery always
// yields the critical-bucket request even in burst mode. Battery
// preservation is never overridden by motion urgency.
type Policy struct {
	config PolicyConfig
}

// NewPolicy creates a sampling policy. A zero-valued config falls back to
// the defaults wholesale; per-field patching is not supported because the
// request tiers only make sense as a set.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg == (PolicyConfig{}) {
		cfg = DefaultPolicyConfig()
	}
	return &Policy{config: cfg}
}

// ComputeRequest returns the sampling request for the given mode and
// battery bucket.
func (p *Policy) ComputeRequest(mode Mode, bucket BatteryBucket) SamplingRequest {
	switch bucket {
	case BatteryCritical:
		return p.config.CriticalBattery
	case BatteryLow:
		return p.config.LowBattery
	}

	switch mode {
	case ModeBurst:
		return p.config.Burst
	case ModeMoving:
		return p.config.Moving
	default:
		return p.config.Idle
	}
}
