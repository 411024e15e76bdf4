package track

import (
	"time"

	"github.com/rs/zerolog"
)

// SubscriptionSink receives the ordered side effects of a mode transition:
// the current location subscription is cancelled and replaced with one
// parameterized for the new mode, and the user-visible tracking state is
// refreshed. Implementations are called from the supervisor's event loop
// only and must not block on network I/O.
type SubscriptionSink interface {
	// Resubscribe cancels the active location subscription and requests a
	// new one with the given parameters.
	Resubscribe(req SamplingRequest) error

	// ModeChanged reports the new mode so the foreground notification text
	// can be updated.
	ModeChanged(mode Mode)
}

// ControllerConfig holds the mode state machine timing parameters.
type ControllerConfig struct {
	// BurstDuration is how long burst mode lasts before falling back to
	// moving mode automatically.
	// Default: 30 seconds
	BurstDuration time.Duration

	// HeartbeatInterval is the maximum time between enqueued fixes. Once
	// exceeded, the next fix is force-enqueued regardless of dedup gating
	// so the server keeps receiving liveness signals while stationary.
	// Default: 5 minutes
	HeartbeatInterval time.Duration
}

// DefaultControllerConfig returns the default timing parameters.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		BurstDuration:     30 * time.Second,
		HeartbeatInterval: 5 * time.Minute,
	}
}

// Controller is the tracking mode state machine. It owns the current mode,
// the burst window, and heartbeat bookkeeping. It is not safe for
// concurrent use: all calls must come from the single goroutine that owns
// tracking state (the supervisor's event loop).
type Controller struct {
	config     ControllerConfig
	classifier *Classifier
	policy     *Policy
	battery    func() BatteryBucket
	sink       SubscriptionSink
	logger     zerolog.Logger

	mode          Mode
	burstStarted  time.Time
	lastEnqueueAt time.Time
	prevFix       *Fix
}

// ControllerDeps holds the collaborators for creating a Controller.
type ControllerDeps struct {
	Config     ControllerConfig
	Classifier *Classifier
	Policy     *Policy
	// Battery returns the current battery bucket; consulted on every
	// resubscribe so policy decisions always see a fresh reading.
	Battery func() BatteryBucket
	Sink    SubscriptionSink
	Logger  zerolog.Logger
}

// NewController creates a mode controller starting in idle mode.
func NewController(deps ControllerDeps) *Controller {
	cfg := deps.Config
	def := DefaultControllerConfig()
	if cfg.BurstDuration <= 0 {
		cfg.BurstDuration = def.BurstDuration
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}

	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewClassifier(ClassifierConfig{})
	}
	policy := deps.Policy
	if policy == nil {
		policy = NewPolicy(PolicyConfig{})
	}
	battery := deps.Battery
	if battery == nil {
		battery = func() BatteryBucket { return BatteryNormal }
	}

	return &Controller{
		config:     cfg,
		classifier: classifier,
		policy:     policy,
		battery:    battery,
		sink:       deps.Sink,
		logger:     deps.Logger,
		mode:       ModeIdle,
	}
}

// Mode returns the current tracking mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Start resets the state machine to idle and issues the initial location
// subscription. A restarted session never inherits the previous session's
// mode, burst window, or classification history.
func (c *Controller) Start(now time.Time) error {
	c.mode = ModeIdle
	c.prevFix = nil
	c.burstStarted = time.Time{}
	c.lastEnqueueAt = now
	return c.resubscribe()
}

// HandleFix classifies the fix against its predecessor and applies any
// resulting mode transition. It returns the classification so the caller
// can run the dedup gate.
func (c *Controller) HandleFix(now time.Time, fix Fix) Classification {
	sinceEnqueue := now.Sub(c.lastEnqueueAt)
	cls := c.classifier.Classify(c.prevFix, fix, c.mode, sinceEnqueue)
	f := fix
	c.prevFix = &f

	// Burst expiry is evaluated first so a fix arriving after the window
	// lands in the correct follow-up mode.
	c.expireBurst(now)

	switch c.mode {
	case ModeIdle:
		if cls.Moving {
			c.transition(now, ModeMoving, "motion detected")
		}
	case ModeMoving:
		if cls.Settled {
			c.transition(now, ModeIdle, "settled")
		}
	case ModeBurst:
		// Burst ignores motion classification until the window expires.
	}

	return cls
}

// HandleActivity applies an OS activity-recognition transition. Activity
// signals are trusted over the distance/speed hysteresis: entering still
// forces idle immediately, entering any moving activity forces moving, and
// exiting a moving activity conservatively re-enters moving so the next
// classification window decides.
func (c *Controller) HandleActivity(now time.Time, tr ActivityTransition) {
	if c.mode == ModeBurst && !c.expireBurst(now) {
		// Activity hints never cut a burst window short.
		return
	}

	switch {
	case tr.Enter && tr.Activity == ActivityStill:
		if c.mode != ModeIdle {
			c.transition(now, ModeIdle, "activity still")
		}
	case tr.Activity.Moving():
		if c.mode != ModeMoving {
			c.transition(now, ModeMoving, "activity "+tr.Activity.String())
		}
	}
}

// Wake forces burst mode from any state, restarting the burst window if
// one is already active.
func (c *Controller) Wake(now time.Time) {
	c.burstStarted = now
	if c.mode != ModeBurst {
		c.transition(now, ModeBurst, "wake trigger")
		return
	}
	c.logger.Debug().Msg("burst window restarted")
}

// Tick advances time-driven transitions (burst expiry). The supervisor
// calls it from its heartbeat timer so a burst ends even when no fixes
// arrive.
func (c *Controller) Tick(now time.Time) {
	c.expireBurst(now)
}

// HeartbeatDue reports whether the heartbeat interval has elapsed since a
// fix was last enqueued. A due heartbeat bypasses dedup gating.
func (c *Controller) HeartbeatDue(now time.Time) bool {
	return now.Sub(c.lastEnqueueAt) >= c.config.HeartbeatInterval
}

// NoteEnqueued records that a fix was persisted, resetting the heartbeat
// and idle-timeout clocks.
func (c *Controller) NoteEnqueued(now time.Time) {
	c.lastEnqueueAt = now
}

// expireBurst falls back from burst to moving once the window has elapsed.
// It returns true when an expiry transition happened.
func (c *Controller) expireBurst(now time.Time) bool {
	if c.mode != ModeBurst {
		return false
	}
	if now.Sub(c.burstStarted) < c.config.BurstDuration {
		return false
	}
	c.transition(now, ModeMoving, "burst expired")
	return true
}

// transition changes mode and performs the ordered side effects. Mode is
// updated before the policy is queried so the new subscription reflects
// the new mode immediately; a stale-mode subscription is a correctness bug.
func (c *Controller) transition(now time.Time, to Mode, reason string) {
	from := c.mode
	c.mode = to

	// Reset mode-local counters.
	switch to {
	case ModeBurst:
		if c.burstStarted.IsZero() || from != ModeBurst {
			c.burstStarted = now
		}
	default:
		c.burstStarted = time.Time{}
	}

	c.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("tracking mode changed")

	if err := c.resubscribe(); err != nil {
		c.logger.Error().Err(err).Msg("failed to resubscribe after mode change")
	}
	if c.sink != nil {
		c.sink.ModeChanged(to)
	}
}

// resubscribe queries the policy for the current mode and battery bucket
// and replaces the location subscription.
func (c *Controller) resubscribe() error {
	if c.sink == nil {
		return nil
	}
	req := c.policy.ComputeRequest(c.mode, c.battery())
	return c.sink.Resubscribe(req)
}
