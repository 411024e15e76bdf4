// Package agent provides the tracking supervisor: the single owner of
// tracking lifecycle and state. It wires platform sensor input into the
// mode controller, gates fixes into the offline queue, and triggers the
// upload scheduler after each enqueue.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/geo"
	"github.com/famloop/trackd/internal/geofence"
	"github.com/famloop/trackd/internal/platform"
	"github.com/famloop/trackd/internal/queue"
	"github.com/famloop/trackd/internal/telemetry"
	"github.com/famloop/trackd/internal/track"
)

// UploadTrigger requests an upload cycle after an enqueue. Triggering is
// fire-and-forget; the upload worker runs off the supervisor's critical
// path.
type UploadTrigger interface {
	Trigger()
}

// FixMirror receives a copy of every persisted fix, best-effort. Used for
// the legacy single-fix upload path on devices that pair with pre-batch
// server deployments.
type FixMirror interface {
	Send(ctx context.Context, fix track.Fix, isMoving bool, battery *int)
}

// Config holds supervisor parameters.
type Config struct {
	// DedupDistance is the displacement (meters) from the last persisted
	// fix below which a new fix is considered a duplicate and dropped,
	// unless the heartbeat is due.
	// Default: 10 m
	DedupDistance float64

	// WakeLockCeiling bounds how long the keep-alive resource is held
	// after start or wake. The lock is always released on stop regardless.
	// Default: 10 minutes
	WakeLockCeiling time.Duration

	// BatteryLowBelow and BatteryCriticalBelow are the bucket boundaries
	// as battery percentages.
	// Defaults: 30 and 10
	BatteryLowBelow      int
	BatteryCriticalBelow int

	// TickInterval drives time-based transitions (burst expiry) when no
	// fixes arrive.
	// Default: 10 seconds
	TickInterval time.Duration

	Classifier track.ClassifierConfig
	Controller track.ControllerConfig
	Policy     track.PolicyConfig
}

// DefaultConfig returns the default supervisor parameters.
func DefaultConfig() Config {
	return Config{
		DedupDistance:        10,
		WakeLockCeiling:      10 * time.Minute,
		BatteryLowBelow:      30,
		BatteryCriticalBelow: 10,
		TickInterval:         10 * time.Second,
	}
}

// Deps holds the supervisor's collaborators.
type Deps struct {
	Config      Config
	Provider    platform.LocationProvider
	Activity    platform.ActivitySource // optional
	Battery     platform.BatteryReader
	Permissions platform.PermissionChecker
	WakeLock    platform.WakeLock
	Notifier    platform.Notifier
	Queue       queue.Repository
	Uploads     UploadTrigger
	Mirror      FixMirror               // optional
	Zones       []geofence.Zone         // optional
	Metrics     *telemetry.AgentMetrics // optional
	Logger      zerolog.Logger
}

// Status is a snapshot of supervisor state for the control API.
type Status struct {
	Running       bool
	Mode          track.Mode
	LastEnqueueAt time.Time
}

// Supervisor owns the tracking session. All mode and gating state is
// mutated exclusively inside its run loop; external entry points (Wake,
// Stop) communicate with the loop over channels.
type Supervisor struct {
	config     Config
	provider   platform.LocationProvider
	activity   platform.ActivitySource
	battery    platform.BatteryReader
	perms      platform.PermissionChecker
	wakeLock   platform.WakeLock
	notifier   platform.Notifier
	queue      queue.Repository
	uploads    UploadTrigger
	mirror     FixMirror
	metrics    *telemetry.AgentMetrics
	logger     zerolog.Logger
	controller *track.Controller
	geofences  *geofence.Evaluator

	wakeCh chan struct{}

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	lastEnqueueAt time.Time

	// loop-local state, touched only by the run goroutine
	fixCh         <-chan track.Fix
	lastPersisted *track.Fix
	wakeLockUntil time.Time
	wakeLockHeld  bool
}

// New creates a supervisor. Tracking does not begin until Start.
func New(deps Deps) *Supervisor {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.DedupDistance <= 0 {
		cfg.DedupDistance = def.DedupDistance
	}
	if cfg.WakeLockCeiling <= 0 {
		cfg.WakeLockCeiling = def.WakeLockCeiling
	}
	if cfg.BatteryLowBelow <= 0 {
		cfg.BatteryLowBelow = def.BatteryLowBelow
	}
	if cfg.BatteryCriticalBelow <= 0 {
		cfg.BatteryCriticalBelow = def.BatteryCriticalBelow
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}

	wakeLock := deps.WakeLock
	if wakeLock == nil {
		wakeLock = platform.NopWakeLock{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = platform.NopNotifier{}
	}

	s := &Supervisor{
		config:   cfg,
		provider: deps.Provider,
		activity: deps.Activity,
		battery:  deps.Battery,
		perms:    deps.Permissions,
		wakeLock: wakeLock,
		notifier: notifier,
		queue:    deps.Queue,
		uploads:  deps.Uploads,
		mirror:   deps.Mirror,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		wakeCh:   make(chan struct{}, 1),
	}

	if len(deps.Zones) > 0 {
		s.geofences = geofence.NewEvaluator(deps.Zones,
			deps.Logger.With().Str("component", "geofence").Logger())
	}

	s.controller = track.NewController(track.ControllerDeps{
		Config:     cfg.Controller,
		Classifier: track.NewClassifier(cfg.Classifier),
		Policy:     track.NewPolicy(cfg.Policy),
		Battery:    s.batteryBucket,
		Sink:       (*subscriptionSink)(s),
		Logger:     deps.Logger.With().Str("component", "controller").Logger(),
	})

	return s
}

// Start begins tracking. It fails fast with ErrPermissionDenied when
// location access is missing: spinning on a subscription that will keep
// failing helps nobody.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return track.ErrAlreadyRunning
	}
	if s.perms != nil && !s.perms.LocationGranted() {
		return track.ErrPermissionDenied
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	now := time.Now()
	s.lastPersisted = nil

	// Discard a wake command delivered while stopped: wake-while-stopped is
	// a no-op and must not fire a spurious burst in the next session.
	select {
	case <-s.wakeCh:
	default:
	}

	s.wakeLock.Acquire()
	s.wakeLockHeld = true
	s.wakeLockUntil = now.Add(s.config.WakeLockCeiling)

	if err := s.controller.Start(now); err != nil {
		s.wakeLock.Release()
		s.wakeLockHeld = false
		s.running = false
		cancel()
		return err
	}

	go s.run(runCtx)
	s.logger.Info().Msg("tracking started")
	return nil
}

// Stop ends the tracking session. The location subscription is cancelled
// and the wake-lock released before Stop returns; no callbacks fire
// afterwards. Upload jobs already in flight are left to complete, since
// their payload is independent of live tracking state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("tracking stopped")
}

// Wake forces burst mode, typically in response to a server-sent wake
// command. Safe to call from any goroutine; a no-op when not running.
func (s *Supervisor) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.running,
		Mode:          s.controller.Mode(),
		LastEnqueueAt: s.lastEnqueueAt,
	}
}

// run is the supervisor's event loop: the single execution context for all
// mode and gating decisions.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.releaseWakeLock()
	defer s.provider.Cancel()

	var activityCh <-chan track.ActivityTransition
	if s.activity != nil {
		activityCh = s.activity.Transitions()
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case fix, ok := <-s.fixCh:
			if !ok {
				// Stale channel from a replaced subscription; the sink
				// already swapped in the new one.
				continue
			}
			s.handleFix(ctx, time.Now(), fix)

		case tr := <-activityCh:
			s.controller.HandleActivity(time.Now(), tr)

		case <-s.wakeCh:
			now := time.Now()
			s.controller.Wake(now)
			// Re-arm the keep-alive for the burst.
			if !s.wakeLockHeld {
				s.wakeLock.Acquire()
				s.wakeLockHeld = true
			}
			s.wakeLockUntil = now.Add(s.config.WakeLockCeiling)

		case now := <-ticker.C:
			s.controller.Tick(now)
			if s.wakeLockHeld && now.After(s.wakeLockUntil) {
				s.releaseWakeLock()
			}
		}
	}
}

// handleFix runs classification, the dedup/heartbeat gate, and the
// enqueue-plus-trigger pipeline for one fix.
func (s *Supervisor) handleFix(ctx context.Context, now time.Time, fix track.Fix) {
	if s.metrics != nil {
		s.metrics.FixesSeen.Add(ctx, 1)
	}

	// Malformed fixes never reach the queue.
	if !fix.Valid() {
		s.logger.Debug().
			Float64("lat", fix.Lat).
			Float64("lon", fix.Lon).
			Msg("dropping invalid fix")
		s.dropped(ctx)
		return
	}

	s.controller.HandleFix(now, fix)
	s.evaluateZones(ctx, fix)

	if !s.shouldPersist(now, fix) {
		s.dropped(ctx)
		return
	}

	isMoving := s.controller.Mode() != track.ModeIdle
	rec := queue.NewRecord(fix, isMoving, s.batteryLevel())

	// A storage hiccup drops the fix; it must never take down tracking.
	if err := s.queue.Append(ctx, rec); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue fix, dropping")
		return
	}

	s.controller.NoteEnqueued(now)
	f := fix
	s.lastPersisted = &f
	s.mu.Lock()
	s.lastEnqueueAt = now
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FixesEnqueued.Add(ctx, 1)
	}
	if s.uploads != nil {
		s.uploads.Trigger()
	}
	if s.mirror != nil {
		// Off the loop goroutine: the mirror does network I/O and must not
		// stall fix handling.
		go s.mirror.Send(ctx, fix, isMoving, rec.BatteryLevel)
	}
}

// shouldPersist is the dedup/heartbeat gate. A due heartbeat always
// persists, so liveness signals keep flowing while stationary; otherwise
// the fix must have moved at least the dedup distance from the last
// persisted one.
func (s *Supervisor) shouldPersist(now time.Time, fix track.Fix) bool {
	if s.controller.HeartbeatDue(now) {
		return true
	}
	if s.lastPersisted == nil {
		return true
	}
	dist := geo.HaversineDistanceMeters(
		s.lastPersisted.Lat, s.lastPersisted.Lon, fix.Lat, fix.Lon)
	return dist >= s.config.DedupDistance
}

// evaluateZones runs every valid fix through the geofence evaluator,
// including fixes the dedup gate later drops: zone boundaries do not care
// about displacement thresholds.
func (s *Supervisor) evaluateZones(ctx context.Context, fix track.Fix) {
	if s.geofences == nil {
		return
	}
	for _, ev := range s.geofences.Evaluate(fix) {
		s.logger.Info().
			Str("zone", ev.ZoneName).
			Str("event", ev.Kind.String()).
			Msg("zone transition")
		s.notifier.ZoneTransition(ev.ZoneName, ev.Kind == geofence.EventEnter)
		if s.metrics != nil {
			s.metrics.ZoneEvents.Add(ctx, 1)
		}
	}
}

func (s *Supervisor) dropped(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.FixesDropped.Add(ctx, 1)
	}
}

func (s *Supervisor) batteryLevel() *int {
	if s.battery == nil {
		return nil
	}
	level := s.battery.Level()
	if level < 0 {
		return nil
	}
	return &level
}

func (s *Supervisor) batteryBucket() track.BatteryBucket {
	if s.battery == nil {
		return track.BatteryNormal
	}
	return track.BucketForLevel(s.battery.Level(),
		s.config.BatteryLowBelow, s.config.BatteryCriticalBelow)
}

func (s *Supervisor) releaseWakeLock() {
	if s.wakeLockHeld {
		s.wakeLock.Release()
		s.wakeLockHeld = false
	}
}

// subscriptionSink adapts the supervisor into the controller's
// SubscriptionSink. Called only from the run loop (or Start, before the
// loop exists), so swapping the fix channel is race-free.
type subscriptionSink Supervisor

// Resubscribe implements track.SubscriptionSink.
func (s *subscriptionSink) Resubscribe(req track.SamplingRequest) error {
	sup := (*Supervisor)(s)

	ch, err := sup.provider.Subscribe(context.Background(), req)
	if err != nil {
		if errors.Is(err, track.ErrPermissionDenied) {
			// Permission was revoked mid-session; stop instead of
			// spinning on a subscription that will keep failing.
			sup.logger.Error().Msg("location permission revoked, stopping tracking")
			go sup.Stop()
			return err
		}
		return err
	}
	sup.fixCh = ch

	sup.logger.Debug().
		Dur("interval", req.Interval).
		Float64("min_distance", req.MinDistance).
		Str("priority", req.Priority.String()).
		Msg("location subscription replaced")
	return nil
}

// ModeChanged implements track.SubscriptionSink.
func (s *subscriptionSink) ModeChanged(mode track.Mode) {
	sup := (*Supervisor)(s)
	sup.notifier.TrackingStatus(mode)
	if sup.metrics != nil {
		sup.metrics.ModeTransitions.Add(context.Background(), 1)
	}
}
