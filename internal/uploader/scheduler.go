package uploader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/platform"
	"github.com/famloop/trackd/internal/queue"
	"github.com/famloop/trackd/internal/telemetry"
)

// SchedulerConfig holds upload scheduling parameters.
type SchedulerConfig struct {
	// BatchSize is the maximum number of records per upload.
	// Default: 100
	BatchSize int

	// RetryCeiling is the retry count at which a record is abandoned:
	// marked sent without ever being delivered. This bounds queue growth
	// at the cost of silently dropping persistently failing fixes.
	// Default: 5
	RetryCeiling int

	// InitialBackoff is the first retry delay after a transient failure.
	// Default: 30 seconds
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	// Default: 15 minutes
	MaxBackoff time.Duration

	// Interval is the periodic drain cadence independent of enqueue
	// triggers.
	// Default: 5 minutes
	Interval time.Duration
}

// DefaultSchedulerConfig returns the default scheduling parameters.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:      100,
		RetryCeiling:   5,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     15 * time.Minute,
		Interval:       5 * time.Minute,
	}
}

// BatchResult summarizes one upload cycle.
type BatchResult struct {
	// Succeeded is how many records were confirmed by the server.
	Succeeded int

	// Retried is how many records had their retry counter incremented.
	Retried int

	// Abandoned is how many records hit the retry ceiling and were marked
	// sent without delivery.
	Abandoned int

	// Fatal is set on an authentication failure; the worker stops
	// attempting uploads until credentials are refreshed.
	Fatal bool
}

// Scheduler drains the offline queue through a single serialized worker.
// Upload jobs are "keep existing": triggering while a job is queued or
// running is a no-op, which both bounds work and guarantees that no two
// batches pull the same records concurrently.
type Scheduler struct {
	config       SchedulerConfig
	repo         queue.Repository
	sender       BatchSender
	connectivity platform.ConnectivityChecker
	metrics      *telemetry.AgentMetrics
	logger       zerolog.Logger

	trigger chan struct{}

	mu          sync.Mutex
	lastSuccess time.Time
	authFailed  bool
}

// SchedulerDeps holds the collaborators for creating a Scheduler.
type SchedulerDeps struct {
	Config       SchedulerConfig
	Repository   queue.Repository
	Sender       BatchSender
	Connectivity platform.ConnectivityChecker
	Metrics      *telemetry.AgentMetrics
	Logger       zerolog.Logger
}

// NewScheduler creates an upload scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	cfg := deps.Config
	def := DefaultSchedulerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = def.RetryCeiling
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	connectivity := deps.Connectivity
	if connectivity == nil {
		connectivity = platform.AlwaysOnline{}
	}

	return &Scheduler{
		config:       cfg,
		repo:         deps.Repository,
		sender:       deps.Sender,
		connectivity: connectivity,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		trigger:      make(chan struct{}, 1),
	}
}

// Trigger requests an upload cycle. If one is already queued or running
// the request is dropped (keep-existing semantics).
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// LastSuccess returns when a batch was last accepted by the server.
func (s *Scheduler) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// AuthFailed reports whether the worker has halted on an authentication
// failure.
func (s *Scheduler) AuthFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailed
}

// Run is the upload worker loop. It drains on triggers and on a periodic
// tick, backing off exponentially after transient failures. Run returns
// when the context is cancelled; a batch already in flight completes or
// fails naturally first, so queued data is never lost to a shutdown race.
func (s *Scheduler) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.InitialBackoff
	bo.MaxInterval = s.config.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	var retryTimer *time.Timer
	retryCh := func() <-chan time.Time {
		if retryTimer == nil {
			return nil
		}
		return retryTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		case <-ticker.C:
		case <-retryCh():
			retryTimer = nil
		}

		if s.AuthFailed() {
			// Credentials are wrong; nothing to do until they change.
			continue
		}
		if !s.connectivity.Online() {
			s.logger.Debug().Msg("offline, skipping upload cycle")
			continue
		}

		result := s.RunBatch(ctx)
		switch {
		case result.Fatal:
			s.logger.Error().Msg("upload halted on auth failure, re-authentication required")
		case result.Retried > 0:
			delay := bo.NextBackOff()
			s.logger.Warn().
				Int("retried", result.Retried).
				Dur("next_attempt_in", delay).
				Msg("upload batch failed, backing off")
			if retryTimer != nil {
				retryTimer.Stop()
			}
			retryTimer = time.NewTimer(delay)
		case result.Succeeded > 0:
			bo.Reset()
			// More records may be waiting behind the batch limit.
			s.Trigger()
		}
	}
}

// ResetAuth clears the auth-failure latch after credentials were refreshed.
func (s *Scheduler) ResetAuth() {
	s.mu.Lock()
	s.authFailed = false
	s.mu.Unlock()
}

// RunBatch executes a single upload cycle: pull a batch, abandon records
// past the retry ceiling, POST the rest once, and apply the all-or-nothing
// outcome. Callers other than the worker loop must not invoke it
// concurrently with the worker.
func (s *Scheduler) RunBatch(ctx context.Context) BatchResult {
	var result BatchResult

	records, err := s.repo.GetUnsent(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read pending records")
		return result
	}

	if len(records) == 0 {
		s.cleanup(ctx)
		return result
	}

	// Abandon records at or over the ceiling before building the payload:
	// they are marked sent so they stop blocking the batch cursor, but are
	// never delivered.
	var abandoned []string
	var sendable []*queue.Record
	for _, rec := range records {
		if rec.RetryCount >= s.config.RetryCeiling {
			abandoned = append(abandoned, rec.EventID)
			continue
		}
		sendable = append(sendable, rec)
	}

	if len(abandoned) > 0 {
		if err := s.repo.MarkSent(ctx, abandoned); err != nil {
			s.logger.Error().Err(err).Msg("failed to abandon records")
		} else {
			result.Abandoned = len(abandoned)
			s.logger.Warn().
				Int("count", len(abandoned)).
				Msg("abandoned records past retry ceiling")
			if s.metrics != nil {
				s.metrics.UploadAbandoned.Add(ctx, int64(len(abandoned)))
			}
		}
	}

	if len(sendable) == 0 {
		s.cleanup(ctx)
		return result
	}

	ids := make([]string, len(sendable))
	for i, rec := range sendable {
		ids[i] = rec.EventID
	}

	err = s.sender.SendBatch(ctx, sendable)
	switch {
	case err == nil:
		if markErr := s.repo.MarkSent(ctx, ids); markErr != nil {
			// The server accepted the batch; a redelivery after this
			// failure is harmless because of event-id dedup.
			s.logger.Error().Err(markErr).Msg("failed to mark batch sent")
			return result
		}
		result.Succeeded = len(sendable)
		s.mu.Lock()
		s.lastSuccess = time.Now()
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.UploadSucceeded.Add(ctx, int64(len(sendable)))
		}
		s.logger.Info().Int("count", len(sendable)).Msg("batch uploaded")
		s.cleanup(ctx)

	case errors.Is(err, ErrAuthFailed):
		// No retry-count mutation: an auth failure is not the records'
		// fault and will not be fixed by retrying them.
		result.Fatal = true
		s.mu.Lock()
		s.authFailed = true
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("upload rejected, credentials invalid")

	default:
		if retryErr := s.repo.IncrementRetry(ctx, ids); retryErr != nil {
			s.logger.Error().Err(retryErr).Msg("failed to increment retry counts")
		}
		result.Retried = len(sendable)
		if s.metrics != nil {
			s.metrics.UploadRetried.Add(ctx, int64(len(sendable)))
		}
		s.logger.Warn().Err(err).Int("count", len(sendable)).Msg("batch upload failed")
	}

	return result
}

func (s *Scheduler) cleanup(ctx context.Context) {
	removed, err := s.repo.Cleanup(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("queue cleanup failed")
		return
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("queue cleanup")
	}
}
