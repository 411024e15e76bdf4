package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/agent"
	"github.com/famloop/trackd/internal/api/models"
	"github.com/famloop/trackd/internal/api/response"
	"github.com/famloop/trackd/internal/queue"
	"github.com/famloop/trackd/internal/track"
	"github.com/famloop/trackd/pkg/polyline"
)

// statusTrackLimit caps how many queued records the status endpoint encodes
// into the pending-track polyline.
const statusTrackLimit = 500

// Tracker is the control surface of the tracking supervisor.
type Tracker interface {
	Start(ctx context.Context) error
	Stop()
	Wake()
	Status() agent.Status
}

// UploadStatus exposes upload worker state for status reporting.
type UploadStatus interface {
	LastSuccess() time.Time
	AuthFailed() bool
}

// TrackingHandler handles tracking session control and status endpoints.
type TrackingHandler struct {
	tracker Tracker
	repo    queue.Repository
	uploads UploadStatus
	logger  zerolog.Logger
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(tracker Tracker, repo queue.Repository, uploads UploadStatus, logger zerolog.Logger) *TrackingHandler {
	return &TrackingHandler{
		tracker: tracker,
		repo:    repo,
		uploads: uploads,
		logger:  logger,
	}
}

// Start handles POST /v1/tracking/start - begin a tracking session.
func (h *TrackingHandler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.tracker.Start(r.Context())
	switch {
	case err == nil:
		response.Accepted(w, r, h.statusSnapshot(r))
	case errors.Is(err, track.ErrAlreadyRunning):
		response.Conflict(w, r, "Tracking session is already running.")
	case errors.Is(err, track.ErrPermissionDenied):
		response.Conflict(w, r, "Location permission is not granted.")
	default:
		h.logger.Error().Err(err).Msg("failed to start tracking")
		response.InternalError(w, r, "Failed to start tracking session.")
	}
}

// Stop handles POST /v1/tracking/stop - end the tracking session. Stopping
// when no session is running is a no-op.
func (h *TrackingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.tracker.Stop()
	response.NoContent(w, r)
}

// Wake handles POST /v1/tracking/wake - force a burst sampling window, the
// same path a server push takes.
func (h *TrackingHandler) Wake(w http.ResponseWriter, r *http.Request) {
	h.tracker.Wake()
	response.Accepted(w, r, h.statusSnapshot(r))
}

// Status handles GET /v1/ops/status - full agent status snapshot.
func (h *TrackingHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.statusSnapshot(r))
}

func (h *TrackingHandler) statusSnapshot(r *http.Request) models.TrackingStatus {
	agentStatus := h.tracker.Status()

	status := models.TrackingStatus{
		Running: agentStatus.Running,
		Mode:    agentStatus.Mode.String(),
	}
	if !agentStatus.LastEnqueueAt.IsZero() {
		ts := models.Timestamp(agentStatus.LastEnqueueAt)
		status.LastEnqueueAt = &ts
	}

	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read queue stats")
	} else {
		status.PendingUploads = stats.Pending
		if !stats.Oldest.IsZero() {
			ts := models.Timestamp(stats.Oldest)
			status.OldestPendingAt = &ts
		}
	}

	if h.uploads != nil {
		status.UploadsHalted = h.uploads.AuthFailed()
		if last := h.uploads.LastSuccess(); !last.IsZero() {
			ts := models.Timestamp(last)
			status.LastUploadAt = &ts
		}
	}

	if encoded, meters := h.pendingTrack(r); encoded != "" {
		status.PendingTrack = encoded
		status.PendingTrackMeters = meters
	}

	return status
}

// pendingTrack encodes the queued positions as a polyline so operators can
// eyeball the backlog without pulling individual records.
func (h *TrackingHandler) pendingTrack(r *http.Request) (string, float64) {
	records, err := h.repo.GetUnsent(r.Context(), statusTrackLimit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read pending records")
		return "", 0
	}
	if len(records) < 2 {
		return "", 0
	}

	points := make([]polyline.Point, len(records))
	for i, rec := range records {
		points[i] = polyline.Point{Lat: rec.Lat, Lon: rec.Lon}
	}
	return polyline.Encode(points), polyline.Length(points)
}
