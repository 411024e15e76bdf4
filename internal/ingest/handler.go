package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/api/models"
	"github.com/famloop/trackd/internal/api/response"
)

// SessionStore resolves a legacy session cookie to a device identity. The
// legacy single-fix path authenticates with the app's web session instead of
// a device token.
type SessionStore interface {
	// Lookup returns the device and family for a session cookie value, or
	// ErrSessionNotFound.
	Lookup(ctx context.Context, cookie string) (deviceID, familyID string, err error)
}

// ErrSessionNotFound is returned for unknown or expired session cookies.
var ErrSessionNotFound = errors.New("session not found")

// sessionCookieName is the cookie the app's web session uses.
const sessionCookieName = "famloop_session"

type contextKey string

const claimsContextKey contextKey = "deviceClaims"

// Handler serves the ingest endpoints.
type Handler struct {
	repo     Repository
	tokens   *TokenService
	sessions SessionStore
	logger   zerolog.Logger
}

// NewHandler creates an ingest handler.
func NewHandler(repo Repository, tokens *TokenService, sessions SessionStore, logger zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		tokens:   tokens,
		sessions: sessions,
		logger:   logger,
	}
}

// RequireDeviceToken is middleware that validates the Bearer device token
// and stores its claims in the request context.
func (h *Handler) RequireDeviceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(w, r, "Missing bearer token.")
			return
		}

		claims, err := h.tokens.ValidateDeviceToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, ErrDeviceTokenExpired) {
				response.Unauthorized(w, r, "Device token has expired. Re-pair the device.")
				return
			}
			response.Unauthorized(w, r, "Invalid device token.")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deviceClaims returns the validated claims stored by RequireDeviceToken.
func deviceClaims(r *http.Request) *DeviceClaims {
	claims, _ := r.Context().Value(claimsContextKey).(*DeviceClaims)
	return claims
}

// UploadBatch handles POST /v1/locations/batch. The response is
// all-or-nothing from the device's point of view: any non-2xx fails the
// whole batch, and duplicates within a redelivered batch are absorbed by
// event-id dedup.
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	claims := deviceClaims(r)
	if claims == nil {
		response.Unauthorized(w, r, "Missing device identity.")
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "Request body must be valid JSON.", nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "Batch validation failed.", errs)
		return
	}

	locs := make([]Location, len(req.Locations))
	for i, in := range req.Locations {
		locs[i] = Location{
			ClientEventID: in.ClientEventID,
			DeviceID:      claims.DeviceID,
			FamilyID:      claims.FamilyID,
			Lat:           in.Lat,
			Lng:           in.Lng,
			Accuracy:      in.Accuracy,
			Altitude:      in.Altitude,
			Bearing:       in.Bearing,
			Speed:         in.Speed,
			SpeedKmh:      in.SpeedKmh,
			IsMoving:      in.IsMoving,
			BatteryLevel:  in.BatteryLevel,
			RecordedAt:    time.UnixMilli(in.Timestamp).UTC(),
			Source:        "batch",
		}
	}

	inserted, err := h.repo.InsertLocations(r.Context(), locs)
	if err != nil {
		h.logger.Error().Err(err).Int("count", len(locs)).Msg("failed to store batch")
		response.InternalError(w, r, "Failed to store locations.")
		return
	}

	h.logger.Info().
		Str("device_id", claims.DeviceID).
		Int("accepted", inserted).
		Int("duplicates", len(locs)-inserted).
		Msg("batch stored")

	response.JSON(w, r, http.StatusOK, BatchResponse{
		Accepted:   inserted,
		Duplicates: len(locs) - inserted,
	})
}

// UploadLegacy handles POST /v1/locations, the best-effort single-fix path.
// It authenticates with the famloop_session cookie and assigns a server-side
// event id, so a device retry would store a duplicate row; legacy devices do
// not retry.
func (h *Handler) UploadLegacy(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		response.Unauthorized(w, r, "Missing session cookie.")
		return
	}

	deviceID, familyID, err := h.sessions.Lookup(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.Unauthorized(w, r, "Invalid session.")
			return
		}
		h.logger.Error().Err(err).Msg("session lookup failed")
		response.InternalError(w, r, "Failed to resolve session.")
		return
	}

	var in LegacyLocationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, r, "Request body must be valid JSON.", nil)
		return
	}
	if errs := in.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "Location validation failed.", errs)
		return
	}

	source := in.Source
	if source == "" {
		source = "device"
	}

	loc := Location{
		ClientEventID: uuid.NewString(),
		DeviceID:      deviceID,
		FamilyID:      familyID,
		Lat:           in.Lat,
		Lng:           in.Lng,
		Accuracy:      in.Accuracy,
		Altitude:      in.Altitude,
		Bearing:       in.Heading,
		Speed:         in.Speed,
		SpeedKmh:      in.Speed * 3.6,
		IsMoving:      in.IsMoving,
		BatteryLevel:  in.Battery,
		RecordedAt:    time.Now().UTC(),
		Source:        source,
	}

	if _, err := h.repo.InsertLocations(r.Context(), []Location{loc}); err != nil {
		h.logger.Error().Err(err).Msg("failed to store legacy fix")
		response.InternalError(w, r, "Failed to store location.")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// LatestLocations handles GET /v1/locations/latest - newest location per
// device in the caller's family.
func (h *Handler) LatestLocations(w http.ResponseWriter, r *http.Request) {
	claims := deviceClaims(r)
	if claims == nil {
		response.Unauthorized(w, r, "Missing device identity.")
		return
	}

	locs, err := h.repo.LatestByFamily(r.Context(), claims.FamilyID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to query latest locations")
		response.InternalError(w, r, "Failed to query locations.")
		return
	}

	resp := LatestResponse{Locations: make([]LocationView, 0, len(locs))}
	for _, loc := range locs {
		resp.Locations = append(resp.Locations, LocationView{
			DeviceID:     loc.DeviceID,
			Lat:          loc.Lat,
			Lng:          loc.Lng,
			Speed:        loc.Speed,
			IsMoving:     loc.IsMoving,
			BatteryLevel: loc.BatteryLevel,
			RecordedAt:   models.Timestamp(loc.RecordedAt),
		})
	}

	response.JSON(w, r, http.StatusOK, resp)
}
