package ingest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famloop/trackd/internal/ingest"
)

// fakeRepository is an in-memory Repository keyed by client event id.
type fakeRepository struct {
	stored  map[string]ingest.Location
	order   []string
	failure error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{stored: make(map[string]ingest.Location)}
}

func (f *fakeRepository) InsertLocations(_ context.Context, locs []ingest.Location) (int, error) {
	if f.failure != nil {
		return 0, f.failure
	}
	inserted := 0
	for _, loc := range locs {
		if _, ok := f.stored[loc.ClientEventID]; ok {
			continue
		}
		f.stored[loc.ClientEventID] = loc
		f.order = append(f.order, loc.ClientEventID)
		inserted++
	}
	return inserted, nil
}

func (f *fakeRepository) LatestByFamily(_ context.Context, familyID string) ([]ingest.Location, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	latest := make(map[string]ingest.Location)
	for _, id := range f.order {
		loc := f.stored[id]
		if loc.FamilyID != familyID {
			continue
		}
		if prev, ok := latest[loc.DeviceID]; !ok || loc.RecordedAt.After(prev.RecordedAt) {
			latest[loc.DeviceID] = loc
		}
	}
	var out []ingest.Location
	for _, loc := range latest {
		out = append(out, loc)
	}
	return out, nil
}

type ingestHarness struct {
	router   http.Handler
	repo     *fakeRepository
	tokens   *ingest.TokenService
	sessions *ingest.MemorySessionStore
}

func newIngestHarness() *ingestHarness {
	repo := newFakeRepository()
	tokens := testTokenService()
	sessions := ingest.NewMemorySessionStore()

	handler := ingest.NewHandler(repo, tokens, sessions, zerolog.New(io.Discard))
	router := ingest.NewRouter(ingest.RouterConfig{
		Logger:  zerolog.New(io.Discard),
		Handler: handler,
	})

	return &ingestHarness{router: router, repo: repo, tokens: tokens, sessions: sessions}
}

func (h *ingestHarness) deviceToken(t *testing.T, deviceID, familyID string) string {
	t.Helper()
	token, _, err := h.tokens.GenerateDeviceToken(deviceID, familyID)
	require.NoError(t, err)
	return token
}

func batchBody(t *testing.T, locs []ingest.LocationInput) io.Reader {
	t.Helper()
	body, err := json.Marshal(ingest.BatchRequest{Locations: locs})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func locationInput(eventID string) ingest.LocationInput {
	battery := 64
	return ingest.LocationInput{
		ClientEventID: eventID,
		Lat:           -33.9249,
		Lng:           18.4241,
		Accuracy:      12.5,
		Speed:         1.4,
		SpeedKmh:      5.04,
		IsMoving:      true,
		BatteryLevel:  &battery,
		Timestamp:     time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

func TestUploadBatch_StoresLocations(t *testing.T) {
	h := newIngestHarness()
	token := h.deviceToken(t, "dev_1", "fam_1")

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
		batchBody(t, []ingest.LocationInput{locationInput("evt_1"), locationInput("evt_2")}))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ingest.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Zero(t, resp.Duplicates)

	stored := h.repo.stored["evt_1"]
	assert.Equal(t, "dev_1", stored.DeviceID)
	assert.Equal(t, "fam_1", stored.FamilyID)
	assert.Equal(t, "batch", stored.Source)
	assert.InDelta(t, -33.9249, stored.Lat, 1e-9)
	require.NotNil(t, stored.BatteryLevel)
	assert.Equal(t, 64, *stored.BatteryLevel)
}

func TestUploadBatch_RedeliveryReportsDuplicates(t *testing.T) {
	h := newIngestHarness()
	token := h.deviceToken(t, "dev_1", "fam_1")

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
			batchBody(t, []ingest.LocationInput{locationInput("evt_1")}))
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, send().Code)

	w := send()
	require.Equal(t, http.StatusOK, w.Code)

	var resp ingest.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Accepted)
	assert.Equal(t, 1, resp.Duplicates)
}

func TestUploadBatch_RequiresToken(t *testing.T) {
	h := newIngestHarness()

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
		batchBody(t, []ingest.LocationInput{locationInput("evt_1")}))
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestUploadBatch_RejectsForeignToken(t *testing.T) {
	h := newIngestHarness()

	// Signed with a key the server does not hold.
	foreign := ingest.NewTokenService(ingest.TokenConfig{
		SigningKey: "a-different-secret-key",
		Issuer:     "https://api.famloop.app",
		Audience:   "famloop-ingest",
	})
	token, _, err := foreign.GenerateDeviceToken("dev_1", "fam_1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
		batchBody(t, []ingest.LocationInput{locationInput("evt_1")}))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadBatch_ValidationErrors(t *testing.T) {
	h := newIngestHarness()
	token := h.deviceToken(t, "dev_1", "fam_1")

	bad := locationInput("")
	bad.Lat = 95

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
		batchBody(t, []ingest.LocationInput{bad}))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "locations[0].client_event_id")
	assert.Contains(t, w.Body.String(), "locations[0].lat")
	assert.Empty(t, h.repo.stored)
}

func TestUploadBatch_EmptyBatchRejected(t *testing.T) {
	h := newIngestHarness()
	token := h.deviceToken(t, "dev_1", "fam_1")

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
		batchBody(t, nil))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadLegacy_StoresFix(t *testing.T) {
	h := newIngestHarness()
	h.sessions.Put("session-abc", "dev_watch", "fam_1")

	battery := 41
	body, err := json.Marshal(ingest.LegacyLocationInput{
		Lat:      -33.9249,
		Lng:      18.4241,
		Speed:    0.4,
		Battery:  &battery,
		IsMoving: false,
		Source:   "watch",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: "famloop_session", Value: "session-abc"})
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, h.repo.order, 1)

	stored := h.repo.stored[h.repo.order[0]]
	assert.Equal(t, "dev_watch", stored.DeviceID)
	assert.Equal(t, "fam_1", stored.FamilyID)
	assert.Equal(t, "watch", stored.Source)
	assert.NotEmpty(t, stored.ClientEventID)
	assert.InDelta(t, 0.4*3.6, stored.SpeedKmh, 1e-9)
}

func TestUploadLegacy_RejectsUnknownSession(t *testing.T) {
	h := newIngestHarness()

	body, err := json.Marshal(ingest.LegacyLocationInput{Lat: 1, Lng: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: "famloop_session", Value: "nope"})
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadLegacy_RequiresCookie(t *testing.T) {
	h := newIngestHarness()

	body, err := json.Marshal(ingest.LegacyLocationInput{Lat: 1, Lng: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLatestLocations_ReturnsNewestPerDevice(t *testing.T) {
	h := newIngestHarness()
	token := h.deviceToken(t, "dev_1", "fam_1")

	older := locationInput("evt_old")
	older.Timestamp = time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC).UnixMilli()
	newer := locationInput("evt_new")
	newer.Lat = -33.9
	newer.Timestamp = time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC).UnixMilli()

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/batch",
		batchBody(t, []ingest.LocationInput{older, newer}))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/locations/latest", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ingest.LatestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Locations, 1)
	assert.Equal(t, "dev_1", resp.Locations[0].DeviceID)
	assert.InDelta(t, -33.9, resp.Locations[0].Lat, 1e-9)
}
