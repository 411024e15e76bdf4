package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famloop/trackd/internal/agent"
	"github.com/famloop/trackd/internal/geo"
	"github.com/famloop/trackd/internal/geofence"
	"github.com/famloop/trackd/internal/platform"
	"github.com/famloop/trackd/internal/queue"
	"github.com/famloop/trackd/internal/track"
)

const (
	waitFor  = 2 * time.Second
	pollTick = 5 * time.Millisecond
)

// fakeProvider hands out one shared fix channel for every subscription so
// tests can emit fixes in a deterministic order across resubscribes.
type fakeProvider struct {
	mu        sync.Mutex
	ch        chan track.Fix
	requests  []track.SamplingRequest
	cancelled int
	err       error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{ch: make(chan track.Fix, 16)}
}

func (p *fakeProvider) Subscribe(_ context.Context, req track.SamplingRequest) (<-chan track.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return p.ch, nil
}

func (p *fakeProvider) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled++
}

func (p *fakeProvider) emit(fix track.Fix) {
	p.ch <- fix
}

func (p *fakeProvider) cancelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

type fakeWakeLock struct {
	mu       sync.Mutex
	acquires int
	releases int
}

func (w *fakeWakeLock) Acquire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acquires++
}

func (w *fakeWakeLock) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releases++
}

func (w *fakeWakeLock) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquires, w.releases
}

type fakeTrigger struct {
	mu    sync.Mutex
	count int
}

func (t *fakeTrigger) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

func (t *fakeTrigger) triggers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

type fakeNotifier struct {
	mu    sync.Mutex
	zones []string
}

func (n *fakeNotifier) TrackingStatus(track.Mode) {}

func (n *fakeNotifier) ZoneTransition(zoneName string, entered bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	event := "exit:" + zoneName
	if entered {
		event = "enter:" + zoneName
	}
	n.zones = append(n.zones, event)
}

func (n *fakeNotifier) zoneEvents() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.zones...)
}

type fakeMirror struct {
	mu    sync.Mutex
	fixes []track.Fix
}

func (m *fakeMirror) Send(_ context.Context, fix track.Fix, _ bool, _ *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixes = append(m.fixes, fix)
}

func (m *fakeMirror) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fixes)
}

type deniedPermissions struct{}

func (deniedPermissions) LocationGranted() bool { return false }

// fix builds a valid fix displaced north of a base point by northMeters.
func fix(northMeters, speed float64) track.Fix {
	return track.Fix{
		Lat:   -33.9249 + northMeters/111320.0,
		Lon:   18.4241,
		Speed: speed,
		Time:  time.Now(),
	}
}

type supervisorHarness struct {
	supervisor *agent.Supervisor
	provider   *fakeProvider
	queue      *queue.MemoryRepository
	wakeLock   *fakeWakeLock
	trigger    *fakeTrigger
}

func newHarness(t *testing.T, cfg agent.Config) *supervisorHarness {
	t.Helper()

	h := &supervisorHarness{
		provider: newFakeProvider(),
		queue:    queue.NewMemoryRepository(),
		wakeLock: &fakeWakeLock{},
		trigger:  &fakeTrigger{},
	}
	h.supervisor = agent.New(agent.Deps{
		Config:      cfg,
		Provider:    h.provider,
		Battery:     platform.StaticBattery{Percent: 80},
		Permissions: platform.AlwaysGranted{},
		WakeLock:    h.wakeLock,
		Queue:       h.queue,
		Uploads:     h.trigger,
		Logger:      zerolog.Nop(),
	})
	return h
}

func (h *supervisorHarness) pending(t *testing.T) int {
	t.Helper()
	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	return stats.Pending
}

func TestSupervisor_StartRequiresPermission(t *testing.T) {
	h := newHarness(t, agent.Config{})
	h.supervisor = agent.New(agent.Deps{
		Provider:    h.provider,
		Permissions: deniedPermissions{},
		Queue:       h.queue,
		Logger:      zerolog.Nop(),
	})

	err := h.supervisor.Start(context.Background())
	require.ErrorIs(t, err, track.ErrPermissionDenied)
	assert.False(t, h.supervisor.Status().Running)
}

func TestSupervisor_Lifecycle(t *testing.T) {
	h := newHarness(t, agent.Config{})

	require.NoError(t, h.supervisor.Start(context.Background()))
	assert.True(t, h.supervisor.Status().Running)
	assert.Equal(t, track.ModeIdle, h.supervisor.Status().Mode)

	acquires, _ := h.wakeLock.counts()
	assert.Equal(t, 1, acquires)

	assert.ErrorIs(t, h.supervisor.Start(context.Background()), track.ErrAlreadyRunning)

	h.supervisor.Stop()
	assert.False(t, h.supervisor.Status().Running)
	assert.GreaterOrEqual(t, h.provider.cancelCount(), 1)

	_, releases := h.wakeLock.counts()
	assert.Equal(t, 1, releases, "wake lock must be released by the time Stop returns")

	// Stop is idempotent.
	h.supervisor.Stop()
	_, releases = h.wakeLock.counts()
	assert.Equal(t, 1, releases)
}

func TestSupervisor_EnqueuesAndTriggersUpload(t *testing.T) {
	h := newHarness(t, agent.Config{})
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.provider.emit(fix(0, 0.2))

	require.Eventually(t, func() bool {
		return h.pending(t) == 1
	}, waitFor, pollTick)

	assert.Eventually(t, func() bool {
		return h.trigger.triggers() >= 1
	}, waitFor, pollTick, "an enqueue must wake the upload worker")

	recs, err := h.queue.GetUnsent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].EventID)
	require.NotNil(t, recs[0].BatteryLevel)
	assert.Equal(t, 80, *recs[0].BatteryLevel)
	assert.False(t, recs[0].IsMoving)
}

func TestSupervisor_DropsInvalidFixes(t *testing.T) {
	h := newHarness(t, agent.Config{})
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.provider.emit(track.Fix{Lat: 0, Lon: 0})
	h.provider.emit(track.Fix{Lat: 200, Lon: 18.4})
	h.provider.emit(fix(0, 0))

	require.Eventually(t, func() bool {
		return h.pending(t) == 1
	}, waitFor, pollTick)

	recs, err := h.queue.GetUnsent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, -33.9249, recs[0].Lat, 0.001)
}

func TestSupervisor_DedupGate(t *testing.T) {
	h := newHarness(t, agent.Config{
		DedupDistance: 10,
		Controller:    track.ControllerConfig{HeartbeatInterval: time.Hour},
	})
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.provider.emit(fix(0, 0))   // persisted: first fix
	h.provider.emit(fix(2, 0))   // dropped: 2 m from last persisted
	h.provider.emit(fix(100, 0)) // persisted: well past the gate

	require.Eventually(t, func() bool {
		return h.pending(t) == 2
	}, waitFor, pollTick)

	recs, err := h.queue.GetUnsent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.InDelta(t, -33.9249, recs[0].Lat, 0.0001)
	assert.InDelta(t, -33.9249+100/111320.0, recs[1].Lat, 0.0001)
}

func TestSupervisor_HeartbeatBypassesDedup(t *testing.T) {
	h := newHarness(t, agent.Config{
		DedupDistance: 10,
		Controller:    track.ControllerConfig{HeartbeatInterval: time.Nanosecond},
	})
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	// Identical positions, but with the heartbeat perpetually due every one
	// of them must be persisted to keep the liveness signal flowing.
	h.provider.emit(fix(0, 0))
	h.provider.emit(fix(0, 0))
	h.provider.emit(fix(0, 0))

	require.Eventually(t, func() bool {
		return h.pending(t) == 3
	}, waitFor, pollTick)
}

func TestSupervisor_RestartStartsIdle(t *testing.T) {
	h := newHarness(t, agent.Config{})
	require.NoError(t, h.supervisor.Start(context.Background()))

	h.provider.emit(fix(0, 3.0))
	require.Eventually(t, func() bool {
		return h.supervisor.Status().Mode == track.ModeMoving
	}, waitFor, pollTick)

	h.supervisor.Stop()

	// A new session starts idle regardless of where the last one ended.
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()
	assert.Equal(t, track.ModeIdle, h.supervisor.Status().Mode)

	assert.Never(t, func() bool {
		return h.supervisor.Status().Mode != track.ModeIdle
	}, 200*time.Millisecond, pollTick, "restarted session must stay idle without new motion")
}

func TestSupervisor_WakeWhileStoppedIsDiscarded(t *testing.T) {
	h := newHarness(t, agent.Config{})
	require.NoError(t, h.supervisor.Start(context.Background()))
	h.supervisor.Stop()

	h.supervisor.Wake()

	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	assert.Never(t, func() bool {
		return h.supervisor.Status().Mode == track.ModeBurst
	}, 200*time.Millisecond, pollTick, "a wake delivered while stopped must not leak into the next session")

	// A wake during the live session still forces burst.
	h.supervisor.Wake()
	require.Eventually(t, func() bool {
		return h.supervisor.Status().Mode == track.ModeBurst
	}, waitFor, pollTick)
}

func TestSupervisor_WakeEntersBurst(t *testing.T) {
	h := newHarness(t, agent.Config{})
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.supervisor.Wake()

	require.Eventually(t, func() bool {
		return h.supervisor.Status().Mode == track.ModeBurst
	}, waitFor, pollTick)

	// Burst resubscribed with the aggressive request.
	h.provider.mu.Lock()
	last := h.provider.requests[len(h.provider.requests)-1]
	h.provider.mu.Unlock()
	assert.Equal(t, 5*time.Second, last.Interval)
}

func TestSupervisor_ZoneTransitions(t *testing.T) {
	home := geo.Point{Lat: -33.9249, Lon: 18.4241}
	zone, err := geofence.NewCircleZone("home", "Home", home, 100)
	require.NoError(t, err)

	h := &supervisorHarness{
		provider: newFakeProvider(),
		queue:    queue.NewMemoryRepository(),
		wakeLock: &fakeWakeLock{},
		trigger:  &fakeTrigger{},
	}
	notifier := &fakeNotifier{}
	h.supervisor = agent.New(agent.Deps{
		Provider:    h.provider,
		Battery:     platform.StaticBattery{Percent: 80},
		Permissions: platform.AlwaysGranted{},
		WakeLock:    h.wakeLock,
		Notifier:    notifier,
		Queue:       h.queue,
		Uploads:     h.trigger,
		Zones:       []geofence.Zone{zone},
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.provider.emit(fix(0, 0))   // inside, seeds zone state
	h.provider.emit(fix(300, 0)) // well outside
	h.provider.emit(fix(0, 0))   // back inside

	require.Eventually(t, func() bool {
		return len(notifier.zoneEvents()) == 2
	}, waitFor, pollTick)

	assert.Equal(t, []string{"exit:Home", "enter:Home"}, notifier.zoneEvents())
}

func TestSupervisor_MirrorsPersistedFixes(t *testing.T) {
	h := &supervisorHarness{
		provider: newFakeProvider(),
		queue:    queue.NewMemoryRepository(),
		wakeLock: &fakeWakeLock{},
		trigger:  &fakeTrigger{},
	}
	mirror := &fakeMirror{}
	h.supervisor = agent.New(agent.Deps{
		Config:      agent.Config{DedupDistance: 10, Controller: track.ControllerConfig{HeartbeatInterval: time.Hour}},
		Provider:    h.provider,
		Battery:     platform.StaticBattery{Percent: 80},
		Permissions: platform.AlwaysGranted{},
		WakeLock:    h.wakeLock,
		Queue:       h.queue,
		Uploads:     h.trigger,
		Mirror:      mirror,
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.provider.emit(fix(0, 0)) // persisted and mirrored
	h.provider.emit(fix(2, 0)) // deduped, not mirrored

	require.Eventually(t, func() bool {
		return mirror.sent() == 1
	}, waitFor, pollTick)

	// The deduped fix never reaches the mirror.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, mirror.sent())
}

func TestSupervisor_MovingFixEscalates(t *testing.T) {
	h := newHarness(t, agent.Config{})
	require.NoError(t, h.supervisor.Start(context.Background()))
	defer h.supervisor.Stop()

	h.provider.emit(fix(0, 3.0))

	require.Eventually(t, func() bool {
		return h.supervisor.Status().Mode == track.ModeMoving
	}, waitFor, pollTick)

	recs, err := h.queue.GetUnsent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsMoving)
}
