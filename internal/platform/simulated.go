package platform

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/famloop/trackd/internal/track"
)

// SimulatedProvider is a LocationProvider that walks a scripted path at a
// fixed speed, honoring the interval of whatever sampling request is
// active. It backs `trackd -simulate` runs and integration tests.
type SimulatedProvider struct {
	mu     sync.Mutex
	cancel context.CancelFunc

	// Path is the sequence of waypoints to walk, looped.
	Path []track.Fix

	// SpeedMS is the reported speed while between waypoints.
	SpeedMS float64

	// MinInterval clamps how fast the simulator will emit regardless of
	// the requested interval, so burst mode does not spin a test loop.
	MinInterval time.Duration
}

// Subscribe implements LocationProvider.
func (p *SimulatedProvider) Subscribe(ctx context.Context, req track.SamplingRequest) (<-chan track.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	subCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	interval := req.Interval
	if interval < p.MinInterval {
		interval = p.MinInterval
	}
	if interval <= 0 {
		interval = time.Second
	}

	out := make(chan track.Fix)
	go p.run(subCtx, interval, out)
	return out, nil
}

// Cancel implements LocationProvider.
func (p *SimulatedProvider) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *SimulatedProvider) run(ctx context.Context, interval time.Duration, out chan<- track.Fix) {
	defer close(out)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if len(p.Path) == 0 {
				continue
			}
			fix := p.Path[i%len(p.Path)]
			fix.Speed = p.SpeedMS
			fix.Time = now
			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
			i++
		}
	}
}

// CirclePath builds a simulation path of n fixes on a circle around the
// given center, radius in meters.
func CirclePath(centerLat, centerLon, radiusMeters float64, n int) []track.Fix {
	const metersPerDegree = 111195

	path := make([]track.Fix, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		dLat := radiusMeters * math.Cos(theta) / metersPerDegree
		dLon := radiusMeters * math.Sin(theta) / (metersPerDegree * math.Cos(centerLat*math.Pi/180))
		path = append(path, track.Fix{
			Lat:      centerLat + dLat,
			Lon:      centerLon + dLon,
			Accuracy: 10,
		})
	}
	return path
}

// StaticBattery is a BatteryReader that reports a fixed level.
type StaticBattery struct {
	Percent int
}

// Level implements BatteryReader.
func (b StaticBattery) Level() int { return b.Percent }
