package geofence_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famloop/trackd/internal/geo"
	"github.com/famloop/trackd/internal/geofence"
	"github.com/famloop/trackd/internal/track"
	"github.com/famloop/trackd/pkg/polyline"
)

var home = geo.Point{Lat: -33.9249, Lon: 18.4241}

// fixNear returns a fix displaced north of home by the given meters.
func fixNear(northMeters float64) track.Fix {
	return track.Fix{
		Lat:  home.Lat + northMeters/111320.0,
		Lon:  home.Lon,
		Time: time.Unix(1700000000, 0),
	}
}

func TestNewCircleZone_Validation(t *testing.T) {
	_, err := geofence.NewCircleZone("z1", "Home", home, 0)
	assert.ErrorIs(t, err, geofence.ErrInvalidZone)

	_, err = geofence.NewCircleZone("z1", "Home", home, -5)
	assert.ErrorIs(t, err, geofence.ErrInvalidZone)

	zone, err := geofence.NewCircleZone("z1", "Home", home, 100)
	require.NoError(t, err)
	assert.True(t, zone.Contains(home.Lat, home.Lon))
}

func TestNewPolygonZone_FromEncodedPerimeter(t *testing.T) {
	// A triangle around home, closed back to the first vertex.
	perimeter := polyline.Encode([]polyline.Point{
		{Lat: home.Lat - 0.002, Lon: home.Lon - 0.002},
		{Lat: home.Lat - 0.002, Lon: home.Lon + 0.002},
		{Lat: home.Lat + 0.002, Lon: home.Lon},
		{Lat: home.Lat - 0.002, Lon: home.Lon - 0.002},
	})

	zone, err := geofence.NewPolygonZone("z2", "School", perimeter)
	require.NoError(t, err)

	assert.True(t, zone.Contains(home.Lat, home.Lon))
	assert.False(t, zone.Contains(home.Lat+0.01, home.Lon))
}

func TestNewPolygonZone_RejectsDegenerate(t *testing.T) {
	two := polyline.Encode([]polyline.Point{
		{Lat: 1, Lon: 1},
		{Lat: 2, Lon: 2},
	})
	_, err := geofence.NewPolygonZone("z", "bad", two)
	assert.ErrorIs(t, err, geofence.ErrInvalidZone)

	_, err = geofence.NewPolygonZone("z", "empty", "")
	assert.ErrorIs(t, err, geofence.ErrInvalidZone)
}

func TestEvaluator_EnterAndExit(t *testing.T) {
	zone, err := geofence.NewCircleZone("home", "Home", home, 100)
	require.NoError(t, err)
	eval := geofence.NewEvaluator([]geofence.Zone{zone}, zerolog.Nop())

	// First fix seeds state: inside, but no event.
	events := eval.Evaluate(fixNear(0))
	assert.Empty(t, events)
	assert.True(t, eval.Inside("home"))

	// Still inside: no event.
	events = eval.Evaluate(fixNear(50))
	assert.Empty(t, events)

	// 200 m out: exit.
	events = eval.Evaluate(fixNear(200))
	require.Len(t, events, 1)
	assert.Equal(t, geofence.EventExit, events[0].Kind)
	assert.Equal(t, "home", events[0].ZoneID)
	assert.Equal(t, "Home", events[0].ZoneName)
	assert.False(t, eval.Inside("home"))

	// Back in: enter.
	events = eval.Evaluate(fixNear(10))
	require.Len(t, events, 1)
	assert.Equal(t, geofence.EventEnter, events[0].Kind)
	assert.True(t, eval.Inside("home"))
}

func TestEvaluator_SeedOutsideThenEnter(t *testing.T) {
	zone, err := geofence.NewCircleZone("home", "Home", home, 100)
	require.NoError(t, err)
	eval := geofence.NewEvaluator([]geofence.Zone{zone}, zerolog.Nop())

	assert.Empty(t, eval.Evaluate(fixNear(500)))

	events := eval.Evaluate(fixNear(0))
	require.Len(t, events, 1)
	assert.Equal(t, geofence.EventEnter, events[0].Kind)
}

func TestEvaluator_MultipleZones(t *testing.T) {
	inner, err := geofence.NewCircleZone("inner", "Inner", home, 100)
	require.NoError(t, err)
	outer, err := geofence.NewCircleZone("outer", "Outer", home, 400)
	require.NoError(t, err)
	eval := geofence.NewEvaluator([]geofence.Zone{inner, outer}, zerolog.Nop())

	eval.Evaluate(fixNear(0)) // seed: inside both

	// 250 m out leaves the inner zone only.
	events := eval.Evaluate(fixNear(250))
	require.Len(t, events, 1)
	assert.Equal(t, "inner", events[0].ZoneID)
	assert.Equal(t, geofence.EventExit, events[0].Kind)

	// 600 m out leaves the outer zone too.
	events = eval.Evaluate(fixNear(600))
	require.Len(t, events, 1)
	assert.Equal(t, "outer", events[0].ZoneID)
}

func TestEvaluator_NoZones(t *testing.T) {
	eval := geofence.NewEvaluator(nil, zerolog.Nop())
	assert.Empty(t, eval.Evaluate(fixNear(0)))
}
