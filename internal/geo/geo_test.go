package geo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/famloop/trackd/internal/geo"
)

func TestHaversineDistanceMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{
			name: "zero distance",
			lat1: 52.3676, lon1: 4.9041,
			lat2: 52.3676, lon2: 4.9041,
			want: 0, tolerance: 0.001,
		},
		{
			name: "cape town to city bowl",
			lat1: -33.9, lon1: 18.4,
			lat2: -33.9249, lon2: 18.4241,
			want: 3560, tolerance: 50,
		},
		{
			name: "one degree of latitude",
			lat1: 0, lon1: 0,
			lat2: 1, lon2: 0,
			want: 111195, tolerance: 200,
		},
		{
			name: "short hop",
			lat1: 52.3676, lon1: 4.9041,
			lat2: 52.3680, lon2: 4.9041,
			want: 44.5, tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := geo.HaversineDistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.tolerance)
		})
	}
}

func TestHaversineDistanceMeters_NaNPropagates(t *testing.T) {
	got := geo.HaversineDistanceMeters(math.NaN(), 4.9, 52.3, 4.9)
	assert.True(t, math.IsNaN(got))
}

func TestBearing(t *testing.T) {
	// Due north.
	assert.InDelta(t, 0, geo.Bearing(0, 0, 1, 0), 0.01)
	// Due east.
	assert.InDelta(t, 90, geo.Bearing(0, 0, 0, 1), 0.01)
	// Due south.
	assert.InDelta(t, 180, geo.Bearing(1, 0, 0, 0), 0.01)
	// Due west normalizes into [0, 360).
	assert.InDelta(t, 270, geo.Bearing(0, 1, 0, 0), 0.01)
}

func TestCircleContains(t *testing.T) {
	// Geofence exit scenario: a 100m zone around a Cape Town point and a
	// fix roughly 150m away must be reported outside.
	centerLat, centerLon := -33.9, 18.4
	outsideLat, outsideLon := -33.90135, 18.4

	dist := geo.HaversineDistanceMeters(centerLat, centerLon, outsideLat, outsideLon)
	assert.Greater(t, dist, 100.0)
	assert.Less(t, dist, 200.0)

	assert.False(t, geo.CircleContains(centerLat, centerLon, 100, outsideLat, outsideLon))
	assert.True(t, geo.CircleContains(centerLat, centerLon, 100, -33.9004, 18.4))
}

func TestPointInPolygon(t *testing.T) {
	square := []geo.Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 0},
	}

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"center", 0.5, 0.5, true},
		{"outside east", 0.5, 1.5, false},
		{"outside north", 1.5, 0.5, false},
		{"near corner inside", 0.01, 0.01, true},
		{"far away", -33.9, 18.4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, geo.PointInPolygon(tt.lat, tt.lon, square))
		})
	}
}

func TestPointInPolygon_Concave(t *testing.T) {
	// L-shaped polygon; the notch must not be contained.
	l := []geo.Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 2},
		{Lat: 1, Lon: 2},
		{Lat: 1, Lon: 1},
		{Lat: 2, Lon: 1},
		{Lat: 2, Lon: 0},
	}

	assert.True(t, geo.PointInPolygon(0.5, 0.5, l))
	assert.True(t, geo.PointInPolygon(0.5, 1.5, l))
	assert.True(t, geo.PointInPolygon(1.5, 0.5, l))
	assert.False(t, geo.PointInPolygon(1.5, 1.5, l))
}

func TestPointInPolygon_Degenerate(t *testing.T) {
	assert.False(t, geo.PointInPolygon(0, 0, nil))
	assert.False(t, geo.PointInPolygon(0, 0, []geo.Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}))
}
