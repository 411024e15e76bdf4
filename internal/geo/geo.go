// Package geo provides distance and containment math for location fixes
// and geofence zones. All functions are pure; callers are responsible for
// validating coordinates upstream (NaN in means NaN out).
package geo

import (
	"math"
)

// EarthRadiusMeters is the mean earth radius used for great-circle math.
const EarthRadiusMeters = 6371000

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// HaversineDistanceMeters returns the great-circle distance between two
// coordinates in meters.
func HaversineDistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	return HaversineDistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Bearing returns the initial bearing from the first coordinate to the
// second, in degrees normalized to [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	bearing := math.Atan2(y, x) * 180 / math.Pi
	if bearing < 0 {
		bearing += 360
	}
	return bearing
}

// CircleContains reports whether the coordinate lies within radiusMeters of
// the circle center.
func CircleContains(centerLat, centerLon, radiusMeters, lat, lon float64) bool {
	return HaversineDistanceMeters(centerLat, centerLon, lat, lon) <= radiusMeters
}

// PointInPolygon reports whether the coordinate lies inside the polygon
// using the ray-casting even-odd rule. The polygon is treated as planar,
// which is accurate at geofence scales (hundreds of meters to a few
// kilometers). Polygons with fewer than three vertices contain nothing.
func PointInPolygon(lat, lon float64, polygon []Point) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		vi := polygon[i]
		vj := polygon[j]

		if (vi.Lat > lat) != (vj.Lat > lat) {
			intersectLon := vj.Lon + (lat-vj.Lat)/(vi.Lat-vj.Lat)*(vi.Lon-vj.Lon)
			if lon < intersectLon {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
