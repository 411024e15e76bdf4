// Package polyline implements Google's encoded polyline format at the
// standard 1e-5 precision. Geofence perimeters arrive in configuration as
// encoded polylines, and the agent emits recorded tracks in the same
// format.
package polyline

import (
	"math"
)

// Point is a geographic coordinate in WGS84 degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Decode parses an encoded polyline into its points. Malformed trailing
// bytes yield a truncated result rather than an error; the format carries
// no checksum to distinguish the two.
func Decode(encoded string) []Point {
	if encoded == "" {
		return nil
	}

	points := make([]Point, 0, len(encoded)/4)
	var lat, lon int
	i := 0

	for i < len(encoded) {
		dLat, next := decodeDelta(encoded, i)
		i = next
		lat += dLat

		dLon, next := decodeDelta(encoded, i)
		i = next
		lon += dLon

		points = append(points, Point{
			Lat: float64(lat) / 1e5,
			Lon: float64(lon) / 1e5,
		})
	}

	return points
}

// Encode renders points as an encoded polyline.
func Encode(points []Point) string {
	if len(points) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(points)*4)
	var prevLat, prevLon int

	for _, p := range points {
		lat := int(math.Round(p.Lat * 1e5))
		lon := int(math.Round(p.Lon * 1e5))

		buf = appendDelta(buf, lat-prevLat)
		buf = appendDelta(buf, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}

	return string(buf)
}

// Length returns the great-circle length of the polyline in meters.
func Length(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += haversine(points[i-1], points[i])
	}
	return total
}

// decodeDelta reads one zigzag-encoded delta starting at i and returns the
// delta and the index of the next unread byte.
func decodeDelta(encoded string, i int) (int, int) {
	var result, shift int

	for i < len(encoded) {
		chunk := int(encoded[i]) - 63
		i++
		result |= (chunk & 0x1f) << shift
		shift += 5
		if chunk < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i
	}
	return result >> 1, i
}

// appendDelta writes one zigzag-encoded delta.
func appendDelta(buf []byte, delta int) []byte {
	if delta < 0 {
		delta = ^(delta << 1)
	} else {
		delta <<= 1
	}

	for delta >= 0x20 {
		buf = append(buf, byte((delta&0x1f)|0x20)+63)
		delta >>= 5
	}
	return append(buf, byte(delta)+63)
}

const earthRadiusMeters = 6371000

func haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
