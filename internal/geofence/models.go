// Package geofence evaluates location fixes against configured zones and
// emits enter/exit events. The agent feeds it the latest fix; the events
// feed the wake/notification side of the product.
package geofence

import (
	"errors"
	"fmt"
	"time"

	"github.com/famloop/trackd/internal/geo"
	"github.com/famloop/trackd/pkg/polyline"
)

// Predefined geofence errors.
var (
	// ErrInvalidZone is returned when a zone definition is unusable.
	ErrInvalidZone = errors.New("invalid geofence zone")
)

// ZoneKind distinguishes circular from polygonal zones.
type ZoneKind int

// Zone kinds.
const (
	ZoneCircle ZoneKind = iota
	ZonePolygon
)

// Zone is a configured geofence. Circles carry a center and radius;
// polygons carry a perimeter, configured as an encoded polyline.
type Zone struct {
	// ID uniquely identifies the zone in configuration.
	ID string

	// Name is the display name, e.g. "Home" or "School".
	Name string

	Kind ZoneKind

	// Center and RadiusMeters define a circular zone.
	Center       geo.Point
	RadiusMeters float64

	// Perimeter holds the polygon vertices for polygonal zones.
	Perimeter []geo.Point
}

// NewCircleZone builds a circular zone.
func NewCircleZone(id, name string, center geo.Point, radiusMeters float64) (Zone, error) {
	if radiusMeters <= 0 {
		return Zone{}, fmt.Errorf("%w: radius must be positive", ErrInvalidZone)
	}
	return Zone{
		ID:           id,
		Name:         name,
		Kind:         ZoneCircle,
		Center:       center,
		RadiusMeters: radiusMeters,
	}, nil
}

// NewPolygonZone builds a polygonal zone from an encoded polyline
// perimeter. The perimeter needs at least three vertices; a closing vertex
// equal to the first is accepted and dropped.
func NewPolygonZone(id, name, encodedPerimeter string) (Zone, error) {
	points := polyline.Decode(encodedPerimeter)
	if len(points) > 1 && points[0] == points[len(points)-1] {
		points = points[:len(points)-1]
	}
	if len(points) < 3 {
		return Zone{}, fmt.Errorf("%w: polygon needs at least 3 vertices", ErrInvalidZone)
	}

	perimeter := make([]geo.Point, len(points))
	for i, p := range points {
		perimeter[i] = geo.Point{Lat: p.Lat, Lon: p.Lon}
	}
	return Zone{
		ID:        id,
		Name:      name,
		Kind:      ZonePolygon,
		Perimeter: perimeter,
	}, nil
}

// Contains reports whether the coordinate lies inside the zone.
func (z Zone) Contains(lat, lon float64) bool {
	switch z.Kind {
	case ZoneCircle:
		return geo.CircleContains(z.Center.Lat, z.Center.Lon, z.RadiusMeters, lat, lon)
	case ZonePolygon:
		return geo.PointInPolygon(lat, lon, z.Perimeter)
	default:
		return false
	}
}

// EventKind is the direction of a zone boundary crossing.
type EventKind int

// Event kinds.
const (
	EventEnter EventKind = iota
	EventExit
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventEnter:
		return "enter"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is a zone boundary crossing observed between consecutive fixes.
type Event struct {
	ZoneID   string
	ZoneName string
	Kind     EventKind
	Time     time.Time
}
