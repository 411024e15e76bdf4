package geofence

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/track"
)

// Evaluator tracks per-zone containment across consecutive fixes and emits
// boundary-crossing events. The first evaluated fix seeds the containment
// state without emitting events: a device that boots inside a zone did not
// just enter it.
//
// Evaluator is not safe for concurrent use; the supervisor's event loop is
// its only caller.
type Evaluator struct {
	zones  []Zone
	logger zerolog.Logger

	seeded bool
	inside map[string]bool
}

// NewEvaluator creates an evaluator for the given zones.
func NewEvaluator(zones []Zone, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		zones:  zones,
		logger: logger,
		inside: make(map[string]bool, len(zones)),
	}
}

// Evaluate checks the fix against every zone and returns the boundary
// crossings since the previous fix, in zone order.
func (e *Evaluator) Evaluate(fix track.Fix) []Event {
	if len(e.zones) == 0 {
		return nil
	}

	var events []Event
	for _, zone := range e.zones {
		contains := zone.Contains(fix.Lat, fix.Lon)
		if e.seeded && contains != e.inside[zone.ID] {
			kind := EventExit
			if contains {
				kind = EventEnter
			}
			events = append(events, Event{
				ZoneID:   zone.ID,
				ZoneName: zone.Name,
				Kind:     kind,
				Time:     eventTime(fix),
			})
			e.logger.Info().
				Str("zone", zone.Name).
				Str("event", kind.String()).
				Msg("geofence boundary crossed")
		}
		e.inside[zone.ID] = contains
	}
	e.seeded = true

	return events
}

// Inside reports the last known containment state for a zone id.
func (e *Evaluator) Inside(zoneID string) bool {
	return e.inside[zoneID]
}

func eventTime(fix track.Fix) time.Time {
	if fix.Time.IsZero() {
		return time.Now()
	}
	return fix.Time
}
