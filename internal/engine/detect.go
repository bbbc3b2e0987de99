package engine

import (
    "errors"
    "log"
    "sort"

    "stoptrack/internal/geo"
    "stoptrack/internal/model"
)

// Detector runs the per-cycle geofence check. Already-reached stops are
// skipped here, which is the single place enforcing mark-reached
// idempotence; a stop with invalid coordinates is logged and skipped
// without aborting the cycle.
type Detector struct {
    RadiusMeters float64
}

// Detect returns reach events for every unreached stop within the radius
// (inclusive boundary), sorted by ascending distance with ties broken by
// stop ID so processing order is deterministic.
func (d *Detector) Detect(pos model.Position, stops []model.Stop, terminalID string) []model.ReachEvent {
    var events []model.ReachEvent
    for _, s := range stops {
        if s.Reached {
            continue
        }
        dist, err := geo.DistanceMeters(pos.Lat, pos.Lng, s.Lat, s.Lng)
        if err != nil {
            if errors.Is(err, geo.ErrInvalidCoordinate) {
                log.Printf("detect: skipping stop %s: %v", s.ID, err)
                continue
            }
            continue
        }
        if dist <= d.RadiusMeters {
            events = append(events, model.ReachEvent{StopID: s.ID, DistanceMeters: dist, IsTerminal: s.ID == terminalID})
        }
    }
    sort.Slice(events, func(i, j int) bool {
        if events[i].DistanceMeters != events[j].DistanceMeters {
            return events[i].DistanceMeters < events[j].DistanceMeters
        }
        return events[i].StopID < events[j].StopID
    })
    return events
}
