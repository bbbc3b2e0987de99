package engine

import (
    "stoptrack/internal/geo"
    "stoptrack/internal/model"
)

// Distance deltas below this are treated as "no movement" and keep the
// previous direction.
const directionEpsilonMeters = 1.0

// DirectionEstimator infers forward/backward travel by comparing successive
// distances to a reference stop.
type DirectionEstimator struct {
    dir  model.Direction
    prev *model.Position
}

// Observe updates the estimate with a new fix. The first fix, an invalid
// coordinate, or a near-equal distance all keep the previous direction.
func (e *DirectionEstimator) Observe(pos model.Position, ref model.Stop) model.Direction {
    prev := e.prev
    p := pos
    e.prev = &p
    if prev == nil {
        return e.dir
    }
    dNew, err := geo.DistanceMeters(pos.Lat, pos.Lng, ref.Lat, ref.Lng)
    if err != nil {
        return e.dir
    }
    dOld, err := geo.DistanceMeters(prev.Lat, prev.Lng, ref.Lat, ref.Lng)
    if err != nil {
        return e.dir
    }
    switch {
    case dOld-dNew > directionEpsilonMeters:
        e.dir = model.DirectionForward
    case dNew-dOld > directionEpsilonMeters:
        e.dir = model.DirectionBackward
    }
    return e.dir
}

// Direction returns the current estimate without observing a new fix.
func (e *DirectionEstimator) Direction() model.Direction { return e.dir }
