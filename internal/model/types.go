package model

import "time"

// Core domain types for the stop-tracking engine.

// Position is one complete GPS fix for the vehicle. Immutable; a newer
// sample supersedes it entirely.
type Position struct {
    Lat      float64   `json:"lat"`
    Lng      float64   `json:"lng"`
    TS       time.Time `json:"ts"`
    SpeedKmh float64   `json:"speedKmh,omitempty"`
}

// PositionFragment is a partial update from the upstream feed, which may
// report latitude and longitude as separately-updated fields.
type PositionFragment struct {
    Lat      *float64  `json:"lat,omitempty"`
    Lng      *float64  `json:"lng,omitempty"`
    SpeedKmh *float64  `json:"speedKmh,omitempty"`
    TS       time.Time `json:"ts"`
}

// Stop is one stop on the route. Seq is the import ordinal and never
// changes; Serial is the live ordering and is reassigned by reorders and
// daily resets. While no reorder is in flight the Serial values across all
// stops are exactly the permutation 1..N.
type Stop struct {
    ID        string     `json:"id"`
    Lat       float64    `json:"lat"`
    Lng       float64    `json:"lng"`
    Seq       int        `json:"seq"`
    Serial    int        `json:"serial"`
    Reached   bool       `json:"reached"`
    ReachedAt *time.Time `json:"reachedAt,omitempty"`
}

// ReachEvent is produced by the arrival detector for a single cycle and is
// never persisted; it feeds either a mark-reached write or the reorder.
type ReachEvent struct {
    StopID         string  `json:"stopId"`
    DistanceMeters float64 `json:"distanceMeters"`
    IsTerminal     bool    `json:"isTerminal"`
}

// Direction of travel relative to the reference stop.
type Direction int

const (
    DirectionUnknown Direction = iota
    DirectionForward
    DirectionBackward
)

func (d Direction) String() string {
    switch d {
    case DirectionForward:
        return "forward"
    case DirectionBackward:
        return "backward"
    }
    return "unknown"
}

// Outcome classifies one detection cycle for logging and metrics.
type Outcome string

const (
    OutcomeSuccess Outcome = "success"
    OutcomePartial Outcome = "partial"
    OutcomeSkipped Outcome = "skipped"
    OutcomeFailed  Outcome = "failed"
)

// CycleResult is the structured result of one detection cycle.
type CycleResult struct {
    Outcome  Outcome       `json:"outcome"`
    Reason   string        `json:"reason,omitempty"`
    Arrivals int           `json:"arrivals"`
    Writes   int           `json:"writes"`
    Reorder  bool          `json:"reorder"`
    Duration time.Duration `json:"-"`
    Err      error         `json:"-"`
}

// MarkerDailyReset is the marker key recording the last calendar date the
// daily reset ran (format 2006-01-02).
const MarkerDailyReset = "lastResetDate"
