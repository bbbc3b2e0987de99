package engine

import (
    "sort"
    "time"

    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

// PlanReorder computes the terminal-stop transition entirely in memory:
// the reached stop becomes serial 1 (reached), every other stop is sorted
// by current serial descending and takes serials 2..N with reached cleared.
// Returns the writes to commit and the post-transition snapshot.
func PlanReorder(stops []model.Stop, reachedID string, at time.Time) ([]store.StopWrite, []model.Stop) {
    var reached *model.Stop
    rest := make([]model.Stop, 0, len(stops))
    for _, s := range stops {
        if s.ID == reachedID {
            c := s
            reached = &c
            continue
        }
        rest = append(rest, s)
    }
    if reached == nil {
        return nil, nil
    }
    sort.Slice(rest, func(i, j int) bool {
        if rest[i].Serial != rest[j].Serial { return rest[i].Serial > rest[j].Serial }
        return rest[i].ID < rest[j].ID
    })

    reached.Serial = 1
    reached.Reached = true
    ts := at
    reached.ReachedAt = &ts

    next := make([]model.Stop, 0, len(stops))
    writes := make([]store.StopWrite, 0, len(stops))
    next = append(next, *reached)
    writes = append(writes, store.StopWrite{ID: reached.ID, Fields: map[string]any{"serial": 1, "reached": true, "reachedAt": &ts}})
    for i := range rest {
        s := rest[i]
        s.Serial = i + 2
        s.Reached = false
        s.ReachedAt = nil
        next = append(next, s)
        writes = append(writes, store.StopWrite{ID: s.ID, Fields: map[string]any{"serial": s.Serial, "reached": false, "reachedAt": (*time.Time)(nil)}})
    }
    return writes, next
}

// PlanReset computes the daily reset: every stop returns to its import
// ordinal (serial = seq) with reached cleared.
func PlanReset(stops []model.Stop) ([]store.StopWrite, []model.Stop) {
    next := make([]model.Stop, 0, len(stops))
    writes := make([]store.StopWrite, 0, len(stops))
    for _, s := range stops {
        s.Serial = s.Seq
        s.Reached = false
        s.ReachedAt = nil
        next = append(next, s)
        writes = append(writes, store.StopWrite{ID: s.ID, Fields: map[string]any{"serial": s.Serial, "reached": false, "reachedAt": (*time.Time)(nil)}})
    }
    return writes, next
}
