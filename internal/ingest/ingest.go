// Package ingest subscribes to the raw vehicle position feed, merges
// partial lat/lng fragments and debounces bursts.
package ingest

import (
    "sync"
    "time"

    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

// Ingestor surfaces at most one Position per quiet period: incoming
// fragments reset the debounce timer and only the last one before it fires
// is published. A Position is surfaced only once both latitude and
// longitude have been seen.
type Ingestor struct {
    window   time.Duration
    onUpdate func(model.Position)

    mu      sync.Mutex
    lat     *float64
    lng     *float64
    speed   *float64
    ts      time.Time
    latest  *model.Position
    timer   *time.Timer
    unsub   func()
    stopped bool
}

// New creates an Ingestor. onUpdate may be nil; it fires after each
// debounced fix and can be used to trigger an out-of-cycle detection pass.
func New(window time.Duration, onUpdate func(model.Position)) *Ingestor {
    return &Ingestor{window: window, onUpdate: onUpdate}
}

// Start subscribes to the store's position feed.
func (i *Ingestor) Start(s store.Store) {
    i.mu.Lock()
    i.stopped = false
    i.mu.Unlock()
    unsub := s.SubscribePosition(i.Ingest)
    i.mu.Lock()
    i.unsub = unsub
    i.mu.Unlock()
}

// Stop unsubscribes and aborts any in-flight debounce timer. No update
// callback fires after Stop returns.
func (i *Ingestor) Stop() {
    i.mu.Lock()
    i.stopped = true
    unsub := i.unsub
    i.unsub = nil
    if i.timer != nil {
        i.timer.Stop()
        i.timer = nil
    }
    i.mu.Unlock()
    if unsub != nil { unsub() }
}

// Ingest merges one raw fragment. Exposed for tests and local feeds.
func (i *Ingestor) Ingest(frag model.PositionFragment) {
    i.mu.Lock()
    if i.stopped {
        i.mu.Unlock()
        return
    }
    if frag.Lat != nil { i.lat = frag.Lat }
    if frag.Lng != nil { i.lng = frag.Lng }
    if frag.SpeedKmh != nil { i.speed = frag.SpeedKmh }
    if !frag.TS.IsZero() { i.ts = frag.TS } else { i.ts = time.Now().UTC() }
    complete := i.lat != nil && i.lng != nil
    if !complete {
        i.mu.Unlock()
        return
    }
    if i.window <= 0 {
        i.surfaceLocked()
        i.mu.Unlock()
        return
    }
    if i.timer != nil {
        i.timer.Stop()
    }
    i.timer = time.AfterFunc(i.window, func() {
        i.mu.Lock()
        if i.stopped {
            i.mu.Unlock()
            return
        }
        i.surfaceLocked()
        i.mu.Unlock()
    })
    i.mu.Unlock()
}

// surfaceLocked publishes the merged fix; caller holds the mutex.
func (i *Ingestor) surfaceLocked() {
    pos := model.Position{Lat: *i.lat, Lng: *i.lng, TS: i.ts}
    if i.speed != nil { pos.SpeedKmh = *i.speed }
    i.latest = &pos
    if i.onUpdate != nil {
        cb := i.onUpdate
        p := pos
        go cb(p)
    }
}

// Latest returns the newest complete fix, or nil before the first one.
func (i *Ingestor) Latest() *model.Position {
    i.mu.Lock(); defer i.mu.Unlock()
    if i.latest == nil { return nil }
    p := *i.latest
    return &p
}
