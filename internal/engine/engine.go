// Package engine implements the detection cycle coordinator: geofence
// arrivals, the terminal-stop reorder, the write-quota governor and the
// daily reset scheduler.
package engine

import (
    "context"
    "errors"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"

    "stoptrack/internal/config"
    "stoptrack/internal/ingest"
    "stoptrack/internal/metrics"
    "stoptrack/internal/model"
    "stoptrack/internal/registry"
    "stoptrack/internal/store"
)

// Event is pushed to the configured sink (the HTTP facade's broker) after
// committed transitions.
type Event struct {
    ID   string         `json:"id"`
    Type string         `json:"type"`
    Data map[string]any `json:"data,omitempty"`
}

// Engine owns the stop registry and quota window; no other component
// mutates them. Cycles never overlap: a tick arriving while one runs is
// dropped, not queued.
type Engine struct {
    tuning config.Tuning
    store  store.Store
    reg    *registry.Registry
    ing    *ingest.Ingestor
    quota  *QuotaGovernor
    det    *Detector
    est    *DirectionEstimator
    events func(Event)
    now    func() time.Time

    busy       atomic.Bool
    kick       chan struct{}
    stopCh     chan struct{}
    stopOnce   sync.Once
    wg         sync.WaitGroup
    unsubStops func()

    mu          sync.Mutex
    lastResult  model.CycleResult
    lastCycleAt time.Time
    resetDate   string
    dir         model.Direction
}

// Status is a point-in-time view for the facade.
type Status struct {
    LastCycle        model.CycleResult `json:"lastCycle"`
    LastCycleAt      time.Time         `json:"lastCycleAt"`
    Direction        string            `json:"direction"`
    QuotaCount       int               `json:"quotaCount"`
    QuotaMax         int               `json:"quotaMax"`
    QuotaWindowStart time.Time         `json:"quotaWindowStart"`
    LastResetDate    string            `json:"lastResetDate"`
    LastRefresh      time.Time         `json:"lastRefresh"`
    StaleCache       bool              `json:"staleCache"`
}

// New wires an Engine over the given store. events may be nil.
func New(t config.Tuning, s store.Store, events func(Event)) *Engine {
    e := &Engine{
        tuning: t,
        store:  s,
        reg:    registry.New(s),
        quota:  NewQuotaGovernor(t.QuotaPerHour),
        det:    &Detector{RadiusMeters: t.RadiusMeters},
        est:    &DirectionEstimator{},
        events: events,
        now:    time.Now,
        kick:   make(chan struct{}, 1),
        stopCh: make(chan struct{}),
    }
    e.ing = ingest.New(t.DebounceWindow, func(model.Position) {
        select { case e.kick <- struct{}{}: default: }
    })
    return e
}

// Start loads the initial stop set (fatal on failure), reads the reset
// marker, subscribes to the push feeds and starts the cycle/reset timers.
func (e *Engine) Start(ctx context.Context) error {
    err := retryTransient(ctx, e.tuning.MaxRetries, func(c context.Context) error {
        return e.withTimeout(c, e.reg.Load)
    })
    if err != nil {
        return &StartupError{Err: err}
    }
    if err := e.loadResetMarker(ctx); err != nil {
        return &StartupError{Err: err}
    }
    e.unsubStops = e.store.SubscribeStops(e.reg.Invalidate)
    e.ing.Start(e.store)
    e.wg.Add(1)
    go e.run()
    log.Printf("engine: started, %d stops, preset cycle=%v debounce=%v quota=%d/h",
        e.reg.Len(), e.tuning.CycleInterval, e.tuning.DebounceWindow, e.tuning.QuotaPerHour)
    return nil
}

// Stop cancels the timers and unsubscribes from all feeds. No callback
// fires after it returns.
func (e *Engine) Stop() {
    e.stopOnce.Do(func() { close(e.stopCh) })
    e.wg.Wait()
    e.ing.Stop()
    if e.unsubStops != nil {
        e.unsubStops()
        e.unsubStops = nil
    }
}

func (e *Engine) run() {
    defer e.wg.Done()
    cycle := time.NewTicker(e.tuning.CycleInterval)
    defer cycle.Stop()
    reset := time.NewTicker(e.tuning.ResetCheckInterval)
    defer reset.Stop()
    for {
        select {
        case <-e.stopCh:
            return
        case <-cycle.C:
            e.runCycleLogged()
        case <-e.kick:
            e.runCycleLogged()
        case <-reset.C:
            if err := e.CheckDailyReset(context.Background()); err != nil && !errors.Is(err, ErrQuotaExceeded) {
                log.Printf("engine: daily reset check: %v", err)
            }
        }
    }
}

func (e *Engine) runCycleLogged() {
    res := e.RunCycle(context.Background())
    metrics.Cycles.WithLabelValues(string(res.Outcome)).Inc()
    metrics.CycleDuration.Observe(res.Duration.Seconds())
    if res.Outcome == model.OutcomeSuccess && res.Arrivals == 0 && res.Reason == "" {
        return // quiet cycle, nothing worth a log line
    }
    log.Printf("cycle outcome=%s reason=%q arrivals=%d writes=%d reorder=%v dur=%v err=%v",
        res.Outcome, res.Reason, res.Arrivals, res.Writes, res.Reorder, res.Duration.Round(time.Millisecond), res.Err)
}

// RunCycle executes one detection pass. Safe to call concurrently; only one
// pass runs at a time and overlapping calls report a skip.
func (e *Engine) RunCycle(ctx context.Context) model.CycleResult {
    start := e.now()
    if !e.busy.CompareAndSwap(false, true) {
        return model.CycleResult{Outcome: model.OutcomeSkipped, Reason: "cycle in progress"}
    }
    defer e.busy.Store(false)
    res := e.cycle(ctx)
    res.Duration = e.now().Sub(start)
    e.mu.Lock()
    e.lastResult = res
    e.lastCycleAt = start
    e.mu.Unlock()
    return res
}

func (e *Engine) cycle(ctx context.Context) model.CycleResult {
    res := model.CycleResult{Outcome: model.OutcomeSuccess}

    if err := e.withTimeout(ctx, func(c context.Context) error {
        return e.reg.EnsureFresh(c, e.tuning.CacheTTL)
    }); err != nil {
        res.Reason = "stale cache"
    }
    if _, stale := e.reg.LastRefresh(); stale {
        metrics.RegistryStale.Set(1)
    } else {
        metrics.RegistryStale.Set(0)
    }

    pos := e.ing.Latest()
    if pos == nil {
        res.Outcome = model.OutcomeSkipped
        res.Reason = "no position"
        return res
    }
    term, ok := e.reg.HighestSerialStop()
    if !ok {
        res.Outcome = model.OutcomeSkipped
        res.Reason = "no stops"
        return res
    }

    ref := term
    if e.tuning.ReferenceStop != "" {
        if s, ok := e.reg.Get(e.tuning.ReferenceStop); ok { ref = s }
    }
    dir := e.est.Observe(*pos, ref)
    e.mu.Lock()
    e.dir = dir
    e.mu.Unlock()

    events := e.det.Detect(*pos, e.reg.Snapshot(), term.ID)
    res.Arrivals = len(events)
    if len(events) == 0 {
        return res
    }
    metrics.Arrivals.Add(float64(len(events)))

    var terminal *model.ReachEvent
    for i := range events {
        if events[i].IsTerminal {
            terminal = &events[i]
            break
        }
    }
    at := e.now().UTC()

    if terminal != nil {
        // The reorder supersedes any ordinary mark-reached this cycle: the
        // other stops are implicitly reset by it.
        if dir == model.DirectionBackward {
            res.Outcome = model.OutcomeSkipped
            res.Reason = "terminal contact while backtracking"
            return res
        }
        return e.commitReorder(ctx, res, terminal.StopID, at)
    }

    committed, denied := 0, 0
    var firstErr error
    for _, ev := range events {
        if !e.quota.TryConsume(1) {
            metrics.QuotaDenied.Inc()
            denied++
            continue
        }
        err := retryTransient(ctx, e.tuning.MaxRetries, func(c context.Context) error {
            return e.withTimeout(c, func(oc context.Context) error {
                return e.reg.MarkReached(oc, ev.StopID, at)
            })
        })
        if err != nil {
            if firstErr == nil { firstErr = err }
            continue
        }
        committed++
        metrics.RemoteWrites.WithLabelValues("mark_reached").Inc()
        e.publish("stop.reached", map[string]any{"stopId": ev.StopID, "distanceMeters": ev.DistanceMeters, "at": at})
    }
    res.Writes = committed
    if denied > 0 || firstErr != nil {
        res.Outcome = model.OutcomePartial
        res.Err = firstErr
        if firstErr != nil {
            res.Reason = "write failed"
        } else {
            res.Reason = "quota"
        }
    }
    return res
}

func (e *Engine) commitReorder(ctx context.Context, res model.CycleResult, reachedID string, at time.Time) model.CycleResult {
    writes, next := PlanReorder(e.reg.Snapshot(), reachedID, at)
    ops := registry.BatchOps(len(writes))
    if !e.quota.TryConsume(ops) {
        metrics.QuotaDenied.Inc()
        res.Outcome = model.OutcomeSkipped
        res.Reason = "quota"
        return res
    }
    err := retryTransient(ctx, e.tuning.MaxRetries, func(c context.Context) error {
        return e.withTimeout(c, func(oc context.Context) error {
            return e.reg.CommitBatch(oc, writes, next)
        })
    })
    if err != nil {
        res.Outcome = model.OutcomeFailed
        res.Reason = "reorder commit failed"
        res.Err = &BatchCommitError{Op: "reorder", Err: err}
        return res
    }
    res.Writes = ops
    res.Reorder = true
    metrics.RemoteWrites.WithLabelValues("reorder").Add(float64(ops))
    metrics.Reorders.Inc()
    e.publish("stops.reordered", map[string]any{"terminalId": reachedID, "stops": len(next), "at": at})
    return res
}

// CheckDailyReset compares the persisted marker date against the clock and
// performs at most one reset per calendar day. A marker in the future is a
// clock adjustment: corrected to today without resetting.
func (e *Engine) CheckDailyReset(ctx context.Context) error {
    now := e.now()
    today := now.Format("2006-01-02")
    e.mu.Lock()
    marker := e.resetDate
    e.mu.Unlock()
    if marker == today {
        return nil
    }
    if marker > today {
        log.Printf("engine: reset marker %q is in the future, correcting to %q without reset", marker, today)
        return e.writeResetMarker(ctx, today)
    }
    reason := "missed"
    if now.Hour() == 0 {
        reason = "midnight"
    }
    if err := e.doReset(ctx); err != nil {
        return err
    }
    if err := e.writeResetMarker(ctx, today); err != nil {
        return err
    }
    metrics.DailyResets.Inc()
    e.publish("stops.reset", map[string]any{"reason": reason, "date": today})
    log.Printf("engine: daily reset done (%s), date=%s", reason, today)
    return nil
}

// ForceReset performs the reset unconditionally (admin action); the daily
// marker is left alone so the scheduled reset still runs on its own terms.
func (e *Engine) ForceReset(ctx context.Context) error {
    if err := e.doReset(ctx); err != nil {
        return err
    }
    e.publish("stops.reset", map[string]any{"reason": "admin"})
    return nil
}

func (e *Engine) doReset(ctx context.Context) error {
    writes, next := PlanReset(e.reg.Snapshot())
    if len(writes) == 0 {
        return nil
    }
    ops := registry.BatchOps(len(writes))
    if !e.quota.TryConsume(ops) {
        metrics.QuotaDenied.Inc()
        return ErrQuotaExceeded
    }
    err := retryTransient(ctx, e.tuning.MaxRetries, func(c context.Context) error {
        return e.withTimeout(c, func(oc context.Context) error {
            return e.reg.CommitBatch(oc, writes, next)
        })
    })
    if err != nil {
        return &BatchCommitError{Op: "reset", Err: err}
    }
    metrics.RemoteWrites.WithLabelValues("reset").Add(float64(ops))
    return nil
}

// ForceRefresh reloads the registry ignoring the TTL (admin action).
func (e *Engine) ForceRefresh(ctx context.Context) error {
    return e.withTimeout(ctx, e.reg.Load)
}

func (e *Engine) loadResetMarker(ctx context.Context) error {
    var v string
    err := retryTransient(ctx, e.tuning.MaxRetries, func(c context.Context) error {
        return e.withTimeout(c, func(oc context.Context) error {
            var rerr error
            v, rerr = e.store.ReadMarker(oc, model.MarkerDailyReset)
            return rerr
        })
    })
    if errors.Is(err, store.ErrNotFound) {
        // first boot: seed the marker so today is not treated as missed
        today := e.now().Format("2006-01-02")
        if werr := e.writeResetMarker(ctx, today); werr != nil {
            return werr
        }
        return nil
    }
    if err != nil {
        return err
    }
    e.mu.Lock()
    e.resetDate = v
    e.mu.Unlock()
    return nil
}

func (e *Engine) writeResetMarker(ctx context.Context, date string) error {
    err := retryTransient(ctx, e.tuning.MaxRetries, func(c context.Context) error {
        return e.withTimeout(c, func(oc context.Context) error {
            return e.store.WriteMarker(oc, model.MarkerDailyReset, date)
        })
    })
    if err != nil {
        return err
    }
    metrics.RemoteWrites.WithLabelValues("marker").Inc()
    e.mu.Lock()
    e.resetDate = date
    e.mu.Unlock()
    return nil
}

func (e *Engine) withTimeout(ctx context.Context, fn func(context.Context) error) error {
    timeout := e.tuning.StoreTimeout
    if timeout <= 0 { timeout = 5 * time.Second }
    octx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()
    return fn(octx)
}

func (e *Engine) publish(typ string, data map[string]any) {
    if e.events == nil {
        return
    }
    e.events(Event{ID: uuid.New().String(), Type: typ, Data: data})
}

// Stops returns the cached stop snapshot ordered by serial.
func (e *Engine) Stops() []model.Stop { return e.reg.Snapshot() }

// Latest returns the newest complete position fix, or nil.
func (e *Engine) Latest() *model.Position { return e.ing.Latest() }

// Ingest feeds a raw fragment directly (local/dev feeds without Redis).
func (e *Engine) Ingest(frag model.PositionFragment) { e.ing.Ingest(frag) }

// Status reports the engine state for the facade.
func (e *Engine) Status() Status {
    count, winStart, max := e.quota.Window()
    lastRefresh, stale := e.reg.LastRefresh()
    e.mu.Lock(); defer e.mu.Unlock()
    return Status{
        LastCycle:        e.lastResult,
        LastCycleAt:      e.lastCycleAt,
        Direction:        e.dir.String(),
        QuotaCount:       count,
        QuotaMax:         max,
        QuotaWindowStart: winStart,
        LastResetDate:    e.resetDate,
        LastRefresh:      lastRefresh,
        StaleCache:       stale,
    }
}
