package engine

import (
    "context"
    "errors"
    "testing"
    "time"

    "stoptrack/internal/config"
    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

func testTuning() config.Tuning {
    return config.Tuning{
        RadiusMeters:       50,
        DebounceWindow:     0,
        CycleInterval:      time.Hour,
        ResetCheckInterval: time.Hour,
        QuotaPerHour:       300,
        CacheTTL:           time.Hour,
        StoreTimeout:       time.Second,
        MaxRetries:         1,
    }
}

func newTestEngine(t *testing.T, stops []model.Stop, tune func(*config.Tuning)) (*Engine, *store.Memory) {
    t.Helper()
    m := store.NewMemory()
    m.SeedStops(stops)
    tn := testTuning()
    if tune != nil { tune(&tn) }
    e := New(tn, m, nil)
    if err := e.reg.Load(context.Background()); err != nil {
        t.Fatalf("initial load: %v", err)
    }
    return e, m
}

func (e *Engine) feed(lat, lng float64) {
    e.Ingest(model.PositionFragment{Lat: &lat, Lng: &lng, TS: time.Now()})
}

// Reaching the non-terminal stop marks it; reaching the terminal stop
// reorders the whole set.
func TestScenarioMarkThenReorder(t *testing.T) {
    stops := []model.Stop{
        {ID: "A", Lat: 28.6139, Lng: 77.2090, Seq: 1, Serial: 1},
        {ID: "B", Lat: 28.6150, Lng: 77.2100, Seq: 2, Serial: 2},
    }
    e, m := newTestEngine(t, stops, nil)
    ctx := context.Background()

    e.feed(28.6139, 77.2090)
    res := e.RunCycle(ctx)
    if res.Outcome != model.OutcomeSuccess || res.Arrivals != 1 || res.Writes != 1 {
        t.Fatalf("cycle 1: %+v", res)
    }
    a, _ := m.ReadStop(ctx, "A")
    if !a.Reached || a.Serial != 1 {
        t.Fatalf("cycle 1: A = %+v", a)
    }

    e.feed(28.6150, 77.2100)
    res = e.RunCycle(ctx)
    if res.Outcome != model.OutcomeSuccess || !res.Reorder {
        t.Fatalf("cycle 2: %+v", res)
    }
    a, _ = m.ReadStop(ctx, "A")
    b, _ := m.ReadStop(ctx, "B")
    if b.Serial != 1 || !b.Reached {
        t.Fatalf("cycle 2: B = %+v", b)
    }
    if a.Serial != 2 || a.Reached || a.ReachedAt != nil {
        t.Fatalf("cycle 2: A = %+v", a)
    }
}

// All stops inside the radius at once and one of them terminal: the
// reorder supersedes every ordinary mark, so exactly one stop ends reached.
func TestTerminalSupersedesOrdinary(t *testing.T) {
    pt := []float64{28.6139, 77.2090}
    stops := []model.Stop{
        {ID: "A", Lat: pt[0], Lng: pt[1], Seq: 1, Serial: 1},
        {ID: "B", Lat: pt[0], Lng: pt[1], Seq: 2, Serial: 2},
        {ID: "C", Lat: pt[0], Lng: pt[1], Seq: 3, Serial: 3},
    }
    e, m := newTestEngine(t, stops, nil)
    ctx := context.Background()

    before := m.WriteCount()
    e.feed(pt[0], pt[1])
    res := e.RunCycle(ctx)
    if !res.Reorder || res.Outcome != model.OutcomeSuccess {
        t.Fatalf("expected reorder, got %+v", res)
    }
    if m.WriteCount()-before != 1 {
        t.Fatalf("reorder must be one batched write, got %d", m.WriteCount()-before)
    }
    reached := 0
    all, _ := m.ReadAllStops(ctx)
    serials := map[int]bool{}
    for _, s := range all {
        if s.Reached {
            reached++
            if s.ID != "C" || s.Serial != 1 {
                t.Fatalf("wrong reached stop: %+v", s)
            }
        }
        serials[s.Serial] = true
    }
    if reached != 1 {
        t.Fatalf("exactly one stop may be reached, got %d", reached)
    }
    for n := 1; n <= 3; n++ {
        if !serials[n] { t.Fatalf("serials not a permutation: %v", serials) }
    }
}

// Quota ceiling: three eligible arrivals against a budget of two produce
// exactly two writes, and the leftover lands after the window rolls over.
func TestQuotaCeilingAcrossCycles(t *testing.T) {
    pt := []float64{28.6139, 77.2090}
    stops := []model.Stop{
        {ID: "A", Lat: pt[0], Lng: pt[1], Seq: 1, Serial: 1},
        {ID: "B", Lat: pt[0], Lng: pt[1], Seq: 2, Serial: 2},
        {ID: "C", Lat: pt[0], Lng: pt[1], Seq: 3, Serial: 3},
        {ID: "T", Lat: 28.7000, Lng: 77.3000, Seq: 4, Serial: 4},
    }
    e, m := newTestEngine(t, stops, func(tn *config.Tuning) { tn.QuotaPerHour = 2 })
    base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
    clock := base
    e.quota.now = func() time.Time { return clock }
    ctx := context.Background()

    e.feed(pt[0], pt[1])
    res := e.RunCycle(ctx)
    if res.Outcome != model.OutcomePartial || res.Writes != 2 || res.Reason != "quota" {
        t.Fatalf("cycle 1: %+v", res)
    }
    if m.WriteCount() != 2 {
        t.Fatalf("expected exactly 2 remote writes, got %d", m.WriteCount())
    }

    // Same window: the leftover stop stays skipped.
    res = e.RunCycle(ctx)
    if res.Writes != 0 || res.Outcome != model.OutcomePartial {
        t.Fatalf("cycle 2: %+v", res)
    }

    clock = base.Add(61 * time.Minute)
    res = e.RunCycle(ctx)
    if res.Outcome != model.OutcomeSuccess || res.Writes != 1 {
        t.Fatalf("cycle after rollover: %+v", res)
    }
    if m.WriteCount() != 3 {
        t.Fatalf("expected 3 writes total, got %d", m.WriteCount())
    }
}

// Marking an already-reached stop is a detector no-op, not a second write.
func TestMarkReachedIdempotent(t *testing.T) {
    stops := []model.Stop{
        {ID: "A", Lat: 28.6139, Lng: 77.2090, Seq: 1, Serial: 1},
        {ID: "T", Lat: 28.7000, Lng: 77.3000, Seq: 2, Serial: 2},
    }
    e, m := newTestEngine(t, stops, nil)
    ctx := context.Background()
    e.feed(28.6139, 77.2090)
    if res := e.RunCycle(ctx); res.Writes != 1 {
        t.Fatalf("cycle 1: %+v", res)
    }
    res := e.RunCycle(ctx)
    if res.Arrivals != 0 || res.Writes != 0 {
        t.Fatalf("cycle 2 should be a no-op: %+v", res)
    }
    if m.WriteCount() != 1 {
        t.Fatalf("expected a single remote write, got %d", m.WriteCount())
    }
}

// Terminal contact while the vehicle is backtracking does not reorder.
func TestBackwardTravelSkipsReorder(t *testing.T) {
    stops := []model.Stop{
        {ID: "A", Lat: 28.5000, Lng: 77.1000, Seq: 1, Serial: 1},
        {ID: "T", Lat: 28.6150, Lng: 77.2100, Seq: 2, Serial: 2},
    }
    e, m := newTestEngine(t, stops, nil)
    ctx := context.Background()

    // Prime the estimator: ~10m from T, then ~30m, so it reads backward.
    e.est.Observe(model.Position{Lat: 28.61509, Lng: 77.2100}, stops[1])
    e.est.Observe(model.Position{Lat: 28.61527, Lng: 77.2100}, stops[1])

    before := m.WriteCount()
    e.feed(28.61527, 77.2100)
    res := e.RunCycle(ctx)
    if res.Outcome != model.OutcomeSkipped || res.Reorder {
        t.Fatalf("expected backtracking skip, got %+v", res)
    }
    if m.WriteCount() != before {
        t.Fatal("backtracking cycle must not write")
    }
    tstop, _ := m.ReadStop(ctx, "T")
    if tstop.Serial != 2 || tstop.Reached {
        t.Fatalf("T mutated: %+v", tstop)
    }
}

func TestCycleSkippedWithoutPosition(t *testing.T) {
    e, _ := newTestEngine(t, []model.Stop{{ID: "A", Lat: 28.6, Lng: 77.2, Seq: 1, Serial: 1}}, nil)
    res := e.RunCycle(context.Background())
    if res.Outcome != model.OutcomeSkipped || res.Reason != "no position" {
        t.Fatalf("got %+v", res)
    }
}

func TestCycleOverlapSkipped(t *testing.T) {
    e, _ := newTestEngine(t, []model.Stop{{ID: "A", Lat: 28.6, Lng: 77.2, Seq: 1, Serial: 1}}, nil)
    e.busy.Store(true)
    res := e.RunCycle(context.Background())
    if res.Outcome != model.OutcomeSkipped || res.Reason != "cycle in progress" {
        t.Fatalf("got %+v", res)
    }
}

// A failed refresh keeps the cycle alive on the stale snapshot.
func TestCycleContinuesOnStaleCache(t *testing.T) {
    stops := []model.Stop{
        {ID: "A", Lat: 28.6139, Lng: 77.2090, Seq: 1, Serial: 1},
        {ID: "T", Lat: 28.7000, Lng: 77.3000, Seq: 2, Serial: 2},
    }
    e, m := newTestEngine(t, stops, func(tn *config.Tuning) { tn.CacheTTL = 0 })
    m.FailReads(true)
    e.feed(28.6139, 77.2090)
    res := e.RunCycle(context.Background())
    if res.Reason != "stale cache" {
        t.Fatalf("expected stale-cache note, got %+v", res)
    }
    if res.Outcome != model.OutcomeSuccess || res.Writes != 1 {
        t.Fatalf("detection should still run on the stale snapshot: %+v", res)
    }
}

// A failed reorder batch rolls the registry back and reports failed.
func TestReorderCommitFailureRollsBack(t *testing.T) {
    pt := []float64{28.6139, 77.2090}
    stops := []model.Stop{
        {ID: "A", Lat: pt[0], Lng: pt[1], Seq: 1, Serial: 1},
        {ID: "T", Lat: pt[0], Lng: pt[1], Seq: 2, Serial: 2},
    }
    e, m := newTestEngine(t, stops, nil)
    ctx := context.Background()
    m.FailNextWrites(1)
    e.feed(pt[0], pt[1])
    res := e.RunCycle(ctx)
    if res.Outcome != model.OutcomeFailed {
        t.Fatalf("expected failed outcome, got %+v", res)
    }
    var bce *BatchCommitError
    if !errors.As(res.Err, &bce) {
        t.Fatalf("expected BatchCommitError, got %v", res.Err)
    }
    if s, _ := e.reg.Get("T"); s.Serial != 2 || s.Reached {
        t.Fatalf("registry must keep the pre-transition snapshot: %+v", s)
    }
    // The next eligible cycle retries and lands.
    res = e.RunCycle(ctx)
    if !res.Reorder || res.Outcome != model.OutcomeSuccess {
        t.Fatalf("retry cycle: %+v", res)
    }
}

func scrambled() []model.Stop {
    at := time.Now()
    return []model.Stop{
        {ID: "A", Lat: 28.6139, Lng: 77.2090, Seq: 1, Serial: 3, Reached: true, ReachedAt: &at},
        {ID: "B", Lat: 28.6150, Lng: 77.2100, Seq: 2, Serial: 1, Reached: true, ReachedAt: &at},
        {ID: "C", Lat: 28.6160, Lng: 77.2110, Seq: 3, Serial: 2},
    }
}

func TestDailyResetIdempotentWithinWindow(t *testing.T) {
    e, m := newTestEngine(t, scrambled(), nil)
    ctx := context.Background()
    e.resetDate = "2026-08-29"
    e.now = func() time.Time { return time.Date(2026, 8, 30, 0, 30, 0, 0, time.UTC) }

    if err := e.CheckDailyReset(ctx); err != nil {
        t.Fatalf("first check: %v", err)
    }
    all, _ := m.ReadAllStops(ctx)
    for _, s := range all {
        if s.Serial != s.Seq || s.Reached || s.ReachedAt != nil {
            t.Fatalf("stop not reset: %+v", s)
        }
    }
    if v, _ := m.ReadMarker(ctx, model.MarkerDailyReset); v != "2026-08-30" {
        t.Fatalf("marker: %q", v)
    }
    // reset batch + marker write
    if m.WriteCount() != 2 {
        t.Fatalf("expected 2 writes, got %d", m.WriteCount())
    }

    if err := e.CheckDailyReset(ctx); err != nil {
        t.Fatalf("second check: %v", err)
    }
    if m.WriteCount() != 2 {
        t.Fatalf("second check in the same window must not write, got %d", m.WriteCount())
    }
}

func TestDailyResetAfterDowntime(t *testing.T) {
    e, m := newTestEngine(t, scrambled(), nil)
    ctx := context.Background()
    e.resetDate = "2026-08-28"
    e.now = func() time.Time { return time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC) }
    if err := e.CheckDailyReset(ctx); err != nil {
        t.Fatalf("check: %v", err)
    }
    all, _ := m.ReadAllStops(ctx)
    for _, s := range all {
        if s.Serial != s.Seq || s.Reached {
            t.Fatalf("missed-day reset not applied: %+v", s)
        }
    }
}

func TestFutureMarkerCorrectedWithoutReset(t *testing.T) {
    e, m := newTestEngine(t, scrambled(), nil)
    ctx := context.Background()
    e.resetDate = "2026-09-05"
    e.now = func() time.Time { return time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC) }
    if err := e.CheckDailyReset(ctx); err != nil {
        t.Fatalf("check: %v", err)
    }
    if v, _ := m.ReadMarker(ctx, model.MarkerDailyReset); v != "2026-08-30" {
        t.Fatalf("marker not corrected: %q", v)
    }
    // marker write only, no reset batch
    if m.WriteCount() != 1 {
        t.Fatalf("expected 1 write, got %d", m.WriteCount())
    }
    a, _ := m.ReadStop(ctx, "A")
    if a.Serial != 3 || !a.Reached {
        t.Fatalf("stops must be untouched on clock skew: %+v", a)
    }
}

func TestStartAndStopLifecycle(t *testing.T) {
    m := store.NewMemory()
    m.SeedStops([]model.Stop{{ID: "A", Lat: 28.6, Lng: 77.2, Seq: 1, Serial: 1}})
    tn := testTuning()
    tn.CycleInterval = 10 * time.Millisecond
    tn.ResetCheckInterval = 10 * time.Millisecond
    e := New(tn, m, nil)
    if err := e.Start(context.Background()); err != nil {
        t.Fatalf("Start: %v", err)
    }
    time.Sleep(30 * time.Millisecond)
    e.Stop()
    // first boot seeds the marker
    if v, err := m.ReadMarker(context.Background(), model.MarkerDailyReset); err != nil || v == "" {
        t.Fatalf("marker not seeded: %q %v", v, err)
    }
}

func TestStartupFailureIsFatal(t *testing.T) {
    m := store.NewMemory()
    m.FailReads(true)
    e := New(testTuning(), m, nil)
    err := e.Start(context.Background())
    var se *StartupError
    if !errors.As(err, &se) {
        t.Fatalf("expected StartupError, got %v", err)
    }
}
