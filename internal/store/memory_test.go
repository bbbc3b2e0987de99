package store

import (
    "context"
    "errors"
    "testing"
    "time"

    "stoptrack/internal/model"
)

func seed() []model.Stop {
    return []model.Stop{
        {ID: "a", Lat: 28.6139, Lng: 77.2090, Seq: 1, Serial: 1},
        {ID: "b", Lat: 28.6150, Lng: 77.2100, Seq: 2, Serial: 2},
    }
}

func TestMemoryReadWrite(t *testing.T) {
    m := NewMemory()
    m.SeedStops(seed())
    ctx := context.Background()

    stops, err := m.ReadAllStops(ctx)
    if err != nil { t.Fatalf("ReadAllStops: %v", err) }
    if len(stops) != 2 { t.Fatalf("got %d stops", len(stops)) }

    now := time.Now()
    if err := m.WriteStopFields(ctx, "a", map[string]any{"reached": true, "reachedAt": &now}); err != nil {
        t.Fatalf("WriteStopFields: %v", err)
    }
    s, err := m.ReadStop(ctx, "a")
    if err != nil { t.Fatalf("ReadStop: %v", err) }
    if !s.Reached || s.ReachedAt == nil {
        t.Fatalf("write not applied: %+v", s)
    }
    if _, err := m.ReadStop(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
        t.Fatalf("expected ErrNotFound, got %v", err)
    }
}

func TestMemoryBatchWriteAtomic(t *testing.T) {
    m := NewMemory()
    m.SeedStops(seed())
    ctx := context.Background()

    err := m.BatchWrite(ctx, []StopWrite{
        {ID: "a", Fields: map[string]any{"serial": 2}},
        {ID: "missing", Fields: map[string]any{"serial": 1}},
    })
    if !errors.Is(err, ErrNotFound) {
        t.Fatalf("expected ErrNotFound, got %v", err)
    }
    s, _ := m.ReadStop(ctx, "a")
    if s.Serial != 1 {
        t.Fatalf("failed batch must not partially apply, serial=%d", s.Serial)
    }
}

func TestMemoryBatchBound(t *testing.T) {
    m := NewMemory()
    writes := make([]StopWrite, MaxBatch+1)
    for i := range writes { writes[i] = StopWrite{ID: "a"} }
    if err := m.BatchWrite(context.Background(), writes); err == nil {
        t.Fatal("expected error for oversized batch")
    }
}

func TestMemorySubscriptions(t *testing.T) {
    m := NewMemory()
    got := 0
    unsub := m.SubscribePosition(func(model.PositionFragment) { got++ })
    lat := 28.6
    m.PublishFragment(model.PositionFragment{Lat: &lat})
    if got != 1 { t.Fatalf("expected 1 fragment, got %d", got) }
    unsub()
    m.PublishFragment(model.PositionFragment{Lat: &lat})
    if got != 1 { t.Fatalf("callback fired after unsubscribe") }

    changes := 0
    unsub2 := m.SubscribeStops(func() { changes++ })
    m.SeedStops(seed())
    _ = m.WriteStopFields(context.Background(), "a", map[string]any{"reached": true})
    if changes != 1 { t.Fatalf("expected 1 change ping, got %d", changes) }
    unsub2()
}

func TestMemoryInjectedFailures(t *testing.T) {
    m := NewMemory()
    m.SeedStops(seed())
    ctx := context.Background()
    m.FailNextWrites(1)
    err := m.WriteStopFields(ctx, "a", map[string]any{"reached": true})
    if !IsTransient(err) { t.Fatalf("expected transient, got %v", err) }
    if err := m.WriteStopFields(ctx, "a", map[string]any{"reached": true}); err != nil {
        t.Fatalf("second write should pass: %v", err)
    }
    m.FailReads(true)
    if _, err := m.ReadAllStops(ctx); !IsTransient(err) {
        t.Fatalf("expected transient read failure, got %v", err)
    }
}

func TestMemoryMarkers(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    if _, err := m.ReadMarker(ctx, model.MarkerDailyReset); !errors.Is(err, ErrNotFound) {
        t.Fatalf("expected ErrNotFound, got %v", err)
    }
    if err := m.WriteMarker(ctx, model.MarkerDailyReset, "2026-08-30"); err != nil {
        t.Fatalf("WriteMarker: %v", err)
    }
    v, err := m.ReadMarker(ctx, model.MarkerDailyReset)
    if err != nil || v != "2026-08-30" {
        t.Fatalf("got %q, %v", v, err)
    }
}
