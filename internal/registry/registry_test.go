package registry

import (
    "context"
    "testing"
    "time"

    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

func seed() []model.Stop {
    return []model.Stop{
        {ID: "a", Lat: 28.6139, Lng: 77.2090, Seq: 1, Serial: 1},
        {ID: "b", Lat: 28.6150, Lng: 77.2100, Seq: 2, Serial: 2},
        {ID: "c", Lat: 28.6160, Lng: 77.2110, Seq: 3, Serial: 3},
    }
}

func newLoaded(t *testing.T) (*Registry, *store.Memory) {
    t.Helper()
    m := store.NewMemory()
    m.SeedStops(seed())
    r := New(m)
    if err := r.Load(context.Background()); err != nil {
        t.Fatalf("Load: %v", err)
    }
    return r, m
}

func TestSnapshotOrderedBySerial(t *testing.T) {
    r, _ := newLoaded(t)
    snap := r.Snapshot()
    if len(snap) != 3 { t.Fatalf("got %d stops", len(snap)) }
    for i, id := range []string{"a", "b", "c"} {
        if snap[i].ID != id { t.Fatalf("pos %d: got %s", i, snap[i].ID) }
    }
}

func TestHighestSerialTieBreak(t *testing.T) {
    m := store.NewMemory()
    m.SeedStops([]model.Stop{
        {ID: "x", Serial: 3}, {ID: "b", Serial: 3}, {ID: "a", Serial: 1},
    })
    r := New(m)
    if err := r.Load(context.Background()); err != nil { t.Fatal(err) }
    term, ok := r.HighestSerialStop()
    if !ok || term.ID != "b" {
        t.Fatalf("expected b (smallest id at max serial), got %+v ok=%v", term, ok)
    }
}

func TestEnsureFreshStaleFallback(t *testing.T) {
    r, m := newLoaded(t)
    m.FailReads(true)
    r.now = func() time.Time { return time.Now().Add(time.Hour) }
    if err := r.EnsureFresh(context.Background(), time.Minute); err == nil {
        t.Fatal("expected refresh error")
    }
    if _, stale := r.LastRefresh(); !stale {
        t.Fatal("registry should be flagged stale")
    }
    // Previous snapshot must remain fully usable.
    if len(r.Snapshot()) != 3 {
        t.Fatalf("stale cache lost stops: %d", r.Len())
    }
}

func TestEnsureFreshWithinTTLSkipsReload(t *testing.T) {
    r, m := newLoaded(t)
    m.FailReads(true) // a reload attempt would fail loudly
    if err := r.EnsureFresh(context.Background(), time.Minute); err != nil {
        t.Fatalf("fresh cache should not reload: %v", err)
    }
}

func TestInvalidateForcesReload(t *testing.T) {
    r, m := newLoaded(t)
    m.SeedStops(append(seed(), model.Stop{ID: "d", Seq: 4, Serial: 4}))
    r.Invalidate()
    if err := r.EnsureFresh(context.Background(), time.Hour); err != nil {
        t.Fatalf("EnsureFresh: %v", err)
    }
    if r.Len() != 4 {
        t.Fatalf("expected reload after invalidate, len=%d", r.Len())
    }
}

func TestMarkReached(t *testing.T) {
    r, m := newLoaded(t)
    at := time.Now().UTC()
    if err := r.MarkReached(context.Background(), "a", at); err != nil {
        t.Fatalf("MarkReached: %v", err)
    }
    s, _ := r.Get("a")
    if !s.Reached || s.ReachedAt == nil {
        t.Fatalf("cache not updated: %+v", s)
    }
    rs, _ := m.ReadStop(context.Background(), "a")
    if !rs.Reached {
        t.Fatal("remote not updated")
    }
}

func TestCommitBatchFailureKeepsSnapshot(t *testing.T) {
    r, m := newLoaded(t)
    m.FailNextWrites(1)
    next := seed()
    next[0].Serial = 3
    writes := []store.StopWrite{{ID: "a", Fields: map[string]any{"serial": 3}}}
    if err := r.CommitBatch(context.Background(), writes, next); err == nil {
        t.Fatal("expected commit failure")
    }
    s, _ := r.Get("a")
    if s.Serial != 1 {
        t.Fatalf("cache mutated on failed commit: %+v", s)
    }
}

func TestBatchOps(t *testing.T) {
    cases := map[int]int{0: 0, 1: 1, 500: 1, 501: 2, 1000: 2, 1001: 3}
    for n, want := range cases {
        if got := BatchOps(n); got != want {
            t.Fatalf("BatchOps(%d)=%d want %d", n, got, want)
        }
    }
}
