package ingest

import (
    "sync/atomic"
    "testing"
    "time"

    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

func f64(v float64) *float64 { return &v }

func TestIncompleteFragmentNotSurfaced(t *testing.T) {
    ing := New(0, nil)
    ing.Ingest(model.PositionFragment{Lat: f64(28.6)})
    if ing.Latest() != nil {
        t.Fatal("lat-only fragment must not surface a position")
    }
    ing.Ingest(model.PositionFragment{Lng: f64(77.2)})
    pos := ing.Latest()
    if pos == nil || pos.Lat != 28.6 || pos.Lng != 77.2 {
        t.Fatalf("merged fix wrong: %+v", pos)
    }
}

func TestDebounceCoalescesBurst(t *testing.T) {
    var updates atomic.Int32
    ing := New(30*time.Millisecond, func(model.Position) { updates.Add(1) })
    for k := 0; k < 5; k++ {
        ing.Ingest(model.PositionFragment{Lat: f64(28.6 + float64(k)*0.001), Lng: f64(77.2)})
        time.Sleep(5 * time.Millisecond)
    }
    time.Sleep(80 * time.Millisecond)
    if n := updates.Load(); n != 1 {
        t.Fatalf("burst should surface once, got %d", n)
    }
    pos := ing.Latest()
    if pos == nil || pos.Lat != 28.604 {
        t.Fatalf("expected last fragment of burst, got %+v", pos)
    }
}

func TestStopAbortsDebounce(t *testing.T) {
    var updates atomic.Int32
    m := store.NewMemory()
    ing := New(20*time.Millisecond, func(model.Position) { updates.Add(1) })
    ing.Start(m)
    m.PublishFragment(model.PositionFragment{Lat: f64(28.6), Lng: f64(77.2)})
    ing.Stop()
    // Neither the pending timer nor later fragments may fire the callback.
    m.PublishFragment(model.PositionFragment{Lat: f64(28.7), Lng: f64(77.3)})
    time.Sleep(50 * time.Millisecond)
    if n := updates.Load(); n != 0 {
        t.Fatalf("callback fired after Stop: %d", n)
    }
}

func TestSpeedCarriedThrough(t *testing.T) {
    ing := New(0, nil)
    ing.Ingest(model.PositionFragment{Lat: f64(28.6), Lng: f64(77.2), SpeedKmh: f64(31.5)})
    pos := ing.Latest()
    if pos == nil || pos.SpeedKmh != 31.5 {
        t.Fatalf("speed lost: %+v", pos)
    }
}
