package store

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    "stoptrack/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set and by
// tests. Subscriptions fan out in-process.
type Memory struct {
    mu      sync.Mutex
    stops   map[string]model.Stop
    markers map[string]string

    posSubs  map[string]func(model.PositionFragment)
    stopSubs map[string]func()

    writes     int
    failWrites int
    failReads  bool
}

func NewMemory() *Memory {
    return &Memory{
        stops:    map[string]model.Stop{},
        markers:  map[string]string{},
        posSubs:  map[string]func(model.PositionFragment){},
        stopSubs: map[string]func(){},
    }
}

func (m *Memory) ReadAllStops(ctx context.Context) ([]model.Stop, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.failReads {
        return nil, &TransientError{Op: "readAllStops", Err: fmt.Errorf("injected failure")}
    }
    out := make([]model.Stop, 0, len(m.stops))
    for _, s := range m.stops { out = append(out, s) }
    return out, nil
}

func (m *Memory) ReadStop(ctx context.Context, id string) (model.Stop, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.failReads {
        return model.Stop{}, &TransientError{Op: "readStop", Err: fmt.Errorf("injected failure")}
    }
    s, ok := m.stops[id]
    if !ok { return model.Stop{}, ErrNotFound }
    return s, nil
}

func (m *Memory) WriteStopFields(ctx context.Context, id string, fields map[string]any) error {
    m.mu.Lock()
    if m.failWrites > 0 {
        m.failWrites--
        m.mu.Unlock()
        return &TransientError{Op: "writeStopFields", Err: fmt.Errorf("injected failure")}
    }
    s, ok := m.stops[id]
    if !ok { m.mu.Unlock(); return ErrNotFound }
    applyFields(&s, fields)
    m.stops[id] = s
    m.writes++
    m.mu.Unlock()
    m.notifyStops()
    return nil
}

func (m *Memory) BatchWrite(ctx context.Context, writes []StopWrite) error {
    if len(writes) > MaxBatch {
        return fmt.Errorf("batch of %d exceeds provider max %d", len(writes), MaxBatch)
    }
    m.mu.Lock()
    if m.failWrites > 0 {
        m.failWrites--
        m.mu.Unlock()
        return &TransientError{Op: "batchWrite", Err: fmt.Errorf("injected failure")}
    }
    // validate first so the commit is all-or-nothing
    for _, w := range writes {
        if _, ok := m.stops[w.ID]; !ok { m.mu.Unlock(); return ErrNotFound }
    }
    for _, w := range writes {
        s := m.stops[w.ID]
        applyFields(&s, w.Fields)
        m.stops[w.ID] = s
    }
    m.writes++
    m.mu.Unlock()
    m.notifyStops()
    return nil
}

func applyFields(s *model.Stop, fields map[string]any) {
    if v, ok := fields["serial"]; ok {
        if n, ok := v.(int); ok { s.Serial = n }
    }
    if v, ok := fields["reached"]; ok {
        if b, ok := v.(bool); ok { s.Reached = b }
    }
    if v, ok := fields["reachedAt"]; ok {
        if ts, ok := v.(*time.Time); ok { s.ReachedAt = ts } else { s.ReachedAt = nil }
    }
}

func (m *Memory) SubscribePosition(onFragment func(model.PositionFragment)) func() {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    m.posSubs[id] = onFragment
    return func() {
        m.mu.Lock(); defer m.mu.Unlock()
        delete(m.posSubs, id)
    }
}

func (m *Memory) SubscribeStops(onChange func()) func() {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    m.stopSubs[id] = onChange
    return func() {
        m.mu.Lock(); defer m.mu.Unlock()
        delete(m.stopSubs, id)
    }
}

func (m *Memory) ReadMarker(ctx context.Context, key string) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.markers[key]
    if !ok { return "", ErrNotFound }
    return v, nil
}

func (m *Memory) WriteMarker(ctx context.Context, key, value string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.failWrites > 0 {
        m.failWrites--
        return &TransientError{Op: "writeMarker", Err: fmt.Errorf("injected failure")}
    }
    m.markers[key] = value
    m.writes++
    return nil
}

// SeedStops replaces the stop set; test/dev helper.
func (m *Memory) SeedStops(stops []model.Stop) {
    m.mu.Lock(); defer m.mu.Unlock()
    m.stops = map[string]model.Stop{}
    for _, s := range stops { m.stops[s.ID] = s }
}

// PublishFragment fans a position fragment out to subscribers.
func (m *Memory) PublishFragment(frag model.PositionFragment) {
    m.mu.Lock()
    subs := make([]func(model.PositionFragment), 0, len(m.posSubs))
    for _, fn := range m.posSubs { subs = append(subs, fn) }
    m.mu.Unlock()
    for _, fn := range subs { fn(frag) }
}

func (m *Memory) notifyStops() {
    m.mu.Lock()
    subs := make([]func(), 0, len(m.stopSubs))
    for _, fn := range m.stopSubs { subs = append(subs, fn) }
    m.mu.Unlock()
    for _, fn := range subs { fn() }
}

// WriteCount returns the number of remote write operations performed.
func (m *Memory) WriteCount() int {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.writes
}

// FailNextWrites makes the next n writes fail with a TransientError.
func (m *Memory) FailNextWrites(n int) {
    m.mu.Lock(); defer m.mu.Unlock()
    m.failWrites = n
}

// FailReads toggles read failures.
func (m *Memory) FailReads(fail bool) {
    m.mu.Lock(); defer m.mu.Unlock()
    m.failReads = fail
}
