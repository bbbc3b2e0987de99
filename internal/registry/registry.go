// Package registry holds the in-memory stop cache synchronized with the
// remote store.
package registry

import (
    "context"
    "log"
    "sort"
    "sync"
    "time"

    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

// Registry is a read-through TTL cache over the remote stop set. A failed
// refresh keeps serving the previous snapshot; refreshes swap the whole map
// and never mutate it incrementally. Mutations happen only from the engine's
// single active cycle.
type Registry struct {
    store store.Store

    mu          sync.Mutex
    stops       map[string]model.Stop
    lastRefresh time.Time
    stale       bool
    invalidated bool

    now func() time.Time
}

func New(s store.Store) *Registry {
    return &Registry{store: s, stops: map[string]model.Stop{}, now: time.Now}
}

// Load reloads the full stop set from the remote store, read-then-swap.
func (r *Registry) Load(ctx context.Context) error {
    stops, err := r.store.ReadAllStops(ctx)
    if err != nil {
        r.mu.Lock()
        r.stale = true
        r.mu.Unlock()
        return err
    }
    next := make(map[string]model.Stop, len(stops))
    for _, s := range stops { next[s.ID] = s }
    r.mu.Lock()
    r.stops = next
    r.lastRefresh = r.now()
    r.stale = false
    r.invalidated = false
    r.mu.Unlock()
    return nil
}

// EnsureFresh reloads when the cache is older than ttl or a remote change
// ping invalidated it. Bounded to one retry; on failure it logs and keeps
// the stale snapshot.
func (r *Registry) EnsureFresh(ctx context.Context, ttl time.Duration) error {
    r.mu.Lock()
    fresh := !r.invalidated && r.now().Sub(r.lastRefresh) <= ttl
    r.mu.Unlock()
    if fresh {
        return nil
    }
    err := r.Load(ctx)
    if err != nil && store.IsTransient(err) {
        err = r.Load(ctx)
    }
    if err != nil {
        log.Printf("registry: refresh failed, serving stale cache: %v", err)
        return err
    }
    return nil
}

// Invalidate marks the cache dirty. Called from the remote change
// subscription; the reload itself happens at the next cycle boundary, never
// while a cycle holds the registry.
func (r *Registry) Invalidate() {
    r.mu.Lock()
    r.invalidated = true
    r.mu.Unlock()
}

// Snapshot returns the cached stops ordered by serial.
func (r *Registry) Snapshot() []model.Stop {
    r.mu.Lock()
    out := make([]model.Stop, 0, len(r.stops))
    for _, s := range r.stops { out = append(out, s) }
    r.mu.Unlock()
    sort.Slice(out, func(i, j int) bool {
        if out[i].Serial != out[j].Serial { return out[i].Serial < out[j].Serial }
        return out[i].ID < out[j].ID
    })
    return out
}

func (r *Registry) Get(id string) (model.Stop, bool) {
    r.mu.Lock(); defer r.mu.Unlock()
    s, ok := r.stops[id]
    return s, ok
}

// HighestSerialStop returns the terminal stop. Serial ties break toward the
// lexicographically smallest ID so a duplicate in the source data cannot
// make the choice flap.
func (r *Registry) HighestSerialStop() (model.Stop, bool) {
    r.mu.Lock(); defer r.mu.Unlock()
    var best model.Stop
    found := false
    for _, s := range r.stops {
        if !found || s.Serial > best.Serial || (s.Serial == best.Serial && s.ID < best.ID) {
            best = s
            found = true
        }
    }
    return best, found
}

// LastRefresh reports the time of the last successful reload and whether the
// cache is currently stale.
func (r *Registry) LastRefresh() (time.Time, bool) {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.lastRefresh, r.stale
}

func (r *Registry) Len() int {
    r.mu.Lock(); defer r.mu.Unlock()
    return len(r.stops)
}

// MarkReached commits a single-stop arrival and mirrors it into the cache.
func (r *Registry) MarkReached(ctx context.Context, id string, at time.Time) error {
    fields := map[string]any{"reached": true, "reachedAt": &at}
    if err := r.store.WriteStopFields(ctx, id, fields); err != nil {
        return err
    }
    r.mu.Lock()
    if s, ok := r.stops[id]; ok {
        s.Reached = true
        s.ReachedAt = &at
        r.stops[id] = s
    }
    r.mu.Unlock()
    return nil
}

// CommitBatch writes a multi-stop transition (reorder or reset), chunked to
// the provider batch bound, and swaps the cache to next only after every
// chunk lands. On failure the cache keeps the pre-transition snapshot.
func (r *Registry) CommitBatch(ctx context.Context, writes []store.StopWrite, next []model.Stop) error {
    for start := 0; start < len(writes); start += store.MaxBatch {
        end := start + store.MaxBatch
        if end > len(writes) { end = len(writes) }
        if err := r.store.BatchWrite(ctx, writes[start:end]); err != nil {
            return err
        }
    }
    replace := make(map[string]model.Stop, len(next))
    for _, s := range next { replace[s.ID] = s }
    r.mu.Lock()
    r.stops = replace
    r.mu.Unlock()
    return nil
}

// BatchOps returns the number of remote batch calls a commit of n entries
// costs, for quota accounting.
func BatchOps(n int) int {
    if n <= 0 { return 0 }
    return (n + store.MaxBatch - 1) / store.MaxBatch
}
