package store

import (
    "context"

    "stoptrack/internal/model"
)

// Remote composes the Postgres document store with the Redis push feeds
// into the full Store surface. Writes ping stops:changed so redundant
// service variants invalidate their caches.
type Remote struct {
    pg   *Postgres
    feed *RedisFeed
}

func NewRemote(pg *Postgres, feed *RedisFeed) *Remote {
    return &Remote{pg: pg, feed: feed}
}

// Ping delegates to the document store for readiness checks.
func (r *Remote) Ping(ctx context.Context) error { return r.pg.Ping(ctx) }

func (r *Remote) ReadAllStops(ctx context.Context) ([]model.Stop, error) {
    return r.pg.ReadAllStops(ctx)
}

func (r *Remote) ReadStop(ctx context.Context, id string) (model.Stop, error) {
    return r.pg.ReadStop(ctx, id)
}

func (r *Remote) WriteStopFields(ctx context.Context, id string, fields map[string]any) error {
    if err := r.pg.WriteStopFields(ctx, id, fields); err != nil {
        return err
    }
    if r.feed != nil { r.feed.NotifyStopsChanged() }
    return nil
}

func (r *Remote) BatchWrite(ctx context.Context, writes []StopWrite) error {
    if err := r.pg.BatchWrite(ctx, writes); err != nil {
        return err
    }
    if r.feed != nil { r.feed.NotifyStopsChanged() }
    return nil
}

func (r *Remote) SubscribePosition(onFragment func(model.PositionFragment)) func() {
    if r.feed == nil { return func() {} }
    return r.feed.SubscribePosition(onFragment)
}

func (r *Remote) SubscribeStops(onChange func()) func() {
    if r.feed == nil { return func() {} }
    return r.feed.SubscribeStops(onChange)
}

func (r *Remote) ReadMarker(ctx context.Context, key string) (string, error) {
    return r.pg.ReadMarker(ctx, key)
}

func (r *Remote) WriteMarker(ctx context.Context, key, value string) error {
    return r.pg.WriteMarker(ctx, key, value)
}
