// Package store defines the remote-store interface the engine runs against
// and its Postgres/Redis and in-memory implementations.
package store

import (
    "context"
    "errors"
    "fmt"

    "stoptrack/internal/model"
)

// MaxBatch is the provider bound on entries per batch commit. Callers must
// chunk larger sets.
const MaxBatch = 500

// StopWrite is one entry of a batched stop update. Fields uses the keys
// "serial" (int), "reached" (bool) and "reachedAt" (*time.Time, nil clears).
type StopWrite struct {
    ID     string
    Fields map[string]any
}

// Store is the narrow remote-store surface consumed by the engine. The
// subscription methods return explicit unsubscribe handles; no callback
// fires after the handle is invoked.
type Store interface {
    ReadAllStops(ctx context.Context) ([]model.Stop, error)
    ReadStop(ctx context.Context, id string) (model.Stop, error)
    WriteStopFields(ctx context.Context, id string, fields map[string]any) error
    BatchWrite(ctx context.Context, writes []StopWrite) error

    SubscribePosition(onFragment func(model.PositionFragment)) (unsubscribe func())
    SubscribeStops(onChange func()) (unsubscribe func())

    ReadMarker(ctx context.Context, key string) (string, error)
    WriteMarker(ctx context.Context, key, value string) error
}

var ErrNotFound = errors.New("not found")

// TransientError marks a network/timeout class failure; the engine retries
// these with backoff and otherwise falls back to the stale cache for reads.
type TransientError struct {
    Op  string
    Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
    var te *TransientError
    return errors.As(err, &te)
}
