package engine

import (
    "context"
    "time"

    "stoptrack/internal/store"
)

// retryTransient runs fn up to attempts times, doubling the pause after
// each transient failure. Non-transient errors return immediately.
func retryTransient(ctx context.Context, attempts int, fn func(context.Context) error) error {
    if attempts < 1 { attempts = 1 }
    var err error
    for i := 0; i < attempts; i++ {
        if i > 0 {
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-time.After(nextBackoff(i - 1)):
            }
        }
        err = fn(ctx)
        if err == nil || !store.IsTransient(err) {
            return err
        }
    }
    return err
}

func nextBackoff(attempt int) time.Duration {
    if attempt < 0 { attempt = 0 }
    if attempt > 5 { attempt = 5 }
    d := 200 * time.Millisecond * time.Duration(1<<attempt)
    if d > 5*time.Second { d = 5 * time.Second }
    return d
}
