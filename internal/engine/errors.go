package engine

import (
    "errors"
    "fmt"
)

// ErrQuotaExceeded signals a write skipped by the governor. Not a failure:
// the stop stays unreached in the cache and the next cycle re-attempts.
var ErrQuotaExceeded = errors.New("quota exceeded")

// BatchCommitError reports a failed reorder or reset batch. The in-memory
// registry has already been rolled back to the pre-transition snapshot when
// this is returned.
type BatchCommitError struct {
    Op  string
    Err error
}

func (e *BatchCommitError) Error() string { return fmt.Sprintf("%s batch commit failed: %v", e.Op, e.Err) }
func (e *BatchCommitError) Unwrap() error { return e.Err }

// StartupError is fatal: the engine could not obtain an initial stop set.
type StartupError struct {
    Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("engine startup failed: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }
