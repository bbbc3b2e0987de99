package engine

import (
    "sync"
    "time"
)

// QuotaGovernor enforces the rolling-hour write budget. Denial does not
// mutate state and nothing is queued; denied work re-attempts naturally on
// a later cycle.
type QuotaGovernor struct {
    mu          sync.Mutex
    max         int
    count       int
    windowStart time.Time
    now         func() time.Time
}

func NewQuotaGovernor(maxPerHour int) *QuotaGovernor {
    return &QuotaGovernor{max: maxPerHour, now: time.Now}
}

// TryConsume requests n operations from the current window. A max of zero
// or less disables the governor.
func (g *QuotaGovernor) TryConsume(n int) bool {
    if g.max <= 0 {
        return true
    }
    g.mu.Lock(); defer g.mu.Unlock()
    now := g.now()
    if g.windowStart.IsZero() || now.Sub(g.windowStart) > time.Hour {
        g.count = 0
        g.windowStart = now
    }
    if g.count+n > g.max {
        return false
    }
    g.count += n
    return true
}

// Window reports the current window for observability.
func (g *QuotaGovernor) Window() (count int, windowStart time.Time, max int) {
    g.mu.Lock(); defer g.mu.Unlock()
    return g.count, g.windowStart, g.max
}
