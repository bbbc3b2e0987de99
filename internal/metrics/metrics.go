package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Cycles counts detection cycles by outcome
    Cycles = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "detection_cycles_total", Help: "Detection cycles by outcome."},
        []string{"outcome"},
    )
    // CycleDuration records detection cycle durations in seconds
    CycleDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "detection_cycle_duration_seconds", Help: "Detection cycle duration in seconds.", Buckets: []float64{.005, .01, .05, .1, .5, 1, 2, 5}},
    )
    // RemoteWrites counts committed remote mutations by kind
    RemoteWrites = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "remote_writes_total", Help: "Remote store writes by kind."},
        []string{"kind"},
    )
    // QuotaDenied counts writes skipped by the quota governor
    QuotaDenied = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "quota_denied_total", Help: "Writes skipped by the quota governor."},
    )
    // Arrivals counts stop arrivals detected
    Arrivals = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "arrivals_total", Help: "Stop arrivals detected."},
    )
    // Reorders counts completed serial reorders
    Reorders = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "reorders_total", Help: "Completed terminal-stop reorders."},
    )
    // DailyResets counts completed daily resets
    DailyResets = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "daily_resets_total", Help: "Completed daily resets."},
    )
    // RegistryStale is 1 while the stop cache serves a stale snapshot
    RegistryStale = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "registry_stale", Help: "1 while the stop cache is stale."},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Cycles)
        Registry.MustRegister(CycleDuration)
        Registry.MustRegister(RemoteWrites)
        Registry.MustRegister(QuotaDenied)
        Registry.MustRegister(Arrivals)
        Registry.MustRegister(Reorders)
        Registry.MustRegister(DailyResets)
        Registry.MustRegister(RegistryStale)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
