// Package api is the thin HTTP facade over the tracking engine: read-only
// snapshots, a couple of admin actions and the event streams.
package api

import (
    "bufio"
    "net"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "golang.org/x/time/rate"

    "stoptrack/internal/config"
    "stoptrack/internal/engine"
    "stoptrack/internal/metrics"
    "stoptrack/internal/store"
)

type Server struct {
    Store      store.Store
    Engine     *engine.Engine
    Broker     EventBroker
    AdminToken string
    StartedAt  time.Time

    limiter *rate.Limiter
}

// NewServer wires the facade. The broker should be the same one the engine
// publishes into (see PublishEngineEvent).
func NewServer(cfg config.Config, st store.Store, eng *engine.Engine, broker EventBroker) *Server {
    return &Server{
        Store:      st,
        Engine:     eng,
        Broker:     broker,
        AdminToken: cfg.AdminToken,
        StartedAt:  time.Now(),
        limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
    }
}

// PublishEngineEvent is the engine's event sink; pass it to engine.New.
func (s *Server) PublishEngineEvent(evt engine.Event) {
    s.Broker.Publish(TopicStops, SSEEvent{ID: evt.ID, Type: evt.Type, Data: evt.Data})
}

// requireAdmin guards the admin endpoints: a shared-token bearer check when
// ADMIN_TOKEN is configured, behind a small rate limit.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
    if !s.limiter.Allow() {
        writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "admin rate limit", r.URL.Path)
        return false
    }
    if s.AdminToken == "" {
        return true
    }
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if tok == s.AdminToken { return true }
    }
    writeProblem(w, http.StatusUnauthorized, "Unauthorized", "admin token required", r.URL.Path)
    return false
}

// Handler builds the route table wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
    metrics.RegisterDefault()
    mux := http.NewServeMux()

    mux.HandleFunc("/v1/stops", s.StopsHandler)
    mux.HandleFunc("/v1/stops/stream", s.StopsStreamHandler)
    mux.HandleFunc("/v1/position", s.PositionHandler)
    mux.HandleFunc("/v1/engine/status", s.EngineStatusHandler)

    mux.HandleFunc("/v1/admin/refresh", s.AdminRefreshHandler)
    mux.HandleFunc("/v1/admin/reset", s.AdminResetHandler)

    mux.HandleFunc("/v1/ws", s.WSHandler)

    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.HandleFunc("/ping", s.PingHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    return instrument(mux)
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the SSE stream working through the middleware wrapper.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack keeps the WebSocket upgrade working through the middleware wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    if hj, ok := r.ResponseWriter.(http.Hijacker); ok { return hj.Hijack() }
    return nil, nil, http.ErrNotSupported
}

func instrument(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
    })
}
