package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "time"

    "stoptrack/internal/buildinfo"
    "stoptrack/internal/engine"
    "stoptrack/internal/geo"
    "stoptrack/internal/model"
)

// StopsHandler handles GET /v1/stops: the cached snapshot in serial order.
func (s *Server) StopsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    st := s.Engine.Status()
    writeJSON(w, http.StatusOK, map[string]any{
        "items":       s.Engine.Stops(),
        "lastRefresh": st.LastRefresh,
        "stale":       st.StaleCache,
    })
}

// PositionHandler handles /v1/position.
// GET returns the latest fix plus direction and the bearing/distance to the
// next unreached stop. POST ingests a raw fragment (local feeds without the
// Redis channel).
func (s *Server) PositionHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        pos := s.Engine.Latest()
        if pos == nil {
            writeProblem(w, http.StatusNotFound, "No Position", "no complete fix received yet", r.URL.Path)
            return
        }
        st := s.Engine.Status()
        out := map[string]any{"position": pos, "direction": st.Direction}
        if next, ok := nextUnreached(s.Engine.Stops()); ok {
            dist, derr := geo.DistanceMeters(pos.Lat, pos.Lng, next.Lat, next.Lng)
            brg, berr := geo.BearingDegrees(pos.Lat, pos.Lng, next.Lat, next.Lng)
            if derr == nil && berr == nil {
                out["nextStop"] = map[string]any{"id": next.ID, "serial": next.Serial, "distanceMeters": dist, "bearingDegrees": brg}
            }
        }
        writeJSON(w, http.StatusOK, out)
    case http.MethodPost:
        var frag model.PositionFragment
        if err := json.NewDecoder(r.Body).Decode(&frag); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        s.Engine.Ingest(frag)
        writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func nextUnreached(stops []model.Stop) (model.Stop, bool) {
    for _, st := range stops {
        if !st.Reached { return st, true }
    }
    return model.Stop{}, false
}

// EngineStatusHandler handles GET /v1/engine/status.
func (s *Server) EngineStatusHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    writeJSON(w, http.StatusOK, s.Engine.Status())
}

// AdminRefreshHandler handles POST /v1/admin/refresh: reload the stop cache
// ignoring the TTL.
func (s *Server) AdminRefreshHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if !s.requireAdmin(w, r) { return }
    if err := s.Engine.ForceRefresh(r.Context()); err != nil {
        writeProblem(w, http.StatusBadGateway, "Refresh failed", err.Error(), r.URL.Path)
        return
    }
    st := s.Engine.Status()
    writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed", "lastRefresh": st.LastRefresh})
}

// AdminResetHandler handles POST /v1/admin/reset: run the serial reset now.
// The daily marker is untouched.
func (s *Server) AdminResetHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if !s.requireAdmin(w, r) { return }
    if err := s.Engine.ForceReset(r.Context()); err != nil {
        if errors.Is(err, engine.ErrQuotaExceeded) {
            writeProblem(w, http.StatusTooManyRequests, "Quota Exceeded", "write quota exhausted, retry next window", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusBadGateway, "Reset failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// StopsStreamHandler handles GET /v1/stops/stream: SSE of stop-change and
// cycle events.
func (s *Server) StopsStreamHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok {
        writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
        return
    }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(TopicStops)
    defer s.Broker.Unsubscribe(TopicStops, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt, open := <-ch:
            if !open { return }
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{
        "status": "ok",
        "uptime": time.Since(s.StartedAt).Round(time.Second).String(),
        "build":  buildinfo.Info(),
    })
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check store connectivity when the backend supports it
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// PingHandler is the keep-alive target for external uptime pingers.
func (s *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
    w.WriteHeader(http.StatusNoContent)
}
