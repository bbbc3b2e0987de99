package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "stoptrack/internal/api"
    "stoptrack/internal/config"
    "stoptrack/internal/engine"
    "stoptrack/internal/model"
    "stoptrack/internal/store"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
    if err != nil {
        log.Fatalf("config: %v", err)
    }

    st, err := buildStore(cfg)
    if err != nil {
        log.Fatalf("store init: %v", err)
    }

    broker := buildBroker(cfg)

    var srv *api.Server
    eng := engine.New(cfg.Tuning, st, func(evt engine.Event) { srv.PublishEngineEvent(evt) })
    srv = api.NewServer(cfg, st, eng, broker)

    // Mirror raw position fragments onto the websocket/SSE position topic.
    unsubPos := st.SubscribePosition(func(frag model.PositionFragment) {
        data := map[string]any{"ts": frag.TS}
        if frag.Lat != nil { data["lat"] = *frag.Lat }
        if frag.Lng != nil { data["lng"] = *frag.Lng }
        if frag.SpeedKmh != nil { data["speedKmh"] = *frag.SpeedKmh }
        broker.Publish(api.TopicPosition, api.SSEEvent{Type: "position.updated", Data: data})
    })
    defer unsubPos()

    if err := eng.Start(context.Background()); err != nil {
        var se *engine.StartupError
        if errors.As(err, &se) {
            log.Fatalf("engine start: remote store unreachable: %v", err)
        }
        log.Fatalf("engine start: %v", err)
    }
    defer eng.Stop()

    httpSrv := &http.Server{
        Addr:              cfg.Addr,
        Handler:           logMiddleware(srv.Handler()),
        ReadHeaderTimeout: 5 * time.Second,
    }

    go func() {
        log.Printf("API listening on %s (preset=%s)", cfg.Addr, cfg.Preset)
        if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalf("server error: %v", err)
        }
    }()

    stop := make(chan os.Signal, 1)
    signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
    <-stop
    log.Printf("shutting down")
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = httpSrv.Shutdown(ctx)
}

// buildStore selects the backend: Postgres plus the Redis feeds when
// DATABASE_URL is set, in-memory otherwise.
func buildStore(cfg config.Config) (store.Store, error) {
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        log.Printf("no DATABASE_URL, using in-memory store")
        return store.NewMemory(), nil
    }
    pg, err := store.NewPostgres(cfg.DatabaseURL)
    if err != nil {
        return nil, err
    }
    if os.Getenv("DB_MIGRATE") != "false" {
        ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := pg.Migrate(ctx); err != nil {
            return nil, err
        }
    }
    var feed *store.RedisFeed
    if cfg.RedisURL != "" {
        feed, err = store.NewRedisFeed(cfg.RedisURL)
        if err != nil {
            return nil, err
        }
    }
    return store.NewRemote(pg, feed), nil
}

func buildBroker(cfg config.Config) api.EventBroker {
    if cfg.RedisURL != "" {
        if rb, err := api.NewRedisBroker(cfg.RedisURL); err == nil {
            return rb
        } else {
            log.Printf("redis broker unavailable, falling back to in-memory: %v", err)
        }
    }
    return api.NewBroker()
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        dur := time.Since(start)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}
