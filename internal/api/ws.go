package api

import (
    "net/http"
    "time"

    "github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsFrame struct {
    Topic string         `json:"topic"`
    Type  string         `json:"type"`
    Data  map[string]any `json:"data,omitempty"`
}

// WSHandler handles GET /v1/ws: a combined WebSocket stream of position
// fixes and stop events. Dashboards use this instead of polling.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    stopCh := s.Broker.Subscribe(TopicStops)
    defer s.Broker.Unsubscribe(TopicStops, stopCh)
    posCh := s.Broker.Subscribe(TopicPosition)
    defer s.Broker.Unsubscribe(TopicPosition, posCh)

    conn.SetReadLimit(1 << 20)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    done := make(chan struct{})
    // Read loop exists only to notice disconnects and answer pings.
    go func() {
        defer close(done)
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    }()

    ping := time.NewTicker(20 * time.Second)
    defer ping.Stop()
    for {
        select {
        case <-done:
            return
        case <-r.Context().Done():
            return
        case evt, open := <-stopCh:
            if !open { return }
            if err := conn.WriteJSON(wsFrame{Topic: TopicStops, Type: evt.Type, Data: evt.Data}); err != nil { return }
        case evt, open := <-posCh:
            if !open { return }
            if err := conn.WriteJSON(wsFrame{Topic: TopicPosition, Type: evt.Type, Data: evt.Data}); err != nil { return }
        case <-ping.C:
            if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil { return }
        }
    }
}
