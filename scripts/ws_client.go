// Package main runs a demo WebSocket client: it feeds a short position
// trace into the API and prints the stop/position events streamed back.
package main

import (
    "fmt"
    "log"
    "net/http"
    "net/url"
    "os"
    "strings"
    "time"

    "github.com/gorilla/websocket"
)

type wsFrame struct {
    Topic string         `json:"topic"`
    Type  string         `json:"type"`
    Data  map[string]any `json:"data,omitempty"`
}

func main() {
    port := os.Getenv("PORT")
    if port == "" {
        port = "8080"
    }
    base := fmt.Sprintf("http://localhost:%s", port)

    u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
    c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
    if err != nil {
        log.Fatal(err)
    }
    defer func() { _ = c.Close() }()
    log.Printf("connected to %s", u.String())

    go func() {
        // walk the vehicle toward the first stop
        trace := []string{
            `{"lat":28.6100,"lng":77.2050}`,
            `{"lat":28.6120,"lng":77.2070}`,
            `{"lat":28.6139,"lng":77.2090}`,
        }
        for _, p := range trace {
            time.Sleep(2 * time.Second)
            resp, err := http.Post(base+"/v1/position", "application/json", strings.NewReader(p))
            if err != nil {
                log.Printf("post position: %v", err)
                continue
            }
            _ = resp.Body.Close()
            log.Printf("sent %s", p)
        }
    }()

    for {
        var f wsFrame
        if err := c.ReadJSON(&f); err != nil {
            log.Fatalf("read: %v", err)
        }
        log.Printf("[%s] %s %v", f.Topic, f.Type, f.Data)
    }
}
