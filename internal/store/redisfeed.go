package store

import (
    "context"
    "encoding/json"
    "time"

    redis "github.com/redis/go-redis/v9"

    "stoptrack/internal/model"
)

const (
    positionChannel = "vehicle:position"
    stopsChannel    = "stops:changed"
)

// RedisFeed carries the push side of the remote store over Redis Pub/Sub:
// raw position fragments on vehicle:position and change pings on
// stops:changed.
type RedisFeed struct {
    rdb *redis.Client
}

func NewRedisFeed(url string) (*RedisFeed, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisFeed{rdb: redis.NewClient(opt)}, nil
}

func (f *RedisFeed) SubscribePosition(onFragment func(model.PositionFragment)) func() {
    ctx := context.Background()
    ps := f.rdb.Subscribe(ctx, positionChannel)
    // initial consume to ensure subscription
    _, _ = ps.Receive(ctx)
    go func() {
        for msg := range ps.Channel() {
            var frag model.PositionFragment
            if err := json.Unmarshal([]byte(msg.Payload), &frag); err == nil {
                if frag.TS.IsZero() { frag.TS = time.Now().UTC() }
                onFragment(frag)
            }
        }
    }()
    return func() { _ = ps.Close() }
}

func (f *RedisFeed) SubscribeStops(onChange func()) func() {
    ctx := context.Background()
    ps := f.rdb.Subscribe(ctx, stopsChannel)
    _, _ = ps.Receive(ctx)
    go func() {
        for range ps.Channel() {
            onChange()
        }
    }()
    return func() { _ = ps.Close() }
}

// NotifyStopsChanged pings peer service variants that the stop set moved.
func (f *RedisFeed) NotifyStopsChanged() {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    _ = f.rdb.Publish(ctx, stopsChannel, "1").Err()
}

// PublishFragment feeds a position fragment into the channel (feeder/dev tooling).
func (f *RedisFeed) PublishFragment(frag model.PositionFragment) error {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(frag)
    if err != nil { return err }
    return f.rdb.Publish(ctx, positionChannel, data).Err()
}
