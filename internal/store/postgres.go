package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    _ "github.com/jackc/pgx/v5/stdlib"

    "stoptrack/internal/model"
)

// Postgres persists stops and markers. It carries no push feeds; Remote
// composes it with a RedisFeed for those.
type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// Ping checks connectivity; the readiness endpoint uses it.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the schema if missing (dev helper).
func (p *Postgres) Migrate(ctx context.Context) error {
    _, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS stops (
    id TEXT PRIMARY KEY,
    lat DOUBLE PRECISION NOT NULL,
    lng DOUBLE PRECISION NOT NULL,
    seq INT NOT NULL,
    serial INT NOT NULL,
    reached BOOLEAN NOT NULL DEFAULT FALSE,
    reached_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS markers (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`)
    return err
}

func (p *Postgres) ReadAllStops(ctx context.Context) ([]model.Stop, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, lat, lng, seq, serial, reached, reached_at FROM stops ORDER BY serial`)
    if err != nil { return nil, &TransientError{Op: "readAllStops", Err: err} }
    defer rows.Close()
    out := []model.Stop{}
    for rows.Next() {
        s, err := scanStop(rows)
        if err != nil { return nil, &TransientError{Op: "readAllStops", Err: err} }
        out = append(out, s)
    }
    if err := rows.Err(); err != nil {
        return nil, &TransientError{Op: "readAllStops", Err: err}
    }
    return out, nil
}

func (p *Postgres) ReadStop(ctx context.Context, id string) (model.Stop, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id, lat, lng, seq, serial, reached, reached_at FROM stops WHERE id=$1`, id)
    s, err := scanStop(row)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Stop{}, ErrNotFound }
        return model.Stop{}, &TransientError{Op: "readStop", Err: err}
    }
    return s, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanStop(sc scanner) (model.Stop, error) {
    var s model.Stop
    var reachedAt sql.NullTime
    if err := sc.Scan(&s.ID, &s.Lat, &s.Lng, &s.Seq, &s.Serial, &s.Reached, &reachedAt); err != nil {
        return model.Stop{}, err
    }
    if reachedAt.Valid {
        t := reachedAt.Time
        s.ReachedAt = &t
    }
    return s, nil
}

func (p *Postgres) WriteStopFields(ctx context.Context, id string, fields map[string]any) error {
    set, args := buildSet(fields)
    if set == "" { return nil }
    args = append(args, id)
    res, err := p.db.ExecContext(ctx, fmt.Sprintf(`UPDATE stops SET %s WHERE id=$%d`, set, len(args)), args...)
    if err != nil { return &TransientError{Op: "writeStopFields", Err: err} }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// BatchWrite applies all entries in one transaction; all-or-nothing.
func (p *Postgres) BatchWrite(ctx context.Context, writes []StopWrite) error {
    if len(writes) > MaxBatch {
        return fmt.Errorf("batch of %d exceeds provider max %d", len(writes), MaxBatch)
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return &TransientError{Op: "batchWrite", Err: err} }
    defer func(){ _ = tx.Rollback() }()
    for _, w := range writes {
        set, args := buildSet(w.Fields)
        if set == "" { continue }
        args = append(args, w.ID)
        res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE stops SET %s WHERE id=$%d`, set, len(args)), args...)
        if err != nil { return &TransientError{Op: "batchWrite", Err: err} }
        if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    }
    if err := tx.Commit(); err != nil {
        return &TransientError{Op: "batchWrite", Err: err}
    }
    return nil
}

func buildSet(fields map[string]any) (string, []any) {
    cols := []string{}
    args := []any{}
    add := func(col string, v any) {
        args = append(args, v)
        cols = append(cols, fmt.Sprintf("%s=$%d", col, len(args)))
    }
    if v, ok := fields["serial"]; ok { add("serial", v) }
    if v, ok := fields["reached"]; ok { add("reached", v) }
    if v, ok := fields["reachedAt"]; ok {
        if ts, ok := v.(*time.Time); ok && ts != nil { add("reached_at", *ts) } else { add("reached_at", nil) }
    }
    return strings.Join(cols, ", "), args
}

// SubscribePosition is served by the Redis feed; Postgres has no push path.
func (p *Postgres) SubscribePosition(func(model.PositionFragment)) func() { return func() {} }

// SubscribeStops is served by the Redis feed; Postgres has no push path.
func (p *Postgres) SubscribeStops(func()) func() { return func() {} }

func (p *Postgres) ReadMarker(ctx context.Context, key string) (string, error) {
    var v string
    err := p.db.QueryRowContext(ctx, `SELECT value FROM markers WHERE key=$1`, key).Scan(&v)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return "", ErrNotFound }
        return "", &TransientError{Op: "readMarker", Err: err}
    }
    return v, nil
}

func (p *Postgres) WriteMarker(ctx context.Context, key, value string) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO markers (key, value) VALUES ($1,$2) ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`, key, value)
    if err != nil { return &TransientError{Op: "writeMarker", Err: err} }
    return nil
}

// SeedStops inserts or replaces the stop set (import/dev helper).
func (p *Postgres) SeedStops(ctx context.Context, stops []model.Stop) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    for _, s := range stops {
        var reachedAt any
        if s.ReachedAt != nil { reachedAt = *s.ReachedAt }
        _, err := tx.ExecContext(ctx, `INSERT INTO stops (id, lat, lng, seq, serial, reached, reached_at) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET lat=EXCLUDED.lat, lng=EXCLUDED.lng, seq=EXCLUDED.seq, serial=EXCLUDED.serial, reached=EXCLUDED.reached, reached_at=EXCLUDED.reached_at`,
            s.ID, s.Lat, s.Lng, s.Seq, s.Serial, s.Reached, reachedAt)
        if err != nil { return err }
    }
    return tx.Commit()
}
