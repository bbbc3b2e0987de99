// Package config loads service configuration from an optional YAML file,
// environment overrides, and named tuning presets.
package config

import (
    "fmt"
    "os"
    "strconv"
    "time"

    yaml "gopkg.in/yaml.v3"
)

// Tuning holds the engine knobs. The upstream deployments ran several
// near-identical service variants differing only in these values; they are
// presets here, not code paths.
type Tuning struct {
    RadiusMeters       float64
    DebounceWindow     time.Duration
    CycleInterval      time.Duration
    ResetCheckInterval time.Duration
    QuotaPerHour       int
    CacheTTL           time.Duration
    StoreTimeout       time.Duration
    MaxRetries         int
    // ReferenceStop selects the stop used for direction inference.
    // Empty means "use the terminal (highest-serial) stop".
    ReferenceStop string
}

type Config struct {
    Addr        string
    DatabaseURL string
    RedisURL    string
    AdminToken  string
    Preset      string
    Tuning      Tuning
}

// builtin presets; a YAML presets block extends/overrides these.
var presets = map[string]Tuning{
    "frequent": {RadiusMeters: 50, DebounceWindow: time.Second, CycleInterval: 5 * time.Second, QuotaPerHour: 600, CacheTTL: 30 * time.Second},
    "default":  {RadiusMeters: 50, DebounceWindow: 3 * time.Second, CycleInterval: 15 * time.Second, QuotaPerHour: 300, CacheTTL: time.Minute},
    "economy":  {RadiusMeters: 50, DebounceWindow: 10 * time.Second, CycleInterval: time.Minute, QuotaPerHour: 60, CacheTTL: 5 * time.Minute},
}

type tuningYAML struct {
    RadiusMeters      *float64 `yaml:"radiusMeters"`
    DebounceSec       *int     `yaml:"debounceSec"`
    CycleIntervalSec  *int     `yaml:"cycleIntervalSec"`
    ResetCheckSec     *int     `yaml:"resetCheckSec"`
    QuotaPerHour      *int     `yaml:"quotaPerHour"`
    CacheTTLSec       *int     `yaml:"cacheTTLSec"`
    StoreTimeoutSec   *int     `yaml:"storeTimeoutSec"`
    MaxRetries        *int     `yaml:"maxRetries"`
    ReferenceStop     *string  `yaml:"referenceStop"`
}

type fileYAML struct {
    Addr    string                `yaml:"addr"`
    Preset  string                `yaml:"preset"`
    Tuning  *tuningYAML           `yaml:"tuning"`
    Presets map[string]tuningYAML `yaml:"presets"`
}

// Load builds the configuration. Precedence, lowest to highest: compiled
// defaults, selected preset, the file's tuning block, environment variables.
func Load(path string) (Config, error) {
    cfg := Config{Addr: ":8080", Preset: "default"}

    var file fileYAML
    if path != "" {
        data, err := os.ReadFile(path)
        if err != nil {
            if !os.IsNotExist(err) {
                return Config{}, fmt.Errorf("read config: %w", err)
            }
        } else if err := yaml.Unmarshal(data, &file); err != nil {
            return Config{}, fmt.Errorf("parse config: %w", err)
        }
    }

    if file.Addr != "" { cfg.Addr = file.Addr }
    if file.Preset != "" { cfg.Preset = file.Preset }
    if v := os.Getenv("PRESET"); v != "" { cfg.Preset = v }

    base, ok := presets[cfg.Preset]
    if !ok {
        if _, ok := file.Presets[cfg.Preset]; !ok {
            return Config{}, fmt.Errorf("unknown preset %q", cfg.Preset)
        }
        base = presets["default"]
    }
    cfg.Tuning = withDefaults(base)
    if fp, ok := file.Presets[cfg.Preset]; ok {
        applyTuning(&cfg.Tuning, fp)
    }
    if file.Tuning != nil {
        applyTuning(&cfg.Tuning, *file.Tuning)
    }

    if v := os.Getenv("PORT"); v != "" { cfg.Addr = ":" + v }
    cfg.DatabaseURL = os.Getenv("DATABASE_URL")
    cfg.RedisURL = os.Getenv("REDIS_URL")
    cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
    if v := os.Getenv("REFERENCE_STOP"); v != "" { cfg.Tuning.ReferenceStop = v }
    if err := envFloat("RADIUS_METERS", &cfg.Tuning.RadiusMeters); err != nil { return Config{}, err }
    if err := envInt("QUOTA_PER_HOUR", &cfg.Tuning.QuotaPerHour); err != nil { return Config{}, err }
    if err := envSeconds("DEBOUNCE_SEC", &cfg.Tuning.DebounceWindow); err != nil { return Config{}, err }
    if err := envSeconds("CYCLE_INTERVAL_SEC", &cfg.Tuning.CycleInterval); err != nil { return Config{}, err }
    if err := envSeconds("CACHE_TTL_SEC", &cfg.Tuning.CacheTTL); err != nil { return Config{}, err }

    return cfg, nil
}

// withDefaults fills the fields the presets leave at zero.
func withDefaults(t Tuning) Tuning {
    if t.ResetCheckInterval == 0 { t.ResetCheckInterval = time.Minute }
    if t.StoreTimeout == 0 { t.StoreTimeout = 5 * time.Second }
    if t.MaxRetries == 0 { t.MaxRetries = 3 }
    return t
}

func applyTuning(t *Tuning, y tuningYAML) {
    if y.RadiusMeters != nil { t.RadiusMeters = *y.RadiusMeters }
    if y.DebounceSec != nil { t.DebounceWindow = time.Duration(*y.DebounceSec) * time.Second }
    if y.CycleIntervalSec != nil { t.CycleInterval = time.Duration(*y.CycleIntervalSec) * time.Second }
    if y.ResetCheckSec != nil { t.ResetCheckInterval = time.Duration(*y.ResetCheckSec) * time.Second }
    if y.QuotaPerHour != nil { t.QuotaPerHour = *y.QuotaPerHour }
    if y.CacheTTLSec != nil { t.CacheTTL = time.Duration(*y.CacheTTLSec) * time.Second }
    if y.StoreTimeoutSec != nil { t.StoreTimeout = time.Duration(*y.StoreTimeoutSec) * time.Second }
    if y.MaxRetries != nil { t.MaxRetries = *y.MaxRetries }
    if y.ReferenceStop != nil { t.ReferenceStop = *y.ReferenceStop }
}

func envInt(key string, target *int) error {
    v := os.Getenv(key)
    if v == "" { return nil }
    n, err := strconv.Atoi(v)
    if err != nil { return fmt.Errorf("%s: %w", key, err) }
    *target = n
    return nil
}

func envFloat(key string, target *float64) error {
    v := os.Getenv(key)
    if v == "" { return nil }
    f, err := strconv.ParseFloat(v, 64)
    if err != nil { return fmt.Errorf("%s: %w", key, err) }
    *target = f
    return nil
}

func envSeconds(key string, target *time.Duration) error {
    v := os.Getenv(key)
    if v == "" { return nil }
    n, err := strconv.Atoi(v)
    if err != nil { return fmt.Errorf("%s: %w", key, err) }
    *target = time.Duration(n) * time.Second
    return nil
}
