package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func TestLoadDefaults(t *testing.T) {
    cfg, err := Load("")
    if err != nil { t.Fatalf("Load: %v", err) }
    if cfg.Tuning.RadiusMeters != 50 {
        t.Fatalf("radius: got %v", cfg.Tuning.RadiusMeters)
    }
    if cfg.Tuning.CycleInterval != 15*time.Second {
        t.Fatalf("cycle interval: got %v", cfg.Tuning.CycleInterval)
    }
    if cfg.Tuning.MaxRetries != 3 {
        t.Fatalf("max retries: got %d", cfg.Tuning.MaxRetries)
    }
}

func TestLoadPresetAndFileOverride(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "config.yaml")
    data := []byte("preset: economy\ntuning:\n  quotaPerHour: 42\n")
    if err := os.WriteFile(path, data, 0o600); err != nil { t.Fatal(err) }
    cfg, err := Load(path)
    if err != nil { t.Fatalf("Load: %v", err) }
    if cfg.Tuning.DebounceWindow != 10*time.Second {
        t.Fatalf("expected economy debounce, got %v", cfg.Tuning.DebounceWindow)
    }
    if cfg.Tuning.QuotaPerHour != 42 {
        t.Fatalf("file tuning should win over preset, got %d", cfg.Tuning.QuotaPerHour)
    }
}

func TestLoadEnvWins(t *testing.T) {
    t.Setenv("QUOTA_PER_HOUR", "7")
    t.Setenv("DEBOUNCE_SEC", "2")
    cfg, err := Load("")
    if err != nil { t.Fatalf("Load: %v", err) }
    if cfg.Tuning.QuotaPerHour != 7 {
        t.Fatalf("env quota: got %d", cfg.Tuning.QuotaPerHour)
    }
    if cfg.Tuning.DebounceWindow != 2*time.Second {
        t.Fatalf("env debounce: got %v", cfg.Tuning.DebounceWindow)
    }
}

func TestLoadUnknownPreset(t *testing.T) {
    t.Setenv("PRESET", "nope")
    if _, err := Load(""); err == nil {
        t.Fatal("expected error for unknown preset")
    }
}
