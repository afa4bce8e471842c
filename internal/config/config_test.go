package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.RefreshCron != "*/15 * * * *" || cfg.Drag.SnapMinutes != 15 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Timezone != cfg.Timezone || again.CacheTTL != cfg.CacheTTL {
		t.Fatalf("reload differs: %+v", again)
	}
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
timezone: Nowhere/Special
week_start: Sunday
refresh: "not a cron"
cache_ttl: 2m
feeds:
  - url: https://example.org/club.ics
layout:
  day_margin: 0.9
drag:
  snap_minutes: 30
colors:
  ride: "#000000"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "UTC" || cfg.FirstWeekday() != time.Sunday {
		t.Fatalf("timezone/week start = %q/%v", cfg.Timezone, cfg.FirstWeekday())
	}
	if cfg.RefreshCron != "*/15 * * * *" {
		t.Fatalf("bad cron should fall back, got %q", cfg.RefreshCron)
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "feed1" {
		t.Fatalf("feeds = %+v", cfg.Feeds)
	}
	if cfg.Layout.DayMargin != 0.02 || cfg.Drag.SnapMinutes != 30 {
		t.Fatalf("layout/drag = %+v %+v", cfg.Layout, cfg.Drag)
	}
	if cfg.Colors.Ride != "#000000" || cfg.Colors.Meeting == "" {
		t.Fatalf("colors = %+v", cfg.Colors)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: 0.0.0.0:9000\ndatabase: /tmp/file.db\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CLUBCAL_LISTEN", ":7070")
	t.Setenv("CLUBCAL_LOG_LEVEL", "DEBUG")
	t.Setenv("CLUBCAL_TIMEZONE", "Europe/Berlin")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7070" || cfg.LogLevel != "debug" || cfg.Timezone != "Europe/Berlin" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Database != "/tmp/file.db" {
		t.Fatalf("file value lost: %q", cfg.Database)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Fatalf("location = %v", cfg.Location())
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Feeds = []FeedConfig{{ID: "league", Name: "League", URL: "https://example.org/l.ics"}}
	cfg.BasicAuth = &BasicAuthConfig{Username: "club", Password: "secret"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "club" || got.Feeds[0].Name != "League" {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestSave_Errors(t *testing.T) {
	t.Parallel()

	if err := Save("", DefaultConfig()); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if err := Save(filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
