package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FeedConfig is one read-only ICS subscription.
type FeedConfig struct {
	// ID namespaces the feed's event ids; changing it orphans cached rows.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type LayoutConfig struct {
	// DayMargin is the right gap of a timed event, as a fraction of the
	// column width.
	DayMargin float64 `yaml:"day_margin" json:"day_margin"`
	// MinEventMinutes is the shortest height a timed event is drawn with.
	MinEventMinutes int `yaml:"min_event_minutes" json:"min_event_minutes"`
	// RowCap is the number of span rows shown per day before "N more".
	RowCap int `yaml:"row_cap" json:"row_cap"`
}

type DragConfig struct {
	PixelsPerMinute float64 `yaml:"pixels_per_minute" json:"pixels_per_minute"`
	SnapMinutes     int     `yaml:"snap_minutes" json:"snap_minutes"`
}

// ColorConfig maps event types to hex colours.
type ColorConfig struct {
	Ride    string `yaml:"ride" json:"ride"`
	Meeting string `yaml:"meeting" json:"meeting"`
	Event   string `yaml:"event" json:"event"`
	Other   string `yaml:"other" json:"other"`
}

// SnapshotConfig controls the notice-board PNG. An empty Output disables it.
type SnapshotConfig struct {
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Days   int    `yaml:"days" json:"days"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone events are displayed and laid out in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// Database is the SQLite file of the club's own calendar.
	Database string `yaml:"database" json:"database"`

	// RefreshCron is a five-field cron spec for re-fetching cached ranges.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds downloaded ICS feed bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CacheTTL is how long a fetched range is served without re-fetching.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Layout   LayoutConfig   `yaml:"layout" json:"layout"`
	Drag     DragConfig     `yaml:"drag" json:"drag"`
	Colors   ColorConfig    `yaml:"colors" json:"colors"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing values and clamps out-of-range ones so that
// partially filled files still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		c.Timezone = "UTC"
	}
	switch c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart)); c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.Database == "" {
		c.Database = "./var/clubcal.db"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		c.RefreshCron = "*/15 * * * *"
	}
	switch c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel)); c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = fmt.Sprintf("feed%d", i+1)
		}
	}

	if c.Layout.DayMargin < 0 || c.Layout.DayMargin >= 0.5 {
		c.Layout.DayMargin = 0.02
	}
	if c.Layout.MinEventMinutes <= 0 {
		c.Layout.MinEventMinutes = 15
	}
	if c.Layout.RowCap <= 0 {
		c.Layout.RowCap = 3
	}

	if c.Drag.PixelsPerMinute <= 0 {
		c.Drag.PixelsPerMinute = 1
	}
	if c.Drag.SnapMinutes <= 0 || c.Drag.SnapMinutes > 60 {
		c.Drag.SnapMinutes = 15
	}

	defaults := ColorConfig{Ride: "#c62828", Meeting: "#1565c0", Event: "#f9a825", Other: "#6d6d6d"}
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.Colors.Ride, defaults.Ride)
	fill(&c.Colors.Meeting, defaults.Meeting)
	fill(&c.Colors.Event, defaults.Event)
	fill(&c.Colors.Other, defaults.Other)

	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = 1200
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = 825
	}
	if c.Snapshot.Days <= 0 {
		c.Snapshot.Days = 7
	}
}

// Location loads the configured zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday is the weekday calendar weeks start on.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// envKeys are the settings that CLUBCAL_* variables override.
var envKeys = []string{"listen", "timezone", "database", "log_level", "refresh", "cache_dir"}

// Load reads the YAML file at path, applies CLUBCAL_* environment
// overrides and normalizes the result. A missing file is created with the
// defaults (0600).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		def := DefaultConfig()
		if err := Save(path, def); err != nil {
			return def, err
		}
		cfg = *def
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Normalize()
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("CLUBCAL")
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	set := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := strings.TrimSpace(v.GetString(key)); s != "" {
				*dst = s
			}
		}
	}
	set("listen", &cfg.Listen)
	set("timezone", &cfg.Timezone)
	set("database", &cfg.Database)
	set("log_level", &cfg.LogLevel)
	set("refresh", &cfg.RefreshCron)
	set("cache_dir", &cfg.CacheDir)
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".clubcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
