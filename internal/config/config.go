// Package config provides the YAML configuration model with full
// load/save behavior, including first-run config creation and 0600
// permissions.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one calendar source. Immutable after load.
type SourceConfig struct {
	// ID is the internal identifier used for provenance and logging.
	ID string `yaml:"id" json:"id"`
	// Name is the human-friendly label attached to events as Source.
	Name string `yaml:"name" json:"name"`
	// Kind selects the adapter: "ics" (subscription feed) or "api"
	// (third-party calendar API).
	Kind string `yaml:"kind" json:"kind"`
	// URL is the fetch endpoint.
	URL string `yaml:"url" json:"url"`
	// InboxOnly means events from this source never auto-enter the
	// shared calendar; they wait in the inbox unless a rule approves them.
	InboxOnly bool `yaml:"inbox_only" json:"inbox_only"`
}

// DedupConfig tunes the cross-source duplicate fingerprint.
type DedupConfig struct {
	// BucketMinutes is the start-time bucket width; events with equal
	// normalized summaries whose starts land in the same bucket merge.
	BucketMinutes int `yaml:"bucket_minutes" json:"bucket_minutes"`
}

// ClassifierConfig is the externally configurable rule table mapping
// keyword sets to classifier outcomes.
type ClassifierConfig struct {
	// TrainingKeywords auto-approve inbox-only events (recurring
	// lessons/trainings; low-risk, high-volume).
	TrainingKeywords []string `yaml:"training_keywords" json:"training_keywords"`
	// NotableKeywords force manual approval (tournaments, finals, ...).
	NotableKeywords []string `yaml:"notable_keywords" json:"notable_keywords"`
}

// RemoteConfig describes the external calendar service the approved
// timeline is pushed to.
type RemoteConfig struct {
	// BaseURL is the remote calendar service endpoint; empty disables sync.
	BaseURL    string `yaml:"base_url" json:"base_url"`
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// Token, if set, is sent as a bearer token on every call.
	Token string `yaml:"token" json:"token"`
	// PaceMs is the minimum delay between consecutive remote mutation
	// calls, respecting the service's rate limits.
	PaceMs int `yaml:"pace_ms" json:"pace_ms"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the action API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the action API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone (e.g. "Europe/Stockholm").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron schedules aggregation+sync passes (e.g. "*/30 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is "debug", "info" or "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataDir holds the sqlite database and the feed fetch cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// HorizonDays / BackfillDays bound the aggregation window around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	Sources    []SourceConfig   `yaml:"sources" json:"sources"`
	Dedup      DedupConfig      `yaml:"dedup" json:"dedup"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Remote     RemoteConfig     `yaml:"remote" json:"remote"`

	// BasicAuth, if non-nil, protects all endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Europe/Stockholm",
		WeekStart:    "monday",
		RefreshCron:  "*/30 * * * *",
		LogLevel:     "info",
		DataDir:      "./var/famcal",
		HorizonDays:  120,
		BackfillDays: 7,
		Sources:      []SourceConfig{},
		Dedup:        DedupConfig{BucketMinutes: 5},
		Classifier: ClassifierConfig{
			TrainingKeywords: []string{"träning", "lektion"},
			NotableKeywords:  []string{"cup", "turnering", "match", "final"},
		},
		Remote: RemoteConfig{PaceMs: 500},
	}
}

// Normalize fills in missing/zero values so partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = def.BackfillDays
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		if c.Sources[i].Kind == "" {
			c.Sources[i].Kind = "ics"
		}
		if c.Sources[i].ID == "" {
			c.Sources[i].ID = c.Sources[i].Name
		}
	}
	if c.Dedup.BucketMinutes <= 0 {
		c.Dedup.BucketMinutes = def.Dedup.BucketMinutes
	}
	if c.Classifier.TrainingKeywords == nil {
		c.Classifier.TrainingKeywords = def.Classifier.TrainingKeywords
	}
	if c.Classifier.NotableKeywords == nil {
		c.Classifier.NotableKeywords = def.Classifier.NotableKeywords
	}
	if c.Remote.PaceMs <= 0 {
		c.Remote.PaceMs = def.Remote.PaceMs
	}
}

// BucketWidth returns the dedup bucket as a duration.
func (c *Config) BucketWidth() time.Duration {
	return time.Duration(c.Dedup.BucketMinutes) * time.Minute
}

// Pace returns the minimum inter-call delay for remote mutations.
func (c *Config) Pace() time.Duration {
	return time.Duration(c.Remote.PaceMs) * time.Millisecond
}

// Load loads configuration from the given YAML path. If the file does
// not exist, a default config is written there (0600) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
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

	tmp, err := os.CreateTemp(dir, ".famcal-config-*.tmp")
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

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
