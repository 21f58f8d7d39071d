package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"calsync/internal/extract"
)

// FeedConfig describes one subscribed ICS feed source.
type FeedConfig struct {
	// ID is an internal identifier used for logging and de-dup.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Zone is the IANA zone naive date-times in this feed are authored in.
	Zone string `yaml:"zone,omitempty" json:"zone,omitempty"`
}

// PageConfig describes one scraped web page source.
type PageConfig struct {
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`

	// WaitSelector is a CSS selector the page must render before the
	// expression runs.
	WaitSelector string `yaml:"wait_selector,omitempty" json:"wait_selector,omitempty"`

	// Expression is the JavaScript expression yielding the event JSON.
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`

	// Mapping declares how canonical fields are read from the scraped
	// document.
	Mapping extract.Mapping `yaml:"mapping" json:"mapping"`
}

// TextTargetConfig describes a text-blob calendar target (CalDAV-style,
// whole document replaced per sync).
type TextTargetConfig struct {
	ID       string `yaml:"id" json:"id"`
	URL      string `yaml:"url" json:"url"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Authoritative asserts the collected batch is the complete event set
	// for the coverage window; unmatched target events inside it are
	// deleted.
	Authoritative bool `yaml:"authoritative,omitempty" json:"authoritative,omitempty"`

	// CoverageDays sizes that window from the start of the run. Zero falls
	// back to the global horizon.
	CoverageDays int `yaml:"coverage_days,omitempty" json:"coverage_days,omitempty"`
}

// GoogleTargetConfig describes a structured-API calendar target.
type GoogleTargetConfig struct {
	ID         string `yaml:"id" json:"id"`
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// CredentialsPath points at the OAuth client credentials JSON.
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	// TokenPath points at the stored OAuth token JSON.
	TokenPath string `yaml:"token_path" json:"token_path"`

	// Authoritative and CoverageDays mirror the text target fields.
	Authoritative bool `yaml:"authoritative,omitempty" json:"authoritative,omitempty"`
	CoverageDays  int  `yaml:"coverage_days,omitempty" json:"coverage_days,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used when sources give no zone of their own.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string for periodic syncs.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CooldownMinutes is the per-target minimum gap between runs.
	CooldownMinutes int `yaml:"cooldown_minutes" json:"cooldown_minutes"`

	// HorizonDays bounds recurrence expansion for targets that need
	// materialized instances.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MaxOccurrences caps per-event expansion.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// CacheDir is where feed bodies and HTTP validators are cached.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Feeds and Pages are the event sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
	Pages []PageConfig `yaml:"pages" json:"pages"`

	// TextTargets and GoogleTargets are the sync destinations.
	TextTargets   []TextTargetConfig   `yaml:"text_targets" json:"text_targets"`
	GoogleTargets []GoogleTargetConfig `yaml:"google_targets" json:"google_targets"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:        "UTC",
		RefreshCron:     "*/15 * * * *",
		CooldownMinutes: 5,
		HorizonDays:     365,
		MaxOccurrences:  400,
		CacheDir:        "./var/ics-cache",
		Feeds:           []FeedConfig{},
		Pages:           []PageConfig{},
		TextTargets:     []TextTargetConfig{},
		GoogleTargets:   []GoogleTargetConfig{},
	}
}

// Normalize fills in missing/zero values so partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.CooldownMinutes <= 0 {
		c.CooldownMinutes = 5
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 365
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = 400
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.Pages == nil {
		c.Pages = []PageConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].Zone == "" {
			c.Feeds[i].Zone = c.Timezone
		}
	}
	for i := range c.Pages {
		if c.Pages[i].Mapping.Zone == "" {
			c.Pages[i].Mapping.Zone = c.Timezone
		}
		if c.Pages[i].Mapping.Items == "" {
			c.Pages[i].Mapping.Items = "events"
		}
	}
	if c.TextTargets == nil {
		c.TextTargets = []TextTargetConfig{}
	}
	if c.GoogleTargets == nil {
		c.GoogleTargets = []GoogleTargetConfig{}
	}
}

// Load loads configuration from the given YAML path. A missing file is a
// first run: a default config is written with 0600 perms and returned.
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

// Save writes the configuration atomically (temp file + rename) with
// 0600 permissions, creating the parent directory as needed.
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

	tmp, err := os.CreateTemp(dir, ".calsync-config-*.tmp")
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
