package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timezone != "UTC" || cfg.RefreshCron != "*/15 * * * *" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perms := info.Mode().Perm(); perms != 0o600 {
		t.Fatalf("config file perms = %o, want 600", perms)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := `
timezone: Europe/Berlin
feeds:
  - id: work
    url: https://example.com/work.ics
pages:
  - id: fair
    url: https://example.com/fair
`
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HorizonDays != 365 || cfg.MaxOccurrences != 400 || cfg.CooldownMinutes != 5 {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
	if cfg.Feeds[0].Zone != "Europe/Berlin" {
		t.Fatalf("feed zone must inherit the global timezone: %q", cfg.Feeds[0].Zone)
	}
	if cfg.Pages[0].Mapping.Zone != "Europe/Berlin" || cfg.Pages[0].Mapping.Items != "events" {
		t.Fatalf("page mapping defaults not filled: %+v", cfg.Pages[0].Mapping)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Seoul"
	cfg.TextTargets = []TextTargetConfig{{ID: "radicale", URL: "https://dav.example.com/cal.ics", Username: "u", Password: "p", Authoritative: true, CoverageDays: 60}}
	cfg.GoogleTargets = []GoogleTargetConfig{{ID: "gcal", CalendarID: "primary", CredentialsPath: "/etc/c.json", TokenPath: "/etc/t.json"}}

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Timezone != "Asia/Seoul" {
		t.Fatalf("timezone lost: %q", loaded.Timezone)
	}
	if len(loaded.TextTargets) != 1 || loaded.TextTargets[0].Password != "p" {
		t.Fatalf("text target lost: %+v", loaded.TextTargets)
	}
	if !loaded.TextTargets[0].Authoritative || loaded.TextTargets[0].CoverageDays != 60 {
		t.Fatalf("coverage settings lost: %+v", loaded.TextTargets[0])
	}
	if len(loaded.GoogleTargets) != 1 || loaded.GoogleTargets[0].CalendarID != "primary" {
		t.Fatalf("google target lost: %+v", loaded.GoogleTargets)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("empty path must be rejected")
	}
}
