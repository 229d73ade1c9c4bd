package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != DriverMemory || cfg.Timezone != "UTC" || cfg.EventTimezone != "America/Los_Angeles" {
		t.Fatalf("defaults = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
listen: ":9090"
store:
  driver: Postgres
  postgres:
    host: db
    name: academy
feed:
  expand: true
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Store.Driver != DriverPostgres || cfg.Store.Postgres.Port != 5432 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Feed.Expand || cfg.Feed.Refresh != "*/15 * * * *" || cfg.Upcoming.DefaultLimit != 10 {
		t.Fatalf("feed/upcoming = %+v %+v", cfg.Feed, cfg.Upcoming)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Feed.Path = "/tmp/feed.ics"
	cfg.Store.Mongo.URI = "mongodb://localhost:27017"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Feed.Path != "/tmp/feed.ics" || got.Store.Mongo.URI != "mongodb://localhost:27017" {
		t.Fatalf("got %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, false},
		{"postgres without host", func(c *Config) { c.Store.Driver = DriverPostgres }, false},
		{"mongo without uri", func(c *Config) { c.Store.Driver = DriverMongo }, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"bad cron", func(c *Config) { c.Feed.Refresh = "every minute" }, false},
		{"descriptor cron", func(c *Config) { c.Feed.Refresh = "@hourly" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ACADEMYCAL_LISTEN", ":7070")
	t.Setenv("ACADEMYCAL_STORE_DRIVER", "MONGO")
	t.Setenv("ACADEMYCAL_MONGO_URI", "mongodb://db")
	t.Setenv("ACADEMYCAL_DB_PORT", "6543")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Listen != ":7070" || cfg.Store.Driver != DriverMongo || cfg.Store.Mongo.URI != "mongodb://db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Store.Postgres.Port != 6543 {
		t.Fatalf("port = %d", cfg.Store.Postgres.Port)
	}

	t.Setenv("ACADEMYCAL_DB_PORT", "abc")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Nowhere/Land"
	if cfg.Location().String() != "UTC" {
		t.Fatalf("location = %v", cfg.Location())
	}
}
