package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// PostgresConfig holds connection settings for the postgres driver.
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Name     string `yaml:"name" json:"name"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
}

type MongoConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	// Driver is one of "memory" (default), "postgres" or "mongo".
	Driver   string         `yaml:"driver" json:"driver"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo" json:"mongo"`
}

type MeetingConfig struct {
	// ZoomBaseURL prefixes generated placeholder meeting links.
	ZoomBaseURL string `yaml:"zoom_base_url" json:"zoom_base_url"`
}

type UpcomingConfig struct {
	HorizonMonths int `yaml:"horizon_months" json:"horizon_months"`
	DefaultLimit  int `yaml:"default_limit" json:"default_limit"`
}

// FeedConfig controls the published ICS feed.
type FeedConfig struct {
	// Path is where the scheduler writes the feed. Empty disables the job.
	Path string `yaml:"path" json:"path"`
	Name string `yaml:"name" json:"name"`

	// Refresh is a cron-style schedule string (e.g. "*/15 * * * *").
	Refresh string `yaml:"refresh" json:"refresh"`

	// Expand writes one VEVENT per occurrence instead of RRULE parents.
	Expand bool `yaml:"expand" json:"expand"`

	// BackfillDays and HorizonDays bound the exported window around now.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone month windows are computed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// EventTimezone is stored on new events that do not name one.
	EventTimezone string `yaml:"event_timezone" json:"event_timezone"`

	Store    StoreConfig    `yaml:"store" json:"store"`
	Meeting  MeetingConfig  `yaml:"meeting" json:"meeting"`
	Upcoming UpcomingConfig `yaml:"upcoming" json:"upcoming"`
	Feed     FeedConfig     `yaml:"feed" json:"feed"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "UTC"
	defaultEventTimezone = "America/Los_Angeles"
	defaultRefresh       = "*/15 * * * *"
	defaultZoomBaseURL   = "https://zoom.us/j/"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.EventTimezone == "" {
		c.EventTimezone = defaultEventTimezone
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Postgres.Port == 0 {
		c.Store.Postgres.Port = 5432
	}
	if c.Store.Postgres.SSLMode == "" {
		c.Store.Postgres.SSLMode = "disable"
	}
	if c.Store.Mongo.Database == "" {
		c.Store.Mongo.Database = "academy"
	}
	if c.Store.Mongo.Collection == "" {
		c.Store.Mongo.Collection = "calendarevents"
	}

	if c.Meeting.ZoomBaseURL == "" {
		c.Meeting.ZoomBaseURL = defaultZoomBaseURL
	}
	if c.Upcoming.HorizonMonths <= 0 {
		c.Upcoming.HorizonMonths = 3
	}
	if c.Upcoming.DefaultLimit <= 0 {
		c.Upcoming.DefaultLimit = 10
	}

	if c.Feed.Name == "" {
		c.Feed.Name = "Academy Calendar"
	}
	if c.Feed.Refresh == "" {
		c.Feed.Refresh = defaultRefresh
	}
	if c.Feed.BackfillDays <= 0 {
		c.Feed.BackfillDays = 30
	}
	if c.Feed.HorizonDays <= 0 {
		c.Feed.HorizonDays = 180
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Name == "" {
			return errors.New("store.postgres requires host and name")
		}
	case DriverMongo:
		if c.Store.Mongo.URI == "" {
			return errors.New("store.mongo requires uri")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := time.LoadLocation(c.EventTimezone); err != nil {
		return fmt.Errorf("event_timezone %q: %w", c.EventTimezone, err)
	}
	if _, err := cron.ParseStandard(c.Feed.Refresh); err != nil {
		return fmt.Errorf("feed.refresh %q: %w", c.Feed.Refresh, err)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overrides file settings from ACADEMYCAL_* environment variables.
// It is called after Load so the environment (and any .env file loaded into
// it) wins.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"ACADEMYCAL_LISTEN":       &c.Listen,
		"ACADEMYCAL_STORE_DRIVER": &c.Store.Driver,
		"ACADEMYCAL_DB_HOST":      &c.Store.Postgres.Host,
		"ACADEMYCAL_DB_USER":      &c.Store.Postgres.User,
		"ACADEMYCAL_DB_PASSWORD":  &c.Store.Postgres.Password,
		"ACADEMYCAL_DB_NAME":      &c.Store.Postgres.Name,
		"ACADEMYCAL_DB_SSLMODE":   &c.Store.Postgres.SSLMode,
		"ACADEMYCAL_MONGO_URI":    &c.Store.Mongo.URI,
		"ACADEMYCAL_LOG_LEVEL":    &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("ACADEMYCAL_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACADEMYCAL_DB_PORT: %w", err)
		}
		c.Store.Postgres.Port = port
	}

	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path. The feed scheduler uses it as well.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".academycal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Window returns the export window around now: BackfillDays before it and
// HorizonDays after it.
func (f FeedConfig) Window(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -f.BackfillDays), now.AddDate(0, 0, f.HorizonDays)
}
