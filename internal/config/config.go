package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"confsched/internal/model"
	"confsched/internal/timetable"
)

// ICSConfig describes a single ICS subscription imported as an event.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier; it becomes the imported event's ID.
	ID string `yaml:"id" json:"id"`
	// Name is used as the event title.
	Name string `yaml:"name" json:"name"`
	// EventType of the imported event: conference, meeting or lecture.
	EventType string `yaml:"event_type" json:"event_type"`
	// HorizonDays bounds recurrence expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	}
	return c.URL
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for events that do not carry one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-importing ICS sources. An empty string disables refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// SlotMinutes is the timetable grid resolution.
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`

	// DayStartHour / DayEndHour bound the grid of full event days.
	DayStartHour int `yaml:"day_start_hour" json:"day_start_hour"`
	DayEndHour   int `yaml:"day_end_hour" json:"day_end_hour"`

	// Compact shrinks each day to the span of its entries.
	Compact bool `yaml:"compact" json:"compact"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "UTC",
		Database:     "/var/lib/confsched/confsched.db",
		CacheDir:     "/var/lib/confsched/ics-cache",
		RefreshCron:  "*/15 * * * *",
		SlotMinutes:  20,
		DayStartHour: 8,
		DayEndHour:   20,
		Compact:      false,
		ICS:          []ICSConfig{},
		BasicAuth:    nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.SlotMinutes <= 0 || (24*60)%c.SlotMinutes != 0 {
		c.SlotMinutes = def.SlotMinutes
	}
	// Zero end hour means the field was omitted.
	if c.DayEndHour == 0 {
		c.DayEndHour = def.DayEndHour
		if c.DayStartHour == 0 {
			c.DayStartHour = def.DayStartHour
		}
	}
	if c.DayStartHour < 0 || c.DayEndHour > 24 || c.DayStartHour >= c.DayEndHour {
		c.DayStartHour, c.DayEndHour = def.DayStartHour, def.DayEndHour
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		switch model.EventType(c.ICS[i].EventType) {
		case model.EventConference, model.EventMeeting, model.EventLecture:
		default:
			c.ICS[i].EventType = string(model.EventMeeting)
		}
		if c.ICS[i].HorizonDays <= 0 {
			c.ICS[i].HorizonDays = 90
		}
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
		}
	}
	seen := map[string]bool{}
	for _, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics source %q: url is empty", src.SourceID()))
			continue
		}
		if seen[src.SourceID()] {
			errs = append(errs, fmt.Errorf("ics source %q: duplicate id", src.SourceID()))
		}
		seen[src.SourceID()] = true
	}
	return errors.Join(errs...)
}

// SlotLength returns SlotMinutes as a duration.
func (c *Config) SlotLength() time.Duration {
	return time.Duration(c.SlotMinutes) * time.Minute
}

// TimetableOptions returns the grid options configured for timetables.
func (c *Config) TimetableOptions() []timetable.Option {
	return []timetable.Option{
		timetable.WithSlotLength(c.SlotLength()),
		timetable.WithDayBounds(c.DayStartHour, c.DayEndHour),
		timetable.WithCompact(c.Compact),
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
			// First run: create default config file.
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
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".confsched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
