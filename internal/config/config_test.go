package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
listen: ":9000"
slot_minutes: 7
day_start_hour: 22
day_end_hour: 6
ics:
  - url: https://example.org/a.ics
    name: Physics seminar
    event_type: lecture
  - url: https://example.org/b.ics
    id: b
    event_type: party
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 20*time.Minute, cfg.SlotLength())
	assert.Equal(t, 8, cfg.DayStartHour)
	assert.Equal(t, 20, cfg.DayEndHour)
	assert.Equal(t, "Physics seminar", cfg.ICS[0].SourceID())
	assert.Equal(t, "lecture", cfg.ICS[0].EventType)
	assert.Equal(t, "meeting", cfg.ICS[1].EventType)
	assert.Equal(t, 90, cfg.ICS[1].HorizonDays)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	cfg.RefreshCron = "every now and then"
	cfg.ICS = []ICSConfig{{ID: "a", URL: "https://x"}, {ID: "a", URL: "https://y"}, {ID: "c"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mars/Olympus")
	assert.Contains(t, err.Error(), "every now and then")
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "url is empty")

	cfg = DefaultConfig()
	cfg.RefreshCron = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}
