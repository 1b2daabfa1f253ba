package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigOverridesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
log_level = "debug"
workers = 2

[device]
backend = "vulkan"
in_flight_frames = 3
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "vulkan", cfg.Device.Backend)
	assert.Equal(t, uint32(3), cfg.Device.InFlightFrames)
	assert.Equal(t, DefaultRingSize, cfg.Device.RingInitialSize)
	assert.Equal(t, DefaultQueryCount, cfg.Device.TimestampQueries)
}

func TestParseConfigRejectsZeroFrames(t *testing.T) {
	_, err := ParseConfig([]byte("[device]\nin_flight_frames = 0\n"))
	assert.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("application_name = \"demo\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.ApplicationName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("bogus"))
	assert.Equal(t, "error", ParseLogLevel("error").String())
}
