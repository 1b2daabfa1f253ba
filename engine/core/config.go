package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultInFlightFrames     uint32 = 2
	DefaultMaxCommandContexts uint32 = 32
	DefaultRingSize           uint64 = 1024 * 1024
	DefaultQueryCount         uint32 = 1024
)

type DeviceConfig struct {
	Backend            string `toml:"backend"`
	InFlightFrames     uint32 `toml:"in_flight_frames"`
	MaxCommandContexts uint32 `toml:"max_command_contexts"`
	RingInitialSize    uint64 `toml:"ring_initial_size"`
	TimestampQueries   uint32 `toml:"timestamp_queries"`
	OcclusionQueries   uint32 `toml:"occlusion_queries"`
	Validation         bool   `toml:"validation"`
}

type EngineConfig struct {
	ApplicationName string       `toml:"application_name"`
	LogLevel        string       `toml:"log_level"`
	ShaderDir       string       `toml:"shader_dir"`
	Workers         int          `toml:"workers"`
	Frames          uint64       `toml:"frames"`
	Window          bool         `toml:"window"`
	Width           uint32       `toml:"width"`
	Height          uint32       `toml:"height"`
	Device          DeviceConfig `toml:"device"`
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Backend:            "headless",
		InFlightFrames:     DefaultInFlightFrames,
		MaxCommandContexts: DefaultMaxCommandContexts,
		RingInitialSize:    DefaultRingSize,
		TimestampQueries:   DefaultQueryCount,
		OcclusionQueries:   DefaultQueryCount,
	}
}

func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		ApplicationName: "Anima RHI",
		LogLevel:        "info",
		ShaderDir:       "assets/shaders",
		Workers:         4,
		Width:           1280,
		Height:          720,
		Device:          DefaultDeviceConfig(),
	}
}

// LoadConfig reads a TOML file on top of the defaults.
func LoadConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*EngineConfig, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EngineConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return c.Device.Validate()
}

func (c *DeviceConfig) Validate() error {
	if c.InFlightFrames == 0 {
		return fmt.Errorf("in_flight_frames must be at least 1")
	}
	if c.MaxCommandContexts == 0 {
		return fmt.Errorf("max_command_contexts must be at least 1")
	}
	if c.RingInitialSize == 0 {
		return fmt.Errorf("ring_initial_size must be positive")
	}
	return nil
}
