package engine

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/core"
)

type ApplicationConfig struct {
	// The application name used in logs.
	Name string `toml:"name"`
	// One of debug, info, warn, error, fatal.
	LogLevel string `toml:"log_level"`
	// Simulation ticks per second.
	TickRate uint32 `toml:"tick_rate"`
	// Stop after this many ticks, 0 runs until shut down.
	MaxTicks uint64 `toml:"max_ticks"`
	// Goroutines used to load rigs and resolve characters.
	Workers       int    `toml:"workers"`
	MaxSkeletons  uint32 `toml:"max_skeletons"`
	MaxAnimations uint32 `toml:"max_animations"`
	MaxCharacters uint32 `toml:"max_characters"`
	// Directory scanned for rig files, empty to skip.
	AssetDir    string `toml:"asset_dir"`
	WatchAssets bool   `toml:"watch_assets"`
	// "reject" or "extend".
	DurationPolicy string `toml:"duration_policy"`
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Name:           "Anima",
		LogLevel:       "info",
		TickRate:       60,
		Workers:        runtime.NumCPU(),
		MaxSkeletons:   64,
		MaxAnimations:  1024,
		MaxCharacters:  4096,
		AssetDir:       "assets",
		DurationPolicy: animation.DurationPolicyReject.String(),
	}
}

// LoadApplicationConfig reads a TOML file over the defaults.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultApplicationConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("config '%s': %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config '%s': %w", path, err)
	}
	return config, nil
}

func (c *ApplicationConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name: %w", core.ErrEmptyName)
	}
	if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if _, err := animation.ParseDurationPolicy(c.DurationPolicy); err != nil {
		return err
	}
	if c.TickRate == 0 {
		return fmt.Errorf("tick rate must be > 0: %w", core.ErrOutOfRange)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0: %w", core.ErrOutOfRange)
	}
	if c.MaxSkeletons == 0 || c.MaxAnimations == 0 || c.MaxCharacters == 0 {
		return fmt.Errorf("system limits must be > 0: %w", core.ErrOutOfRange)
	}
	return nil
}

// TickDuration returns the simulated seconds per tick.
func (c *ApplicationConfig) TickDuration() float64 {
	return 1.0 / float64(c.TickRate)
}
