// Package config loads gpurun settings from a YAML file, GPUDISPATCH_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides: backend.name is read
// from GPUDISPATCH_BACKEND_NAME.
const EnvPrefix = "GPUDISPATCH"

// Config is the gpurun configuration.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig selects and tunes the compute backend.
type BackendConfig struct {
	// Name is "auto", "wgpu" or "host".
	Name                 string        `mapstructure:"name"`
	PowerPreference      string        `mapstructure:"power_preference"`
	ForceFallbackAdapter bool          `mapstructure:"force_fallback_adapter"`
	APIs                 []string      `mapstructure:"apis"`
	MapTimeout           time.Duration `mapstructure:"map_timeout"`
}

// DispatchConfig holds session and run defaults.
type DispatchConfig struct {
	MemoryBudget int64 `mapstructure:"memory_budget"`
	ElementSize  int   `mapstructure:"element_size"`
	PreviewBytes int   `mapstructure:"preview_bytes"`
}

// LoggingConfig sets the CLI log level.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

var (
	validBackends = []string{"auto", "wgpu", "host"}
	validPower    = []string{"none", "low-power", "high-performance"}
	validAPIs     = []string{"vulkan", "metal", "dx12", "gl"}
	validLevels   = []string{"debug", "info", "warn", "error"}
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Name:            "auto",
			PowerPreference: "high-performance",
			MapTimeout:      10 * time.Second,
		},
		Dispatch: DispatchConfig{
			ElementSize:  4,
			PreviewBytes: 64,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load reads the configuration into v and decodes it. Flags bound to v
// take precedence over the environment, which takes precedence over the
// file. If cfgFile is empty, config.yaml is looked up in
// $HOME/.gpudispatch and the working directory; a missing file is not an
// error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := Default()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gpudispatch"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks that every field holds a supported value.
func (c *Config) Validate() error {
	if !slices.Contains(validBackends, c.Backend.Name) {
		return fmt.Errorf("backend.name must be one of: %v", validBackends)
	}
	if !slices.Contains(validPower, c.Backend.PowerPreference) {
		return fmt.Errorf("backend.power_preference must be one of: %v", validPower)
	}
	for _, api := range c.Backend.APIs {
		if !slices.Contains(validAPIs, strings.ToLower(api)) {
			return fmt.Errorf("backend.apis: unknown API %q, want any of: %v", api, validAPIs)
		}
	}
	if c.Backend.MapTimeout < 0 {
		return errors.New("backend.map_timeout must not be negative")
	}
	if c.Dispatch.MemoryBudget < 0 {
		return errors.New("dispatch.memory_budget must not be negative")
	}
	if c.Dispatch.ElementSize <= 0 {
		return errors.New("dispatch.element_size must be positive")
	}
	if c.Dispatch.PreviewBytes < 0 {
		return errors.New("dispatch.preview_bytes must not be negative")
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	return nil
}

// PowerPreference maps Backend.PowerPreference to its gputypes value.
func (c *Config) PowerPreference() gputypes.PowerPreference {
	switch c.Backend.PowerPreference {
	case "low-power":
		return gputypes.PowerPreferenceLowPower
	case "high-performance":
		return gputypes.PowerPreferenceHighPerformance
	default:
		return gputypes.PowerPreferenceNone
	}
}

// Backends maps Backend.APIs to a gputypes mask. An empty list means all.
func (c *Config) Backends() gputypes.Backends {
	var mask gputypes.Backends
	for _, api := range c.Backend.APIs {
		switch strings.ToLower(api) {
		case "vulkan":
			mask |= gputypes.BackendsVulkan
		case "metal":
			mask |= gputypes.BackendsMetal
		case "dx12":
			mask |= gputypes.BackendsDX12
		case "gl":
			mask |= gputypes.BackendsGL
		}
	}
	return mask
}

// LogLevel maps Logging.Level to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend.name", cfg.Backend.Name)
	v.SetDefault("backend.power_preference", cfg.Backend.PowerPreference)
	v.SetDefault("backend.force_fallback_adapter", cfg.Backend.ForceFallbackAdapter)
	v.SetDefault("backend.apis", cfg.Backend.APIs)
	v.SetDefault("backend.map_timeout", cfg.Backend.MapTimeout)

	v.SetDefault("dispatch.memory_budget", cfg.Dispatch.MemoryBudget)
	v.SetDefault("dispatch.element_size", cfg.Dispatch.ElementSize)
	v.SetDefault("dispatch.preview_bytes", cfg.Dispatch.PreviewBytes)

	v.SetDefault("logging.level", cfg.Logging.Level)
}
