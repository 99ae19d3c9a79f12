// Package config provides process-wide configuration for the overlay
// shim. The two layer roots come from the environment; an optional
// YAML file supplies logging and diagnostic options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/liboverlay/liboverlay/pkg/types"
)

// Environment variables read once at initialization.
const (
	EnvLowerDir   = "LIBOVERLAY_LOWER_DIR"
	EnvUpperDir   = "LIBOVERLAY_UPPER_DIR"
	EnvDebug      = "LIBOVERLAY_DEBUG"
	EnvConfigFile = "LIBOVERLAY_CONFIG"
)

// Config represents the complete shim configuration. It is write-once:
// after Init it must be treated as read-only and is safe for
// concurrent reads without locking.
type Config struct {
	LowerDir string        `yaml:"lower_dir"`
	UpperDir string        `yaml:"upper_dir"`
	Debug    bool          `yaml:"debug"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults. The
// layer roots have no default: both are required.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// FromEnv builds the configuration from the process environment. An
// optional YAML file named by LIBOVERLAY_CONFIG is loaded first; the
// environment variables override it. The result is validated.
func FromEnv() (*Config, error) {
	config := DefaultConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if v := os.Getenv(EnvLowerDir); v != "" {
		config.LowerDir = v
	}
	if v := os.Getenv(EnvUpperDir); v != "" {
		config.UpperDir = v
	}
	if os.Getenv(EnvDebug) == "1" {
		config.Debug = true
		config.Logging.Level = "debug"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that both layer roots are present, absolute and
// existing directories. Failing any of these means the process cannot
// use overlay semantics at all.
func (c *Config) Validate() error {
	if err := validateRoot(EnvLowerDir, c.LowerDir); err != nil {
		return err
	}
	return validateRoot(EnvUpperDir, c.UpperDir)
}

func validateRoot(name, path string) error {
	if path == "" {
		return &types.ConfigError{Var: name, Reason: "not specified"}
	}
	if !filepath.IsAbs(path) {
		return &types.ConfigError{Var: name, Value: path, Reason: "must be absolute"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &types.ConfigError{Var: name, Value: path, Reason: "cannot stat: " + err.Error()}
	}
	if !info.IsDir() {
		return &types.ConfigError{Var: name, Value: path, Reason: "not a directory"}
	}
	return nil
}

var (
	initOnce  sync.Once
	global    *Config
	globalErr error
)

// Init initializes the process-wide configuration from the
// environment exactly once. Concurrent first calls are safe; every
// call observes the same result.
func Init() (*Config, error) {
	initOnce.Do(func() {
		global, globalErr = FromEnv()
	})
	return global, globalErr
}
