// Package config handles loading and managing configuration for timestop.
// It supports loading from YAML files, environment variables, and hardcoded defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Jayphen/timestop/internal/device"
	"github.com/Jayphen/timestop/internal/logging"
)

// Config holds all configuration settings for timestop.
type Config struct {
	// DefaultCategory is used when start is run without --category
	DefaultCategory string `yaml:"default_category"`

	// DefaultMinutes is used when start is run without --minutes
	DefaultMinutes int `yaml:"default_minutes"`

	// TickInterval is the countdown cadence
	TickInterval time.Duration `yaml:"tick_interval"`

	// Warmup is how long the verification finish action stays disabled
	Warmup time.Duration `yaml:"warmup"`

	// PlaybackStartTimeout bounds the wait for synthesized speech
	PlaybackStartTimeout time.Duration `yaml:"playback_start_timeout"`

	// MinVocalCapture is the audio a vocal verification needs
	MinVocalCapture time.Duration `yaml:"min_vocal_capture"`

	// StrictTransitions makes lifecycle misuse panic (development only)
	StrictTransitions bool `yaml:"strict_transitions"`

	// RedisURL is the Redis connection URL
	RedisURL string `yaml:"redis_url"`

	// HistoryBackend is "redis" or "memory"
	HistoryBackend string `yaml:"history_backend"`

	// Notifications enables desktop notifications for cues
	Notifications bool `yaml:"notifications"`

	// Devices names the audio commands
	Devices device.Config `yaml:"devices"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds the logging section of the config file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"file_path"`
	JSON       bool   `yaml:"json"`
	Console    bool   `yaml:"console"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Default configuration values
const (
	DefaultDefaultCategory      = "work"
	DefaultDefaultMinutes       = 25
	DefaultTickInterval         = time.Second
	DefaultWarmup               = 5 * time.Second
	DefaultPlaybackStartTimeout = 3 * time.Second
	DefaultMinVocalCapture      = 8 * time.Second
	DefaultRedisURL             = "redis://localhost:6379"
	DefaultHistoryBackend       = "redis"
	DefaultNotifications        = true
	DefaultLogLevel             = "info"
)

// DefaultLogPath returns the default log file location.
func DefaultLogPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".cache", "timestop", "timestop.log")
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configErr    error
)

// Get returns the global configuration, loading it if necessary.
// This function is safe for concurrent use.
func Get() (*Config, error) {
	configOnce.Do(func() {
		globalConfig, configErr = Load()
	})
	return globalConfig, configErr
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DefaultCategory:      DefaultDefaultCategory,
		DefaultMinutes:       DefaultDefaultMinutes,
		TickInterval:         DefaultTickInterval,
		Warmup:               DefaultWarmup,
		PlaybackStartTimeout: DefaultPlaybackStartTimeout,
		MinVocalCapture:      DefaultMinVocalCapture,
		RedisURL:             DefaultRedisURL,
		HistoryBackend:       DefaultHistoryBackend,
		Notifications:        DefaultNotifications,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			FilePath:   DefaultLogPath(),
			JSON:       true,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Load reads configuration from files and environment variables.
// Priority (highest to lowest):
// 1. Environment variables
// 2. ~/.config/timestop/config.yaml (or config.yml)
// 3. ~/.timestop.yaml
// 4. Hardcoded defaults
func Load() (*Config, error) {
	cfg := Defaults()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		// Lowest priority file first; later files overwrite.
		for _, path := range []string{
			filepath.Join(homeDir, ".timestop.yaml"),
			filepath.Join(homeDir, ".config", "timestop", "config.yaml"),
			filepath.Join(homeDir, ".config", "timestop", "config.yml"),
		} {
			if err := cfg.loadFile(path); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadFile reads a single config file over the defaults, then applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// ParseError reports a config file that is not valid YAML.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "parsing " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if val := os.Getenv("TIMESTOP_DEFAULT_CATEGORY"); val != "" {
		c.DefaultCategory = val
	}
	if val := os.Getenv("TIMESTOP_DEFAULT_MINUTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.DefaultMinutes = n
		}
	}

	setDuration(&c.TickInterval, "TIMESTOP_TICK_INTERVAL")
	setDuration(&c.Warmup, "TIMESTOP_WARMUP")
	setDuration(&c.PlaybackStartTimeout, "TIMESTOP_PLAYBACK_START_TIMEOUT")
	setDuration(&c.MinVocalCapture, "TIMESTOP_MIN_VOCAL_CAPTURE")

	if val := os.Getenv("TIMESTOP_STRICT_TRANSITIONS"); val != "" {
		c.StrictTransitions = parseBool(val)
	}

	// Redis URL (support both REDIS_URL and TIMESTOP_REDIS_URL)
	if val := os.Getenv("TIMESTOP_REDIS_URL"); val != "" {
		c.RedisURL = val
	} else if val := os.Getenv("REDIS_URL"); val != "" {
		c.RedisURL = val
	}

	if val := os.Getenv("TIMESTOP_HISTORY_BACKEND"); val != "" {
		c.HistoryBackend = val
	}
	if val := os.Getenv("TIMESTOP_NOTIFICATIONS"); val != "" {
		c.Notifications = parseBool(val)
	}

	if val := os.Getenv("TIMESTOP_RECORDER"); val != "" {
		c.Devices.Recorder = val
	}
	if val := os.Getenv("TIMESTOP_SYNTHESIZER"); val != "" {
		c.Devices.Synthesizer = val
	}
	if val := os.Getenv("TIMESTOP_PLAYER"); val != "" {
		c.Devices.Player = val
	}
	if val := os.Getenv("TIMESTOP_CAPTURE_PERMISSION"); val != "" {
		c.Devices.Permission = val
	}

	if val := os.Getenv("TIMESTOP_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("TIMESTOP_LOG_FILE"); val != "" {
		c.Logging.FilePath = val
	}
}

// setDuration reads a Go duration, or plain seconds for convenience.
func setDuration(dst *time.Duration, key string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*dst = d
	} else if secs, err := strconv.Atoi(val); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}

func parseBool(val string) bool {
	return val == "true" || val == "1" || val == "yes"
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LoggingConfig {
	return logging.LoggingConfig{
		Level:      c.Logging.Level,
		FilePath:   ExpandHome(c.Logging.FilePath),
		JSON:       c.Logging.JSON,
		Console:    c.Logging.Console,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
	}
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// Reload forces a reload of the configuration.
// This resets the global singleton and returns the newly loaded config.
func Reload() (*Config, error) {
	configOnce = sync.Once{}
	return Get()
}

// ConfigPaths returns the paths where config files are searched,
// highest priority first.
func ConfigPaths() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(homeDir, ".config", "timestop", "config.yaml"),
		filepath.Join(homeDir, ".config", "timestop", "config.yml"),
		filepath.Join(homeDir, ".timestop.yaml"),
	}
}

// WriteExample writes an example configuration file to the specified path.
func WriteExample(path string) error {
	example := `# TimeStop configuration file
# Place this file at ~/.config/timestop/config.yaml or ~/.timestop.yaml

# Task defaults for "timestop start"
default_category: work
default_minutes: 25

# Countdown cadence (Go duration format, e.g., "1s")
tick_interval: 1s

# Verification timing
warmup: 5s
playback_start_timeout: 3s
min_vocal_capture: 8s

# Panic on lifecycle misuse instead of logging it (development only)
strict_transitions: false

# Redis connection URL and history backend (redis or memory)
redis_url: redis://localhost:6379
history_backend: redis

# Desktop notifications on expiry and completion
notifications: true

# Audio commands; leave empty for platform defaults
devices:
  recorder: ""
  synthesizer: ""
  player: ""
  permission: ""   # granted, denied, or empty to probe

logging:
  level: info
  file_path: ~/.cache/timestop/timestop.log
  json: true
  console: false
  max_size: 10
  max_backups: 5
  max_age: 7
  compress: true
`
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(example), 0644)
}
