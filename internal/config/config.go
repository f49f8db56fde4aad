package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/idlergb/internal/color"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig      `yaml:"log"`
	Database        DatabaseConfig `yaml:"database"`
	Lighting        LightingConfig `yaml:"lighting"`
	Input           InputConfig    `yaml:"input"`
	SDK             SDKConfig      `yaml:"sdk"`
	Control         ControlConfig  `yaml:"control"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Tray            TrayConfig     `yaml:"tray"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
	File   string `yaml:"file"` // Optional log file, written in addition to stderr
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LightingConfig seeds the persisted settings on first run.
type LightingConfig struct {
	IdleTimeout  Duration    `yaml:"idle_timeout"`
	IdleColor    color.RGB   `yaml:"idle_color"`
	CapsColor    color.RGB   `yaml:"caps_color"`
	TickInterval Duration    `yaml:"tick_interval"` // Idle check interval (default: 1s)
	Media        MediaConfig `yaml:"media"`
}

// MediaConfig contains the fixed colors of the keyboard transport keys
type MediaConfig struct {
	Stop      color.RGB `yaml:"stop"`
	Prev      color.RGB `yaml:"prev"`
	PlayPause color.RGB `yaml:"play_pause"`
	Next      color.RGB `yaml:"next"`
	Mute      color.RGB `yaml:"mute"`
}

// InputConfig contains input hook settings
type InputConfig struct {
	Coalesce Duration `yaml:"coalesce"` // Window for collapsing hook callbacks (default: 25ms)
}

// SDKConfig contains vendor SDK polling settings
type SDKConfig struct {
	DLLPath           string   `yaml:"dll_path"`            // Optional explicit path to the CUE SDK DLL
	SearchInterval    Duration `yaml:"search_interval"`     // Poll interval while SDK is not found (default: 5s)
	WatchInterval     Duration `yaml:"watch_interval"`      // Poll interval once bound (default: 10s)
	BindAttempts      uint     `yaml:"bind_attempts"`       // Initialize attempts per poll (default: 3)
	BindDelay         Duration `yaml:"bind_delay"`          // Delay between initialize attempts (default: 500ms)
	DeviceCountSource string   `yaml:"device_count_source"` // "sdk" or "hid" (default: sdk)
}

// ControlConfig contains local control API settings
type ControlConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PreviewRate    float64  `yaml:"preview_rate"` // Max preview writes per second (default: 20)
	Lease          Duration `yaml:"lease"`        // Manual control expires unless renewed within this (default: 30s)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// TrayConfig contains notification area icon settings
type TrayConfig struct {
	Enabled *bool `yaml:"enabled"` // Default: true
}

// IsEnabled returns whether the tray icon is shown (default true)
func (c *TrayConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetHost returns the control API host with default
func (c *ControlConfig) GetHost() string {
	if c.Host == "" {
		return "127.0.0.1"
	}
	return c.Host
}

// GetPort returns the control API port with default
func (c *ControlConfig) GetPort() int {
	if c.Port == 0 {
		return 17345
	}
	return c.Port
}

// GetShutdownTimeout returns the shutdown timeout with default
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file.
// A missing file is not an error: defaults are returned with found=false.
func Load(path string) (cfg *Config, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	cfg = &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, true, err
	}

	applyDefaults(cfg)
	return cfg, true, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./idlergb.sqlite"
	}

	// Lighting defaults (seeds for the settings store)
	if cfg.Lighting.IdleTimeout == 0 {
		cfg.Lighting.IdleTimeout = Duration(5 * time.Minute)
	}
	if cfg.Lighting.IdleColor == (color.RGB{}) {
		cfg.Lighting.IdleColor = color.RGB{R: 255}
	}
	if cfg.Lighting.CapsColor == (color.RGB{}) {
		cfg.Lighting.CapsColor = color.RGB{R: 255, G: 255, B: 255}
	}
	if cfg.Lighting.TickInterval == 0 {
		cfg.Lighting.TickInterval = Duration(1 * time.Second)
	}
	if cfg.Lighting.Media == (MediaConfig{}) {
		cfg.Lighting.Media = MediaConfig{
			Stop:      color.RGB{R: 255},
			Prev:      color.RGB{G: 255},
			PlayPause: color.RGB{G: 255},
			Next:      color.RGB{G: 255},
			Mute:      color.RGB{R: 255, G: 128},
		}
	}

	// Input defaults
	if cfg.Input.Coalesce == 0 {
		cfg.Input.Coalesce = Duration(25 * time.Millisecond)
	}

	// SDK defaults
	if cfg.SDK.SearchInterval == 0 {
		cfg.SDK.SearchInterval = Duration(5 * time.Second)
	}
	if cfg.SDK.WatchInterval == 0 {
		cfg.SDK.WatchInterval = Duration(10 * time.Second)
	}
	if cfg.SDK.BindAttempts == 0 {
		cfg.SDK.BindAttempts = 3
	}
	if cfg.SDK.BindDelay == 0 {
		cfg.SDK.BindDelay = Duration(500 * time.Millisecond)
	}
	if cfg.SDK.DeviceCountSource == "" {
		cfg.SDK.DeviceCountSource = "sdk"
	}

	// Control defaults
	if cfg.Control.PreviewRate == 0 {
		cfg.Control.PreviewRate = 20.0
	}
	if cfg.Control.Lease == 0 {
		cfg.Control.Lease = Duration(30 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
