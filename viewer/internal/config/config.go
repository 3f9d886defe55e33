package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	producer "github.com/remdbg/remdbg/pkg/config"
)

// Connection modes.
const (
	ModeConnect = "connect" // dial a producer in listen mode
	ModeListen  = "listen"  // accept producers in dial mode
)

// Output formats.
const (
	FormatPlain      = "plain"
	FormatStructured = "structured"
)

// Default values for the viewer configuration.
const (
	DefaultRetryInterval = 250 * time.Millisecond
	DefaultHistorySize   = 1000
	DefaultHistoryTTL    = 30 * time.Minute
)

// Config holds the viewer settings parsed from its YAML file.
type Config struct {
	// Host and Port locate the producer (connect mode) or the address to
	// bind (listen mode).
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Mode is one of: connect | listen.
	Mode string `yaml:"mode"`

	// Format is one of: plain | structured.
	Format string `yaml:"format"`

	// Color enables ANSI styling when the output is a terminal.
	Color bool `yaml:"color"`

	// RetryInterval is the pause between reconnect attempts.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// HTTPAddr enables the REST API and WebSocket hub on host:port.
	// Empty disables them.
	HTTPAddr string `yaml:"http_addr"`

	// History controls the in-memory message history served over HTTP.
	History HistoryConfig `yaml:"history"`
}

// HistoryConfig controls in-memory message retention.
type HistoryConfig struct {
	// Size is the maximum number of messages kept.
	Size int `yaml:"size"`

	// TTL is how long a message stays in history after it arrived.
	TTL time.Duration `yaml:"ttl"`
}

// Default returns a Config with every field at its default value.
func Default() *Config {
	return &Config{
		Host:          producer.DefaultHost,
		Port:          producer.DefaultPort,
		Mode:          ModeConnect,
		Format:        FormatPlain,
		Color:         true,
		RetryInterval: DefaultRetryInterval,
		History: HistoryConfig{
			Size: DefaultHistorySize,
			TTL:  DefaultHistoryTTL,
		},
	}
}

// Load reads and parses the config file at path, returning the viewer
// configuration. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("viewer config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("viewer config: parse yaml: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("viewer config: %w", err)
	}

	return cfg, nil
}

// Validate checks structural constraints on the configuration.
func Validate(cfg *Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d is out of range [0, 65535]", cfg.Port)
	}
	switch cfg.Mode {
	case ModeConnect, ModeListen:
	default:
		return fmt.Errorf("mode %q unknown: want connect|listen", cfg.Mode)
	}
	switch cfg.Format {
	case FormatPlain, FormatStructured:
	default:
		return fmt.Errorf("format %q unknown: want plain|structured", cfg.Format)
	}
	if cfg.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive")
	}
	if cfg.History.Size <= 0 {
		return fmt.Errorf("history.size must be positive")
	}
	if cfg.History.TTL < 0 {
		return fmt.Errorf("history.ttl must not be negative")
	}
	return nil
}
