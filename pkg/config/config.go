package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 13579
	DefaultQueueCapacity  = 1024
	DefaultBackoffInitial = 100 * time.Millisecond
	DefaultBackoffMax     = 3 * time.Second
	DefaultRetryLimit     = 3
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultWriteTimeout   = 5 * time.Second

	// RemoteBindHost is the listen address used in insecure-remote mode.
	RemoteBindHost = "0.0.0.0"
)

// Connection modes.
const (
	ModeListen = "listen" // producer accepts one viewer at a time
	ModeDial   = "dial"   // producer dials a listening viewer
)

// Environment variables consulted by FromEnvironment.
const (
	EnvConfig         = "RDBG_CONFIG"
	EnvEnabled        = "RDBG_ENABLED"
	EnvHost           = "RDBG_HOST"
	EnvPort           = "RDBG_PORT"
	EnvInsecureRemote = "RDBG_INSECURE_REMOTE"
	EnvMode           = "RDBG_MODE"
)

// Config holds the producer-side settings. Fields map 1:1 to rdbg.yaml.
type Config struct {
	// Enabled turns the whole pipeline on. When false every capture and
	// transport call is a no-op.
	Enabled bool `yaml:"enabled"`

	// Host is the address the producer listens on (listen mode) or dials
	// (dial mode). Loopback by default.
	Host string `yaml:"host"`

	// Port is the TCP port of the debug channel.
	Port int `yaml:"port"`

	// InsecureRemote makes the producer listen on all interfaces. There is
	// no authentication on the channel.
	InsecureRemote bool `yaml:"insecure_remote"`

	// Mode is one of: listen | dial.
	Mode string `yaml:"mode"`

	// QueueCapacity bounds the number of undelivered messages held in memory.
	QueueCapacity int `yaml:"queue_capacity"`

	// BackoffInitial and BackoffMax bound the reconnect delay.
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	// RetryLimit is how many more times a message whose write failed is
	// retried on later connections before it is dropped.
	RetryLimit int `yaml:"retry_limit"`

	// PollInterval is how long the worker blocks on an empty queue or an
	// accept before re-checking for shutdown.
	PollInterval time.Duration `yaml:"poll_interval"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MetricsAddr, when set, is where binaries serve the transport's
	// Prometheus metrics (host:port).
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config with every field at its default value.
func Default() Config {
	return Config{
		Enabled:        true,
		Host:           DefaultHost,
		Port:           DefaultPort,
		Mode:           ModeListen,
		QueueCapacity:  DefaultQueueCapacity,
		BackoffInitial: DefaultBackoffInitial,
		BackoffMax:     DefaultBackoffMax,
		RetryLimit:     DefaultRetryLimit,
		PollInterval:   DefaultPollInterval,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// Addr returns the host:port the transport binds or dials. In listen mode
// with InsecureRemote set, the host is replaced by RemoteBindHost.
func (c Config) Addr() string {
	host := c.Host
	if c.Mode != ModeDial && c.InsecureRemote {
		host = RemoteBindHost
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// FromEnvironment builds the configuration used when the first capture call
// initializes the pipeline: defaults, then the file named by RDBG_CONFIG if
// set, then individual RDBG_* overrides.
func FromEnvironment() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfig); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEnabled); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnabled, err)
		}
		cfg.Enabled = b
	}
	if v, ok := lookup(EnvHost); ok && v != "" {
		cfg.Host = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Port = p
	}
	if v, ok := lookup(EnvInsecureRemote); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvInsecureRemote, err)
		}
		cfg.InsecureRemote = b
	}
	if v, ok := lookup(EnvMode); ok && v != "" {
		cfg.Mode = v
	}
	return nil
}

// Validate checks structural constraints.
func Validate(cfg Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port)
	}
	switch cfg.Mode {
	case ModeListen, ModeDial:
	default:
		return fmt.Errorf("mode %q unknown: want listen|dial", cfg.Mode)
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	if cfg.BackoffInitial <= 0 {
		return fmt.Errorf("backoff_initial must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		return fmt.Errorf("backoff_max must be >= backoff_initial")
	}
	if cfg.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must not be negative")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	return nil
}
