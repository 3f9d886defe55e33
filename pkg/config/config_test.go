package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
enabled: true
host: 10.0.0.5
port: 4000
mode: dial
queue_capacity: 64
backoff_initial: 20ms
backoff_max: 1s
retry_limit: 5
metrics_addr: ":9464"
`
	cfg := loadFromString(t, yaml)

	if cfg.Host != "10.0.0.5" {
		t.Errorf("host: got %q", cfg.Host)
	}
	if cfg.Port != 4000 {
		t.Errorf("port: got %d", cfg.Port)
	}
	if cfg.Mode != ModeDial {
		t.Errorf("mode: got %q", cfg.Mode)
	}
	if cfg.QueueCapacity != 64 {
		t.Errorf("queue_capacity: got %d", cfg.QueueCapacity)
	}
	if cfg.BackoffInitial != 20*time.Millisecond || cfg.BackoffMax != time.Second {
		t.Errorf("backoff: got %v..%v", cfg.BackoffInitial, cfg.BackoffMax)
	}
	if cfg.RetryLimit != 5 {
		t.Errorf("retry_limit: got %d", cfg.RetryLimit)
	}
	if cfg.MetricsAddr != ":9464" {
		t.Errorf("metrics_addr: got %q", cfg.MetricsAddr)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "port: 13580\n")

	if !cfg.Enabled {
		t.Error("default enabled: got false")
	}
	if cfg.Host != DefaultHost {
		t.Errorf("default host: got %q, want %q", cfg.Host, DefaultHost)
	}
	if cfg.Mode != ModeListen {
		t.Errorf("default mode: got %q, want %q", cfg.Mode, ModeListen)
	}
	if cfg.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("default queue_capacity: got %d, want %d", cfg.QueueCapacity, DefaultQueueCapacity)
	}
	if cfg.RetryLimit != DefaultRetryLimit {
		t.Errorf("default retry_limit: got %d, want %d", cfg.RetryLimit, DefaultRetryLimit)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("default poll_interval: got %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "port: 70000\n"},
		{"zero port", "port: 0\n"},
		{"unknown mode", "mode: broadcast\n"},
		{"zero queue", "queue_capacity: 0\n"},
		{"backoff inverted", "backoff_initial: 2s\nbackoff_max: 1s\n"},
		{"negative retries", "retry_limit: -1\n"},
		{"empty host", "host: \"\"\n"},
		{"not yaml", "port: [1, 2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.Addr(); got != "127.0.0.1:13579" {
		t.Errorf("Addr() = %q", got)
	}

	cfg.InsecureRemote = true
	if got := cfg.Addr(); got != "0.0.0.0:13579" {
		t.Errorf("insecure Addr() = %q", got)
	}

	cfg.Mode = ModeDial
	cfg.Host = "viewer.local"
	if got := cfg.Addr(); got != "viewer.local:13579" {
		t.Errorf("dial Addr() = %q, insecure_remote must not affect dial target", got)
	}
}

func TestFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdbg.yaml")
	if err := os.WriteFile(path, []byte("port: 5000\nqueue_capacity: 8\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvPort, "6000")
	t.Setenv(EnvInsecureRemote, "true")
	t.Setenv(EnvEnabled, "false")

	cfg, err := FromEnvironment()
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	if cfg.Port != 6000 {
		t.Errorf("port = %d, want env override 6000", cfg.Port)
	}
	if cfg.QueueCapacity != 8 {
		t.Errorf("queue_capacity = %d, want 8 from file", cfg.QueueCapacity)
	}
	if !cfg.InsecureRemote {
		t.Error("insecure_remote not applied")
	}
	if cfg.Enabled {
		t.Error("enabled not overridden")
	}
}

func TestFromEnvironment_BadValue(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	if _, err := FromEnvironment(); err == nil {
		t.Fatal("expected error for bad RDBG_PORT")
	}
}

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rdbg.yaml")
	if err := os.WriteFile(path, []byte("port: 5000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("port: 5001\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// A truncating write may surface an intermediate empty-file reload.
	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case c := <-got:
			seen = c.Port == 5001
		case <-deadline:
			t.Fatal("no reload with port 5001 observed")
		}
	}

	cancel()
	<-done
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdbg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
