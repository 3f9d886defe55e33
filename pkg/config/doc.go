// Package config loads and watches the producer configuration (rdbg.yaml).
//
// Config fields: enabled, host, port, insecure_remote, mode (listen|dial),
// queue_capacity, backoff_initial, backoff_max, retry_limit, poll_interval,
// write_timeout, metrics_addr.
//
// Load(path) reads the YAML file, applies defaults (loopback 127.0.0.1:13579,
// listen mode, 1024-message queue, 100ms→3s backoff, 3 retries), then
// validates ranges and enums.
//
// FromEnvironment() is what the capture package uses on first use: defaults,
// then the file named by RDBG_CONFIG, then RDBG_ENABLED, RDBG_HOST, RDBG_PORT,
// RDBG_INSECURE_REMOTE and RDBG_MODE.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory and calls
// onChange with the newly parsed Config. Atomic-save editors (vim, VS Code)
// replace the file via rename; watching the directory catches the Create.
package config
