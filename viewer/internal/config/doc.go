// Package config loads the rdbg-view configuration file.
//
// Config fields:
//   - Host, Port     producer address (default 127.0.0.1:13579)
//   - Mode           "connect" (default) or "listen" for dial-mode producers
//   - Format         "plain" (default) or "structured"
//   - Color          ANSI styling on terminals (default true)
//   - RetryInterval  reconnect pause (default 250ms)
//   - HTTPAddr       REST API + WebSocket address; empty disables
//   - History.Size   messages kept for the API (default 1000)
//   - History.TTL    how long a message stays in history (default 30m)
//
// Load(path) applies defaults before unmarshalling, then validates. Command
// line flags override file values in the rdbg-view binary.
package config
