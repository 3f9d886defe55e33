// Package store keeps the viewer's recent message history in a fixed-size
// ring with TTL eviction, for the HTTP API and late WebSocket subscribers.
package store
