// Package ws streams viewer events to browser clients over WebSocket.
//
// New(store, backlog) creates a Hub. Hub.Run(ctx) fans out published events
// until ctx is cancelled, then closes all connections. Hub.ServeHTTP upgrades
// the request, replays up to backlog recent messages, then streams live
// events. The hub is mounted at /ws/stream by rdbg-view.
//
// Envelope sent to clients:
//
//	{"event": "message",      "data": { /* api.MessageResponse */ }}
//	{"event": "connected",    "data": { /* api.SessionResponse */ }}
//	{"event": "disconnected", "data": { /* api.SessionResponse */ }}
//
// Slow clients whose send buffer fills are disconnected.
package ws
