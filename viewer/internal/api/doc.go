// Package api implements the viewer's HTTP API.
//
// New(store, status) returns a chi router that serves:
//
//	GET /healthz                         liveness probe
//	GET /api/v1/messages?after=&limit=   recent messages, oldest first
//	GET /api/v1/status                   connection state and counters
//
// All endpoints respond with Content-Type: application/json and return a
// JSON {"error": ...} body with 405 for other methods and 404 for unknown
// paths. JSON types are defined in types.go and shared with the ws package.
package api
