// Package receiver turns the client's connection events into viewer state.
//
// For every Connected event it opens a session (a random UUID) and prints the
// connect banner. Messages are added to the history store, rendered to the
// terminal and published to WebSocket subscribers. Disconnected and Error
// events update the status reported by GET /api/v1/status.
//
// Repeated identical connect failures are printed once; a viewer started
// before its producer would otherwise print a banner every retry interval.
package receiver
