package transport

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/remdbg/remdbg/pkg/wire"
)

// Transport is the producer-side delivery contract. Implementations never
// return errors to the caller and never block Enqueue.
type Transport interface {
	Enqueue(m wire.Message)
	Start()
	Shutdown(timeout time.Duration) bool
	Flush(timeout time.Duration) bool
}

// Noop is the disabled Transport. Every method returns immediately.
type Noop struct{}

func (Noop) Enqueue(wire.Message)        {}
func (Noop) Start()                      {}
func (Noop) Shutdown(time.Duration) bool { return true }
func (Noop) Flush(time.Duration) bool    { return true }

var (
	_ Transport = Noop{}
	_ Transport = (*Shipper)(nil)
)

// Reported through the diagnostics callback only.
var (
	ErrQueueOverflow = errors.New("transport: queue overflow, oldest message evicted")
	ErrRetryLimit    = errors.New("transport: retry limit reached, message dropped")
	ErrShutdown      = errors.New("transport: shut down before delivery")
)

// droppedTotal counts drops across every Shipper in the process.
var droppedTotal atomic.Uint64

// Dropped returns the process-wide number of messages discarded for
// capacity, retry exhaustion, encoding failure or shutdown timeout.
func Dropped() uint64 { return droppedTotal.Load() }

// EventKind classifies a diagnostics Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventConnectFailed
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event is delivered to the diagnostics callback. Err is set for
// EventDisconnected, EventConnectFailed and EventDropped.
type Event struct {
	Kind  EventKind
	Addr  string
	Err   error
	Count int
}

// Option configures a Shipper.
type Option func(*Shipper)

// WithLogger routes transport logs to l. By default the transport is silent.
func WithLogger(l *slog.Logger) Option {
	return func(s *Shipper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDiagnostics installs fn as the diagnostics callback. fn runs on the
// worker goroutine, and on the caller's goroutine for overflow drops, so it
// must return quickly.
func WithDiagnostics(fn func(Event)) Option {
	return func(s *Shipper) { s.diag = fn }
}
