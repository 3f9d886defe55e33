package client

import (
	"context"
	"errors"
	"iter"
	"net"
	"time"

	"github.com/remdbg/remdbg/pkg/wire"
)

// EventKind classifies a Follow event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventMessage
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one step of a followed session.
type Event struct {
	Kind    EventKind
	Addr    net.Addr     // peer, for Connected and Disconnected
	Message wire.Message // for EventMessage
	Err     error        // cause, for Disconnected and Error
}

// Follow connects to host:port and keeps reconnecting every RetryInterval
// until ctx is done. Each session yields Connected, its messages, then
// Disconnected. Failed attempts yield Error. A protocol version mismatch or a
// closed listener is fatal: it is yielded as Error and the sequence ends.
func Follow(ctx context.Context, host string, port int, cfg Config) iter.Seq[Event] {
	return follow(ctx, cfg, func(ctx context.Context) (*Conn, error) {
		return Connect(ctx, host, port, cfg)
	})
}

// Follow accepts producers one after another until ctx is done, yielding the
// same events as the package-level Follow.
func (l *Listener) Follow(ctx context.Context) iter.Seq[Event] {
	return follow(ctx, l.cfg, l.Accept)
}

func follow(ctx context.Context, cfg Config, open func(context.Context) (*Conn, error)) iter.Seq[Event] {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	return func(yield func(Event) bool) {
		for ctx.Err() == nil {
			c, err := open(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(Event{Kind: EventError, Err: err}) {
					return
				}
				if fatal(err) || !sleep(ctx, retry) {
					return
				}
				continue
			}

			if !session(ctx, c, yield) || !sleep(ctx, retry) {
				return
			}
		}
	}
}

// session yields one connection's events. It returns false when the consumer
// stopped the iteration or the error was fatal.
func session(ctx context.Context, c *Conn, yield func(Event) bool) bool {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	addr := c.RemoteAddr()
	if !yield(Event{Kind: EventConnected, Addr: addr}) {
		return false
	}
	for {
		m, err := c.Next()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if errors.Is(err, wire.ErrConnectionClosed) {
				err = nil
			}
			return yield(Event{Kind: EventDisconnected, Addr: addr, Err: err})
		}
		if !yield(Event{Kind: EventMessage, Message: m}) {
			return false
		}
	}
}

// fatal reports errors that retrying cannot fix.
func fatal(err error) bool {
	return errors.Is(err, wire.ErrVersionMismatch) || errors.Is(err, net.ErrClosed)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
