// Package client is the viewer side of the debug channel. It connects to a
// producer (or accepts one), checks the protocol version and yields decoded
// messages one pull at a time.
package client

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"strconv"
	"time"

	"github.com/remdbg/remdbg/pkg/wire"
)

// Config controls connection establishment and decoding limits.
type Config struct {
	// DialTimeout bounds Connect. Zero means no timeout beyond ctx.
	DialTimeout time.Duration

	// MaxFrameSize rejects frames whose announced length exceeds it.
	// Zero means wire.MaxFrameSize.
	MaxFrameSize uint32

	// RetryInterval is the pause between reconnect attempts in Follow.
	RetryInterval time.Duration
}

// DefaultRetryInterval is the reconnect pause used when Config leaves it unset.
const DefaultRetryInterval = 250 * time.Millisecond

// DefaultConfig returns the settings used by the viewer.
func DefaultConfig() Config {
	return Config{
		DialTimeout:   5 * time.Second,
		MaxFrameSize:  wire.MaxFrameSize,
		RetryInterval: DefaultRetryInterval,
	}
}

// ConnectionError reports an unreachable or refusing address.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("client: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrNoGreeting means the peer accepted the TCP connection but sent no
// version byte in time. A listen-mode producer already serving another
// viewer looks like this.
var ErrNoGreeting = errors.New("client: no version greeting from peer")

// Conn is one established debug connection. It is not safe for concurrent
// use except that Close may be called from another goroutine to unblock Next.
type Conn struct {
	conn net.Conn
	dec  *wire.Decoder
}

// Connect dials host:port and reads the producer's version greeting.
func Connect(ctx context.Context, host string, port int, cfg Config) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return newConn(ctx, nc, cfg)
}

// NewConn wraps an already established connection, reading the version
// greeting from it within cfg.DialTimeout. On error nc is closed.
func NewConn(nc net.Conn, cfg Config) (*Conn, error) {
	return newConn(context.Background(), nc, cfg)
}

// newConn reads the greeting, bounded by ctx and cfg.DialTimeout. A peer that
// stays silent yields a *ConnectionError wrapping ErrNoGreeting, or ctx.Err()
// when ctx ended first.
func newConn(ctx context.Context, nc net.Conn, cfg Config) (*Conn, error) {
	deadline, ok := ctx.Deadline()
	if cfg.DialTimeout > 0 {
		if d := time.Now().Add(cfg.DialTimeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	if ok {
		_ = nc.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetReadDeadline(time.Now())
	})

	err := wire.ReadVersion(nc)
	// Once the callback has started it may still move the deadline, so the
	// connection is only reused when it never ran.
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		nc.Close()
		addr := nc.RemoteAddr().String()
		if ctx.Err() != nil {
			return nil, &ConnectionError{Addr: addr, Err: ctx.Err()}
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &ConnectionError{Addr: addr, Err: ErrNoGreeting}
		}
		return nil, err
	}
	_ = nc.SetReadDeadline(time.Time{})
	dec := wire.NewDecoder(nc)
	if cfg.MaxFrameSize != 0 {
		dec.SetMaxFrameSize(cfg.MaxFrameSize)
	}
	return &Conn{conn: nc, dec: dec}, nil
}

// Next blocks for the next message. It returns wire.ErrConnectionClosed when
// the producer closed the stream at a frame boundary and a *wire.ProtocolError
// for malformed or truncated input. Both are terminal.
func (c *Conn) Next() (wire.Message, error) {
	return c.dec.Next()
}

// All yields messages until the stream ends. A clean close ends the sequence
// silently; any other failure is yielded once as a non-nil error, then the
// sequence ends. All does not close the connection.
func (c *Conn) All() iter.Seq2[wire.Message, error] {
	return func(yield func(wire.Message, error) bool) {
		for {
			m, err := c.Next()
			if errors.Is(err, wire.ErrConnectionClosed) {
				return
			}
			if err != nil {
				yield(wire.Message{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// RemoteAddr returns the producer's address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Listener accepts producers that run in dial mode.
type Listener struct {
	ln  *net.TCPListener
	cfg Config
}

// Listen binds host:port.
func Listen(host string, port int, cfg Config) (*Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return &Listener{ln: ln.(*net.TCPListener), cfg: cfg}, nil
}

// Accept waits for a producer and reads its version greeting. Cancelling ctx
// unblocks the wait without closing the listener. The greeting read is also
// bounded by the config's DialTimeout.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer func() {
		stop()
		_ = l.ln.SetDeadline(time.Time{})
	}()

	nc, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return newConn(ctx, nc, l.cfg)
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops listening.
func (l *Listener) Close() error { return l.ln.Close() }
