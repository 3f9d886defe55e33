package transport

import (
	"errors"
	"net"
	"time"
)

// errNoPeer means a listen-mode connector waited its full interval without a
// viewer connecting. It is not a failure and does not trigger backoff.
var errNoPeer = errors.New("transport: no viewer connected")

// connector produces the worker's connections. Only the worker goroutine
// calls it.
type connector interface {
	// connect returns the next connection, waiting at most wait.
	connect(wait time.Duration) (net.Conn, error)
	address() string
	close() error
}

// listenConnector binds addr once and accepts one viewer at a time.
type listenConnector struct {
	addr string
	ln   *net.TCPListener
}

func (l *listenConnector) connect(wait time.Duration) (net.Conn, error) {
	if l.ln == nil {
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			return nil, err
		}
		l.ln = ln.(*net.TCPListener)
	}
	if err := l.ln.SetDeadline(time.Now().Add(wait)); err != nil {
		return nil, err
	}
	conn, err := l.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, errNoPeer
		}
		_ = l.ln.Close()
		l.ln = nil
		return nil, err
	}
	return conn, nil
}

func (l *listenConnector) address() string {
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.addr
}

func (l *listenConnector) close() error {
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}

// dialConnector dials a listening viewer.
type dialConnector struct {
	addr    string
	timeout time.Duration
}

func (d *dialConnector) connect(_ time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", d.addr, d.timeout)
}

func (d *dialConnector) address() string { return d.addr }

func (d *dialConnector) close() error { return nil }
