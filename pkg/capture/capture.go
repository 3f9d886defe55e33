// Package capture is the call-site API: it turns text or expression/value
// pairs into wire messages stamped with the caller's file, line and goroutine,
// and hands them to a transport.
package capture

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"

	"github.com/remdbg/remdbg/pkg/config"
	"github.com/remdbg/remdbg/pkg/transport"
	"github.com/remdbg/remdbg/pkg/wire"
)

// Formatter produces the display string for a captured value.
type Formatter func(v any) string

// DefaultFormatter renders values with %+v.
func DefaultFormatter(v any) string { return fmt.Sprintf("%+v", v) }

// Debugger builds messages at call sites and enqueues them.
type Debugger struct {
	tr     transport.Transport
	format Formatter
	off    bool
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithFormatter replaces DefaultFormatter for Vals.
func WithFormatter(f Formatter) Option {
	return func(d *Debugger) {
		if f != nil {
			d.format = f
		}
	}
}

// New wraps tr. A transport.Noop makes every call return before any
// formatting work is done.
func New(tr transport.Transport, opts ...Option) *Debugger {
	if tr == nil {
		tr = transport.Noop{}
	}
	_, off := tr.(transport.Noop)
	d := &Debugger{tr: tr, format: DefaultFormatter, off: off}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FromConfig builds a Debugger for cfg and starts its transport. A disabled
// config yields a no-op Debugger.
func FromConfig(cfg config.Config, opts ...transport.Option) *Debugger {
	if !cfg.Enabled {
		return New(transport.Noop{})
	}
	s := transport.New(cfg, opts...)
	s.Start()
	return New(s)
}

// Transport returns the underlying transport.
func (d *Debugger) Transport() transport.Transport { return d.tr }

// Msg sends a text message. With no args, format is sent verbatim.
func (d *Debugger) Msg(format string, args ...any) {
	if d.off {
		return
	}
	d.msg(2, format, args...)
}

func (d *Debugger) msg(skip int, format string, args ...any) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	d.tr.Enqueue(wire.NewText(threadID(), caller(skip+1), text))
}

// Vals sends a value dump. kv alternates expression text and value:
//
//	d.Vals("len(queue)", len(q), "user.ID", u.ID)
//
// A trailing expression without a value is reported as "<missing>".
func (d *Debugger) Vals(kv ...any) {
	if d.off {
		return
	}
	d.vals(2, kv...)
}

func (d *Debugger) vals(skip int, kv ...any) {
	var pairs []wire.Pair
	if len(kv) > 0 {
		pairs = make([]wire.Pair, 0, (len(kv)+1)/2)
	}
	for i := 0; i < len(kv); i += 2 {
		expr, ok := kv[i].(string)
		if !ok {
			expr = d.format(kv[i])
		}
		value := "<missing>"
		if i+1 < len(kv) {
			value = d.format(kv[i+1])
		}
		pairs = append(pairs, wire.Pair{Expr: expr, Value: value})
	}
	d.tr.Enqueue(wire.Message{
		Timestamp: uint64(time.Now().UnixMilli()),
		ThreadID:  threadID(),
		Location:  caller(skip + 1),
		Payload:   wire.Values(pairs),
	})
}

// Flush waits until everything captured so far has left the process.
func (d *Debugger) Flush(timeout time.Duration) bool { return d.tr.Flush(timeout) }

// Shutdown drains and stops the transport.
func (d *Debugger) Shutdown(timeout time.Duration) bool { return d.tr.Shutdown(timeout) }

func threadID() string {
	return strconv.FormatInt(goid.Get(), 10)
}

// caller reports the location skip frames above itself, as the last
// directory plus file name.
func caller(skip int) wire.Location {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return wire.Location{File: "???"}
	}
	dir, base := filepath.Split(file)
	if dir != "" {
		base = filepath.Join(filepath.Base(dir), base)
	}
	return wire.Location{File: filepath.ToSlash(base), Line: uint32(line)}
}

var (
	defaultMu  sync.Mutex
	defaultDbg atomic.Pointer[Debugger]
)

// Default returns the process-wide Debugger, building it from the
// environment on first use (see config.FromEnvironment). An invalid
// environment disables capture rather than failing the host program.
func Default() *Debugger {
	if d := defaultDbg.Load(); d != nil {
		return d
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if d := defaultDbg.Load(); d != nil {
		return d
	}
	var d *Debugger
	if cfg, err := config.FromEnvironment(); err != nil {
		d = New(transport.Noop{})
	} else {
		d = FromConfig(*cfg)
	}
	defaultDbg.Store(d)
	return d
}

// Init installs d as the process-wide Debugger, replacing any lazily built
// one. The replaced Debugger is returned so the caller can shut it down.
func Init(d *Debugger) *Debugger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultDbg.Swap(d)
}

// Msg sends a text message through the Default Debugger.
func Msg(format string, args ...any) {
	if d := Default(); !d.off {
		d.msg(2, format, args...)
	}
}

// Vals sends a value dump through the Default Debugger.
func Vals(kv ...any) {
	if d := Default(); !d.off {
		d.vals(2, kv...)
	}
}

// Flush flushes the Default Debugger.
func Flush(timeout time.Duration) bool { return Default().Flush(timeout) }

// Shutdown drains and stops the Default Debugger's transport.
func Shutdown(timeout time.Duration) bool { return Default().Shutdown(timeout) }
