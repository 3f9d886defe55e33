package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/remdbg/remdbg/pkg/config"
	"github.com/remdbg/remdbg/pkg/wire"
)

// Shipper buffers messages and delivers them to a viewer over TCP.
// Enqueue is non-blocking; when the queue is full the oldest message is
// evicted. Start spawns the single worker goroutine that owns the connection.
type Shipper struct {
	cfg     config.Config
	log     *slog.Logger
	diag    func(Event)
	q       *outbound
	reg     *prometheus.Registry
	metrics *metrics
	dropped atomic.Uint64

	mu       sync.Mutex
	started  bool
	closed   atomic.Bool
	stop     chan struct{} // closed by Shutdown
	deadline time.Time     // guarded by mu; set once by Shutdown
	done     chan struct{} // closed when the worker exits
	drained  atomic.Bool

	newConnector func(addr string) connector // injectable for tests
}

// New creates a Shipper. The worker is not running until Start is called;
// messages enqueued before that wait in the queue.
func New(cfg config.Config, opts ...Option) *Shipper {
	cfg = withDefaults(cfg)
	s := &Shipper{
		cfg:  cfg,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		q:    newOutbound(cfg.QueueCapacity),
		reg:  prometheus.NewRegistry(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.metrics = newMetrics(s.reg, func() float64 { return float64(s.q.len()) })
	s.newConnector = s.defaultConnector
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withDefaults fills unset tuning fields so a Config literal that only names
// the address still delivers. A zero RetryLimit is kept: it means no retries.
func withDefaults(cfg config.Config) config.Config {
	def := config.Default()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = def.RetryLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

// Registry returns the registry holding this Shipper's metrics.
func (s *Shipper) Registry() *prometheus.Registry { return s.reg }

// Dropped returns how many messages this Shipper has discarded.
func (s *Shipper) Dropped() uint64 { return s.dropped.Load() }

// Enqueue hands m to the worker. It never blocks beyond a short critical
// section and never fails; overflow evicts the oldest queued message.
func (s *Shipper) Enqueue(m wire.Message) {
	evicted, ok := s.q.push(m)
	if !ok {
		s.drop(1, reasonShutdown, ErrShutdown)
		return
	}
	s.metrics.enqueued.Inc()
	if evicted {
		s.drop(1, reasonOverflow, ErrQueueOverflow)
	}
}

// Start spawns the worker using the configured host and port.
func (s *Shipper) Start() {
	s.StartAt(s.cfg.Host, s.cfg.Port)
}

// StartAt spawns the worker targeting host:port. Only the first call of
// Start or StartAt has any effect; calls after Shutdown are ignored.
func (s *Shipper) StartAt(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed.Load() {
		return
	}
	s.started = true

	if s.cfg.Mode != config.ModeDial && s.cfg.InsecureRemote {
		host = config.RemoteBindHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go s.run(s.newConnector(addr))
}

// Flush blocks until every message enqueued before the call has been written
// or dropped, or timeout elapses. The worker keeps running afterwards.
func (s *Shipper) Flush(timeout time.Duration) bool {
	return s.q.wait(s.q.mark(), timeout)
}

// Shutdown stops reconnect backoff, drains the queue as fast as the
// connection allows and stops the worker. It returns true if the queue was
// fully delivered before timeout. Messages still queued at the deadline are
// dropped and counted.
func (s *Shipper) Shutdown(timeout time.Duration) bool {
	s.mu.Lock()
	first := !s.closed.Swap(true)
	if first {
		s.deadline = time.Now().Add(timeout)
		// Reject further pushes before the worker can observe stop, so
		// nothing lands in the queue after its final drain.
		s.q.close()
		close(s.stop)
	}
	deadline := s.deadline
	started := s.started
	s.mu.Unlock()

	if !started {
		if !first {
			return s.q.idle()
		}
		drained := s.q.idle()
		if n := s.q.clear(); n > 0 {
			s.drop(n, reasonShutdown, ErrShutdown)
		}
		return drained
	}

	// The worker enforces the deadline itself; the grace period only covers
	// the final write it may be blocked in.
	timer := time.NewTimer(time.Until(deadline) + s.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.drained.Load()
	case <-timer.C:
		return false
	}
}

func (s *Shipper) defaultConnector(addr string) connector {
	if s.cfg.Mode == config.ModeDial {
		return &dialConnector{addr: addr, timeout: s.cfg.WriteTimeout}
	}
	return &listenConnector{addr: addr}
}

func (s *Shipper) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// shutdownDeadline returns the drain deadline, or the zero time while running.
func (s *Shipper) shutdownDeadline() time.Time {
	if !s.stopping() {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

func (s *Shipper) expired() bool {
	d := s.shutdownDeadline()
	return !d.IsZero() && !time.Now().Before(d)
}

func (s *Shipper) drop(n int, reason string, err error) {
	s.dropped.Add(uint64(n))
	droppedTotal.Add(uint64(n))
	s.metrics.dropped.WithLabelValues(reason).Add(float64(n))
	s.emit(Event{Kind: EventDropped, Err: err, Count: n})
}

func (s *Shipper) emit(ev Event) {
	if s.diag != nil {
		s.diag(ev)
	}
}

// worker is the state owned by the delivery goroutine.
type worker struct {
	s        *Shipper
	held     *entry // in-flight message, sent before anything else is popped
	attempts int    // failed writes of held
	buf      []byte
}

// run is the delivery loop. It reconnects with exponential backoff while the
// Shipper is running and switches to short polls once Shutdown is called.
func (s *Shipper) run(c connector) {
	w := &worker{s: s}
	defer close(s.done)
	defer c.close()

	bo := newBackoff(s.cfg.BackoffInitial, s.cfg.BackoffMax)

	for {
		if s.stopping() && w.idle() {
			s.drained.Store(true)
			return
		}
		if s.expired() {
			w.abandon()
			return
		}

		conn, err := c.connect(s.cfg.PollInterval)
		if errors.Is(err, errNoPeer) {
			continue
		}
		if err != nil {
			wait := bo.next()
			if s.stopping() {
				wait = s.cfg.PollInterval
			}
			s.log.Debug("transport: connect failed, will retry",
				"addr", c.address(),
				"err", err,
				"retry_in", wait)
			s.emit(Event{Kind: EventConnectFailed, Addr: c.address(), Err: err})
			w.sleep(wait)
			continue
		}

		addr := conn.RemoteAddr().String()
		s.log.Info("transport: viewer connected", "addr", addr)
		s.metrics.reconnects.Inc()
		s.metrics.connected.Set(1)
		s.emit(Event{Kind: EventConnected, Addr: addr})
		bo.reset()

		err = w.serve(conn)
		_ = conn.Close()
		s.metrics.connected.Set(0)

		if err == nil {
			continue
		}
		s.log.Warn("transport: connection lost", "addr", addr, "err", err)
		s.emit(Event{Kind: EventDisconnected, Addr: addr, Err: err})
	}
}

// serve writes the version greeting and then frames until the connection
// fails, the queue is drained during shutdown, or the deadline passes.
// A nil return means the worker should stop using this connection without
// treating it as a failure.
func (w *worker) serve(conn net.Conn) error {
	s := w.s

	_ = conn.SetWriteDeadline(w.writeDeadline())
	if err := wire.WriteVersion(conn); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	for {
		if w.held == nil {
			if s.stopping() && s.q.idle() {
				return nil
			}
			if s.expired() {
				return nil
			}
			e, ok := s.q.pop(s.cfg.PollInterval)
			if !ok {
				continue
			}
			w.held = &e
			w.attempts = 0
		}

		frame, err := wire.AppendFrame(w.buf[:0], w.held.msg)
		if err != nil {
			s.log.Warn("transport: dropping unencodable message", "err", err)
			w.settle()
			s.drop(1, reasonEncode, err)
			continue
		}
		w.buf = frame

		_ = conn.SetWriteDeadline(w.writeDeadline())
		if _, err := conn.Write(frame); err != nil {
			w.attempts++
			if w.attempts > s.cfg.RetryLimit {
				w.settle()
				s.drop(1, reasonRetryLimit, ErrRetryLimit)
			}
			return fmt.Errorf("write: %w", err)
		}
		s.metrics.sent.Inc()
		w.settle()
	}
}

// writeDeadline bounds a single write by the write timeout and, during
// shutdown, by the drain deadline.
func (w *worker) writeDeadline() time.Time {
	d := time.Now().Add(w.s.cfg.WriteTimeout)
	if sd := w.s.shutdownDeadline(); !sd.IsZero() && sd.Before(d) {
		d = sd
	}
	return d
}

func (w *worker) idle() bool {
	return w.held == nil && w.s.q.idle()
}

func (w *worker) settle() {
	w.held = nil
	w.attempts = 0
	w.s.q.settle()
}

// abandon drops everything still pending once the drain deadline has passed.
func (w *worker) abandon() {
	n := 0
	if w.held != nil {
		n++
		w.held = nil
	}
	n += w.s.q.clear()
	if n > 0 {
		w.s.log.Warn("transport: shutdown deadline reached, dropping messages", "count", n)
		w.s.drop(n, reasonShutdown, ErrShutdown)
	}
}

// sleep waits for d, returning early when Shutdown is called. Once stopping
// it always waits the full d so failed dials do not spin.
func (w *worker) sleep(d time.Duration) {
	if w.s.stopping() {
		time.Sleep(d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.s.stop:
	}
}
