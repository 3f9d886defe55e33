package receiver

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remdbg/remdbg/pkg/client"
	"github.com/remdbg/remdbg/viewer/internal/api"
	"github.com/remdbg/remdbg/viewer/internal/render"
	"github.com/remdbg/remdbg/viewer/internal/store"
	"github.com/remdbg/remdbg/viewer/internal/ws"
)

// Publisher fans viewer events out to live subscribers. *ws.Hub implements it.
type Publisher interface {
	Publish(event string, data any)
	PublishEntry(e store.Entry)
}

// Receiver consumes client events. Each message is stored, rendered and
// published; each connection gets its own session id.
type Receiver struct {
	store   *store.Store
	printer *render.Printer
	pub     Publisher // nil when the HTTP surface is disabled

	mode   string
	target string

	mu        sync.Mutex
	connected bool
	session   string
	peer      string
	since     time.Time
	sessions  int
	received  uint64
	lastErr   string

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New creates a Receiver. mode and target describe the viewer's connection
// for status reports; pub may be nil.
func New(st *store.Store, printer *render.Printer, pub Publisher, mode, target string) *Receiver {
	return &Receiver{
		store:   st,
		printer: printer,
		pub:     pub,
		mode:    mode,
		target:  target,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Run handles events until the sequence ends or ctx is cancelled.
func (r *Receiver) Run(ctx context.Context, events iter.Seq[client.Event]) {
	for ev := range events {
		r.Handle(ev)
		if ctx.Err() != nil {
			return
		}
	}
}

// Handle processes a single event.
func (r *Receiver) Handle(ev client.Event) {
	switch ev.Kind {
	case client.EventConnected:
		r.connect(ev)
	case client.EventMessage:
		r.message(ev)
	case client.EventDisconnected:
		r.disconnect(ev)
	case client.EventError:
		r.fail(ev)
	}
}

func (r *Receiver) connect(ev client.Event) {
	peer := addrString(ev)
	r.mu.Lock()
	r.connected = true
	r.session = r.newID()
	r.peer = peer
	r.since = r.now()
	r.sessions++
	r.lastErr = ""
	session, at := r.session, r.since
	r.mu.Unlock()

	slog.Info("receiver: connected", "session", session, "peer", peer)
	r.printer.Connected(peer)
	r.publish(ws.EventConnected, api.SessionResponse{
		Session: session,
		Peer:    peer,
		At:      at.UTC().Format(time.RFC3339Nano),
	})
}

func (r *Receiver) message(ev client.Event) {
	r.mu.Lock()
	r.received++
	session := r.session
	r.mu.Unlock()

	e := r.store.Add(session, ev.Message)
	if err := r.printer.Message(ev.Message); err != nil {
		slog.Warn("receiver: render message", "err", err)
	}
	if r.pub != nil {
		r.pub.PublishEntry(e)
	}

	slog.Debug("receiver: message stored",
		"id", e.ID,
		"session", session,
		"kind", ev.Message.Kind(),
		"file", ev.Message.Location.File,
	)
}

func (r *Receiver) disconnect(ev client.Event) {
	peer := addrString(ev)
	r.mu.Lock()
	session := r.session
	r.connected = false
	r.session = ""
	r.peer = ""
	r.since = time.Time{}
	if ev.Err != nil {
		r.lastErr = ev.Err.Error()
	}
	at := r.now()
	r.mu.Unlock()

	resp := api.SessionResponse{Session: session, Peer: peer, At: at.UTC().Format(time.RFC3339Nano)}
	if ev.Err != nil {
		resp.Error = ev.Err.Error()
		slog.Warn("receiver: disconnected", "session", session, "peer", peer, "err", ev.Err)
	} else {
		slog.Info("receiver: disconnected", "session", session, "peer", peer)
	}
	r.printer.Disconnected(peer, ev.Err)
	r.publish(ws.EventDisconnected, resp)
}

func (r *Receiver) fail(ev client.Event) {
	if ev.Err == nil {
		return
	}
	r.mu.Lock()
	repeated := r.lastErr == ev.Err.Error()
	r.lastErr = ev.Err.Error()
	r.mu.Unlock()

	// A viewer waiting for its producer sees the same refusal every retry.
	if repeated {
		slog.Debug("receiver: connect failed", "err", ev.Err)
		return
	}
	slog.Warn("receiver: connect failed", "err", ev.Err)
	r.printer.Error(ev.Err)
}

func (r *Receiver) publish(event string, data api.SessionResponse) {
	if r.pub != nil {
		r.pub.Publish(event, data)
	}
}

// Status implements api.StatusSource.
func (r *Receiver) Status() api.StatusResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := api.StatusResponse{
		Mode:      r.mode,
		Target:    r.target,
		Connected: r.connected,
		Session:   r.session,
		Peer:      r.peer,
		Sessions:  r.sessions,
		Received:  r.received,
		LastError: r.lastErr,
	}
	if r.connected {
		resp.ConnectedSince = r.since.UTC().Format(time.RFC3339)
	}
	return resp
}

func addrString(ev client.Event) string {
	if ev.Addr == nil {
		return "unknown"
	}
	return ev.Addr.String()
}
