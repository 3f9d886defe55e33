package client

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/remdbg/remdbg/pkg/config"
	"github.com/remdbg/remdbg/pkg/transport"
	"github.com/remdbg/remdbg/pkg/wire"
)

func textMsg(text string) wire.Message {
	return wire.Message{
		Timestamp: 1700000000000,
		ThreadID:  "1",
		Location:  wire.Location{File: "main.go", Line: 10},
		Payload:   wire.Text(text),
	}
}

// fakeProducer accepts connections and runs serve on each, in order.
func fakeProducer(t *testing.T, serve ...func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for _, fn := range serve {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fn(conn)
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func sendAll(t *testing.T, msgs ...wire.Message) func(net.Conn) {
	return func(conn net.Conn) {
		buf := []byte{wire.ProtocolVersion}
		for _, m := range msgs {
			var err error
			if buf, err = wire.AppendFrame(buf, m); err != nil {
				t.Errorf("AppendFrame: %v", err)
				return
			}
		}
		conn.Write(buf)
	}
}

func TestConnect_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Connect(context.Background(), "127.0.0.1", port, DefaultConfig())
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if ce.Addr == "" {
		t.Error("ConnectionError.Addr is empty")
	}
}

// silentPeer listens without ever accepting. The kernel still completes the
// TCP handshake, so a dialer connects and then waits for a greeting.
func silentPeer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestConnect_SilentPeerHonorsContext(t *testing.T) {
	port := silentPeer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Connect(ctx, "127.0.0.1", port, DefaultConfig())
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("Connect returned after %v, want about 300ms", d)
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestConnect_SilentPeerTimesOut(t *testing.T) {
	port := silentPeer(t)
	cfg := DefaultConfig()
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := Connect(context.Background(), "127.0.0.1", port, cfg)
	if !errors.Is(err, ErrNoGreeting) {
		t.Fatalf("err = %v, want ErrNoGreeting", err)
	}
}

func TestFollow_CancelWhileAwaitingGreeting(t *testing.T) {
	port := silentPeer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range Follow(ctx, "127.0.0.1", port, DefaultConfig()) {
		}
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not stop while waiting for a greeting")
	}
}

func TestConn_NextThenClosed(t *testing.T) {
	port := fakeProducer(t, sendAll(t, textMsg("a"), textMsg("b")))

	c, err := Connect(context.Background(), "127.0.0.1", port, DefaultConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	for _, want := range []string{"a", "b"} {
		m, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if m.Payload != wire.Text(want) {
			t.Errorf("payload = %v, want %s", m.Payload, want)
		}
	}
	if _, err := c.Next(); !errors.Is(err, wire.ErrConnectionClosed) {
		t.Fatalf("after stream end: err = %v, want ErrConnectionClosed", err)
	}
}

func TestConn_AllStopsOnCleanClose(t *testing.T) {
	port := fakeProducer(t, sendAll(t, textMsg("1"), textMsg("2"), textMsg("3")))
	c, err := Connect(context.Background(), "127.0.0.1", port, DefaultConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	var got []wire.Message
	for m, err := range c.All() {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		got = append(got, m)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
}

func TestConn_AllYieldsProtocolError(t *testing.T) {
	port := fakeProducer(t, func(conn net.Conn) {
		buf := []byte{wire.ProtocolVersion}
		buf = binary.BigEndian.AppendUint32(buf, 50)
		buf = append(buf, make([]byte, 10)...)
		conn.Write(buf)
	})
	c, err := Connect(context.Background(), "127.0.0.1", port, DefaultConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	var last error
	n := 0
	for _, err := range c.All() {
		n++
		last = err
	}
	if n != 1 || !errors.Is(last, wire.ErrProtocol) {
		t.Fatalf("All yielded %d items, last err %v; want one ProtocolError", n, last)
	}
}

func TestConnect_VersionMismatch(t *testing.T) {
	port := fakeProducer(t, func(conn net.Conn) { conn.Write([]byte{99}) })

	_, err := Connect(context.Background(), "127.0.0.1", port, DefaultConfig())
	if !errors.Is(err, wire.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestConn_MaxFrameSize(t *testing.T) {
	port := fakeProducer(t, sendAll(t, textMsg("this body is larger than the limit")))
	cfg := DefaultConfig()
	cfg.MaxFrameSize = 16

	c, err := Connect(context.Background(), "127.0.0.1", port, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	if _, err := c.Next(); !errors.Is(err, wire.ErrProtocol) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

func TestFollow_ReconnectsAcrossSessions(t *testing.T) {
	port := fakeProducer(t,
		sendAll(t, textMsg("first")),
		sendAll(t, textMsg("second")),
	)
	cfg := DefaultConfig()
	cfg.RetryInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var kinds []EventKind
	var texts []string
	for ev := range Follow(ctx, "127.0.0.1", port, cfg) {
		if ev.Kind == EventError {
			continue
		}
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventMessage {
			texts = append(texts, string(ev.Message.Payload.(wire.Text)))
		}
		if len(kinds) == 6 {
			break
		}
	}

	want := []EventKind{
		EventConnected, EventMessage, EventDisconnected,
		EventConnected, EventMessage, EventDisconnected,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if len(texts) != 2 || texts[0] != "first" || texts[1] != "second" {
		t.Errorf("messages = %v, want [first second]", texts)
	}
}

func TestFollow_VersionMismatchIsFatal(t *testing.T) {
	port := fakeProducer(t, func(conn net.Conn) { conn.Write([]byte{42}) })
	cfg := DefaultConfig()
	cfg.RetryInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	for ev := range Follow(ctx, "127.0.0.1", port, cfg) {
		events = append(events, ev)
	}
	if ctx.Err() != nil {
		t.Fatal("Follow kept retrying after a version mismatch")
	}
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("events = %+v, want a single Error", events)
	}
}

func TestFollow_CancelEndsSequence(t *testing.T) {
	port := fakeProducer(t, func(conn net.Conn) {
		conn.Write([]byte{wire.ProtocolVersion})
		time.Sleep(2 * time.Second)
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range Follow(ctx, "127.0.0.1", port, DefaultConfig()) {
			if ev.Kind == EventConnected {
				cancel()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not stop after cancel")
	}
}

func TestListener_AcceptCancel(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, DefaultConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestListener_AcceptSilentPeer(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, DefaultConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	peer, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := l.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Accept returned after %v, want about 300ms", d)
	}
}

func TestListener_ReceivesFromDialingShipper(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, DefaultConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeDial
	cfg.PollInterval = 10 * time.Millisecond
	s := transport.New(cfg)
	s.Enqueue(textMsg("hello"))
	s.Enqueue(wire.NewValues("1", wire.Location{File: "a.go", Line: 2}, wire.Pair{Expr: "x", Value: "1"}))
	s.StartAt("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	defer s.Shutdown(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer c.Close()

	first, err := c.Next()
	if err != nil || first.Payload != wire.Text("hello") {
		t.Fatalf("first = %v, %v", first.Payload, err)
	}
	second, err := c.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	vals, ok := second.Payload.(wire.Values)
	if !ok || len(vals) != 1 || vals[0] != (wire.Pair{Expr: "x", Value: "1"}) {
		t.Fatalf("second payload = %#v", second.Payload)
	}
}
