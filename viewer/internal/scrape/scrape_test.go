package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remdbg/remdbg/pkg/config"
	"github.com/remdbg/remdbg/pkg/transport"
	"github.com/remdbg/remdbg/pkg/wire"
)

const producerMetrics = `
# HELP rdbg_transport_enqueued_total Total number of messages accepted by Enqueue
# TYPE rdbg_transport_enqueued_total counter
rdbg_transport_enqueued_total %d
# HELP rdbg_transport_sent_total Total number of frames written to a viewer
# TYPE rdbg_transport_sent_total counter
rdbg_transport_sent_total %d
# HELP rdbg_transport_dropped_total Total number of messages discarded before delivery
# TYPE rdbg_transport_dropped_total counter
rdbg_transport_dropped_total{reason="overflow"} %d
rdbg_transport_dropped_total{reason="retry_limit"} 1
# HELP rdbg_transport_connected 1 while a viewer connection is open
# TYPE rdbg_transport_connected gauge
rdbg_transport_connected 1
# HELP rdbg_transport_queue_depth Number of messages waiting in the outbound queue
# TYPE rdbg_transport_queue_depth gauge
rdbg_transport_queue_depth 7
`

func TestScrape_ParsesTransportMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, producerMetrics, 100, 90, 9)
	}))
	defer srv.Close()

	s := New(srv.URL, srv.Client())
	got, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got.Enqueued != 100 || got.Sent != 90 {
		t.Errorf("enqueued=%v sent=%v, want 100 and 90", got.Enqueued, got.Sent)
	}
	if got.Dropped != 10 {
		t.Errorf("dropped = %v, want 10 (summed across reasons)", got.Dropped)
	}
	if got.DroppedBy["overflow"] != 9 || got.DroppedBy["retry_limit"] != 1 {
		t.Errorf("dropped by reason = %v", got.DroppedBy)
	}
	if !got.Connected || got.QueueDepth != 7 {
		t.Errorf("connected=%v depth=%v", got.Connected, got.QueueDepth)
	}
}

func TestTwice_ComputesPerMinuteRates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprintf(w, producerMetrics, 100, 90, 9)
			return
		}
		fmt.Fprintf(w, producerMetrics, 160, 140, 19)
	}))
	defer srv.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(srv.URL, srv.Client())
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick-1) * 30 * time.Second)
	}

	prev, cur, err := s.Twice(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("Twice() error = %v", err)
	}
	r := Compare(prev, cur)

	if r.Elapsed != 30*time.Second {
		t.Errorf("elapsed = %v, want 30s", r.Elapsed)
	}
	// 50 sent and 10 dropped over half a minute.
	if r.SentPM != 100 || r.DroppedPM != 20 || r.EnqueuedPM != 120 {
		t.Errorf("rates = %+v", r)
	}
	if want := 10.0 / 60 * 100; r.DropPct != want {
		t.Errorf("drop pct = %v, want %v", r.DropPct, want)
	}
}

func TestCompare_CounterResetIsZero(t *testing.T) {
	now := time.Now()
	prev := &Sample{ScrapedAt: now, Sent: 500, Dropped: 5}
	cur := &Sample{ScrapedAt: now.Add(time.Minute), Sent: 20, Dropped: 0}

	r := Compare(prev, cur)
	if r.SentPM != 0 || r.DroppedPM != 0 || r.DropPct != 0 {
		t.Errorf("rates after restart = %+v, want zero", r)
	}
}

func TestScrape_RejectsForeignEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "# TYPE up gauge\nup 1\n")
	}))
	defer srv.Close()

	if _, err := New(srv.URL, srv.Client()).Scrape(context.Background()); err == nil {
		t.Fatal("expected error for an endpoint without transport metrics")
	}
}

func TestScrape_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, srv.Client()).Scrape(context.Background()); err == nil {
		t.Fatal("expected error for a 503 response")
	}
}

func TestScrape_ShipperRegistry(t *testing.T) {
	s := transport.New(config.Default())
	for i := range 3 {
		s.Enqueue(wire.NewText("1", wire.Location{File: "a.go", Line: uint32(i)}, "x"))
	}
	// Never started: pending messages are dropped with reason "shutdown".
	s.Shutdown(0)

	srv := httptest.NewServer(promhttp.HandlerFor(s.Registry(), promhttp.HandlerOpts{}))
	defer srv.Close()

	got, err := New(srv.URL, srv.Client()).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got.Enqueued != 3 || got.Dropped != 3 || got.DroppedBy["shutdown"] != 3 {
		t.Errorf("sample = %+v", got)
	}
	if got.Connected {
		t.Error("connected = true for a transport that never started")
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	cur := &Sample{
		Enqueued: 10, Sent: 8, Dropped: 2, Connected: true, Connections: 1,
		DroppedBy: map[string]float64{"overflow": 2},
	}
	if err := WriteReport(&buf, cur, Rates{SentPM: 4, DroppedPM: 1, DropPct: 20}); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	for _, want := range []string{"connected (1 connections)", "sent:        8 (4.0/min)", "overflow:", "20.0%"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report missing %q:\n%s", want, buf.String())
		}
	}
}
