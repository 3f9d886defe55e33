package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const defaultScrapeTimeout = 10 * time.Second

// Transport metric names exported by a producer.
const (
	metricEnqueued    = "rdbg_transport_enqueued_total"
	metricSent        = "rdbg_transport_sent_total"
	metricDropped     = "rdbg_transport_dropped_total"
	metricConnections = "rdbg_transport_connections_total"
	metricConnected   = "rdbg_transport_connected"
	metricQueueDepth  = "rdbg_transport_queue_depth"
)

// Sample is one scrape of a producer's transport metrics. Counter fields hold
// raw totals; Compare derives rates from two samples.
type Sample struct {
	ScrapedAt time.Time

	Enqueued    float64
	Sent        float64
	Dropped     float64
	Connections float64
	QueueDepth  float64
	Connected   bool

	// DroppedBy breaks Dropped down by the "reason" label.
	DroppedBy map[string]float64
}

// Scraper fetches a producer's Prometheus endpoint.
type Scraper struct {
	url    string
	client *http.Client
	now    func() time.Time // injectable for deterministic tests
}

// New returns a Scraper for url. A nil client gets a default one with a
// 10 second timeout.
func New(url string, client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: defaultScrapeTimeout}
	}
	return &Scraper{url: url, client: client, now: time.Now}
}

// Scrape performs one fetch and extracts the transport metrics.
func (s *Scraper) Scrape(ctx context.Context) (*Sample, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.url)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", s.url, err)
	}
	if _, ok := mfs[metricEnqueued]; !ok {
		return nil, fmt.Errorf("scrape %s: no %s metric, not a producer endpoint", s.url, metricEnqueued)
	}

	sample := &Sample{
		ScrapedAt:   s.now().UTC(),
		Enqueued:    sumFamily(mfs[metricEnqueued]),
		Sent:        sumFamily(mfs[metricSent]),
		Dropped:     sumFamily(mfs[metricDropped]),
		Connections: sumFamily(mfs[metricConnections]),
		QueueDepth:  sumFamily(mfs[metricQueueDepth]),
		Connected:   sumFamily(mfs[metricConnected]) > 0,
		DroppedBy:   make(map[string]float64),
	}
	if mf := mfs[metricDropped]; mf != nil {
		for _, m := range mf.GetMetric() {
			sample.DroppedBy[labelValue(m, "reason")] += m.GetCounter().GetValue()
		}
	}
	return sample, nil
}

// Twice scrapes, waits interval, and scrapes again.
func (s *Scraper) Twice(ctx context.Context, interval time.Duration) (prev, cur *Sample, err error) {
	prev, err = s.Scrape(ctx)
	if err != nil {
		return nil, nil, err
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-t.C:
	}
	cur, err = s.Scrape(ctx)
	if err != nil {
		return nil, nil, err
	}
	return prev, cur, nil
}

// Rates are per-minute throughput figures between two samples.
type Rates struct {
	Elapsed    time.Duration
	EnqueuedPM float64
	SentPM     float64
	DroppedPM  float64
	DropPct    float64 // dropped / (sent + dropped) * 100 over the window
}

// Compare derives rates from two samples of the same producer. A counter
// that went backwards (producer restarted) counts as zero.
func Compare(prev, cur *Sample) Rates {
	elapsed := cur.ScrapedAt.Sub(prev.ScrapedAt)
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		minutes = 1 // guard against zero or negative clock drift
	}

	sent := deltaOf(cur.Sent, prev.Sent)
	dropped := deltaOf(cur.Dropped, prev.Dropped)
	r := Rates{
		Elapsed:    elapsed,
		EnqueuedPM: deltaOf(cur.Enqueued, prev.Enqueued) / minutes,
		SentPM:     sent / minutes,
		DroppedPM:  dropped / minutes,
	}
	if total := sent + dropped; total > 0 {
		r.DropPct = dropped / total * 100
	}
	return r
}

// WriteReport prints cur's totals and the rates r to w.
func WriteReport(w io.Writer, cur *Sample, r Rates) error {
	state := "disconnected"
	if cur.Connected {
		state = "connected"
	}
	reasons := make([]string, 0, len(cur.DroppedBy))
	for k := range cur.DroppedBy {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)

	if _, err := fmt.Fprintf(w,
		"viewer:      %s (%.0f connections)\nqueue depth: %.0f\nenqueued:    %.0f (%.1f/min)\nsent:        %.0f (%.1f/min)\ndropped:     %.0f (%.1f/min, %.1f%% of window)\n",
		state, cur.Connections,
		cur.QueueDepth,
		cur.Enqueued, r.EnqueuedPM,
		cur.Sent, r.SentPM,
		cur.Dropped, r.DroppedPM, r.DropPct,
	); err != nil {
		return err
	}
	for _, reason := range reasons {
		if _, err := fmt.Fprintf(w, "  %-12s %.0f\n", reason+":", cur.DroppedBy[reason]); err != nil {
			return err
		}
	}
	return nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric
// families. A partial result with a parse warning is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// deltaOf returns the positive counter delta between current and previous.
// If current < previous (counter reset after restart), returns 0.
func deltaOf(current, previous float64) float64 {
	if current < previous {
		return 0
	}
	return current - previous
}
