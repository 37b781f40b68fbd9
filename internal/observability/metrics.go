// Package observability collects request latency samples, evaluates service
// level objectives, detects statistical anomalies and polls dependency
// health. It exposes prometheus collectors for scraping alongside in-process
// snapshots used by the integrity validator.
package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qinfinity/qcored/internal/clock"
)

// DefaultSampleCapacity bounds the latency ring buffer per operation.
const DefaultSampleCapacity = 4096

// DefaultSampleRetention bounds how long a sample stays in the window.
const DefaultSampleRetention = time.Hour

// DefaultEvictionInterval is how often aged samples are swept out.
const DefaultEvictionInterval = time.Minute

// MetricSample is one recorded request.
type MetricSample struct {
	Operation string
	Latency   time.Duration
	Err       bool
	At        int64
}

// Snapshot summarizes one operation's recorded traffic.
type Snapshot struct {
	Operation string        `json:"operation"`
	Count     uint64        `json:"count"`
	Errors    uint64        `json:"errors"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	P99       time.Duration `json:"p99"`
	RatePerS  float64       `json:"rate_per_s"`
}

// ErrorRate returns errors/count, zero when nothing was recorded.
func (s Snapshot) ErrorRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Count)
}

type metricPoint struct {
	latency time.Duration
	at      int64
}

type opSeries struct {
	samples []metricPoint
	next    int
	full    bool
	count   uint64
	errors  uint64
	firstAt int64
	lastAt  int64
}

// Recorder accumulates latency samples per operation in a bounded ring
// buffer. Samples leave the window in arrival order once the buffer is
// full, and by age when the periodic eviction runs. The cumulative counters
// are never evicted.
type Recorder struct {
	mu         sync.RWMutex
	capacity   int
	retention  time.Duration
	evictEvery time.Duration
	series     map[string]*opSeries
	clock      clock.Clock

	cancel context.CancelFunc
	done   chan struct{}

	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with the given per-operation capacity,
// sample retention and eviction cadence. Zero values fall back to the
// defaults.
func NewRecorder(capacity int, retention, evictEvery time.Duration, clk clock.Clock) *Recorder {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	if retention <= 0 {
		retention = DefaultSampleRetention
	}
	if evictEvery <= 0 {
		evictEvery = DefaultEvictionInterval
	}
	return &Recorder{
		capacity:   capacity,
		retention:  retention,
		evictEvery: evictEvery,
		series:     make(map[string]*opSeries),
		clock:      clk,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcored",
			Name:      "requests_total",
			Help:      "Total requests recorded per operation.",
		}, []string{"operation"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcored",
			Name:      "request_errors_total",
			Help:      "Total failed requests per operation.",
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qcored",
			Name:      "request_latency_seconds",
			Help:      "Request latency per operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// DefaultRecorder creates a Recorder with default settings and the system
// clock.
func DefaultRecorder() *Recorder {
	return NewRecorder(DefaultSampleCapacity, 0, 0, clock.System())
}

// Register adds the recorder's collectors to reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.requestsTotal, r.errorsTotal, r.latency} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Record stores one sample.
func (r *Recorder) Record(operation string, latency time.Duration, failed bool) {
	now := r.clock.NowMillis()

	r.mu.Lock()
	series := r.series[operation]
	if series == nil {
		series = &opSeries{samples: make([]metricPoint, r.capacity), firstAt: now}
		r.series[operation] = series
	}
	series.samples[series.next] = metricPoint{latency: latency, at: now}
	series.next = (series.next + 1) % r.capacity
	if series.next == 0 {
		series.full = true
	}
	series.count++
	if failed {
		series.errors++
	}
	series.lastAt = now
	r.mu.Unlock()

	r.requestsTotal.WithLabelValues(operation).Inc()
	if failed {
		r.errorsTotal.WithLabelValues(operation).Inc()
	}
	r.latency.WithLabelValues(operation).Observe(latency.Seconds())
}

// Snapshot returns the current summary for one operation.
func (r *Recorder) Snapshot(operation string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	series := r.series[operation]
	if series == nil {
		return Snapshot{Operation: operation}
	}
	return r.summarize(operation, series)
}

// Snapshots returns summaries for every recorded operation, sorted by name.
func (r *Recorder) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.series))
	for op, series := range r.series {
		out = append(out, r.summarize(op, series))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Latencies returns a copy of the retained samples for one operation.
func (r *Recorder) Latencies(operation string) []time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	series := r.series[operation]
	if series == nil {
		return nil
	}
	window := series.window()
	out := make([]time.Duration, len(window))
	for i, point := range window {
		out[i] = point.latency
	}
	return out
}

// Start launches the periodic age-based eviction loop.
func (r *Recorder) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.evictEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictAged()
			}
		}
	}()
}

// Stop halts the eviction loop and waits for it to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// EvictAged drops every sample older than the retention window. Cumulative
// request and error counters are untouched.
func (r *Recorder) EvictAged() {
	cutoff := r.clock.NowMillis() - r.retention.Milliseconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, series := range r.series {
		window := series.window()
		kept := window[:0]
		for _, point := range window {
			if point.at >= cutoff {
				kept = append(kept, point)
			}
		}
		if len(kept) == len(window) {
			continue
		}
		series.samples = make([]metricPoint, r.capacity)
		copy(series.samples, kept)
		series.next = len(kept) % r.capacity
		series.full = len(kept) == r.capacity
	}
}

func (r *Recorder) summarize(operation string, series *opSeries) Snapshot {
	window := series.window()
	snap := Snapshot{
		Operation: operation,
		Count:     series.count,
		Errors:    series.errors,
	}
	if len(window) > 0 {
		sorted := make([]time.Duration, len(window))
		for i, point := range window {
			sorted[i] = point.latency
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		snap.P50 = Percentile(sorted, 0.50)
		snap.P95 = Percentile(sorted, 0.95)
		snap.P99 = Percentile(sorted, 0.99)
	}
	if elapsed := series.lastAt - series.firstAt; elapsed > 0 {
		snap.RatePerS = float64(series.count) / (float64(elapsed) / 1000.0)
	}
	return snap
}

func (s *opSeries) window() []metricPoint {
	if s.full {
		out := make([]metricPoint, len(s.samples))
		copy(out, s.samples[s.next:])
		copy(out[len(s.samples)-s.next:], s.samples[:s.next])
		return out
	}
	out := make([]metricPoint, s.next)
	copy(out, s.samples[:s.next])
	return out
}

// Percentile returns the value at rank p (0..1) of an ascending-sorted
// sample set using nearest-rank selection.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
