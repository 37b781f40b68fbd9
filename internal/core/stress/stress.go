// Package stress runs bounded-parallelism event storms with injected
// failures and reports percentile latency accounting.
package stress

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/observability"
	"github.com/qinfinity/qcored/internal/ports"
)

// Defaults for a stress run.
const (
	DefaultParallelism  = 16
	DefaultMaxErrorRate = 0.05
	DefaultFailureRate  = 0.02
	DefaultMinWork      = 100 * time.Microsecond
	DefaultMaxWork      = 2 * time.Millisecond
)

// Options configure one run.
type Options struct {
	Events       int
	Parallelism  int
	MaxErrorRate float64
	FailureRate  float64
	MinWork      time.Duration
	MaxWork      time.Duration
}

func (o *Options) fill() {
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.MaxErrorRate <= 0 {
		o.MaxErrorRate = DefaultMaxErrorRate
	}
	if o.FailureRate < 0 {
		o.FailureRate = DefaultFailureRate
	}
	if o.MinWork <= 0 {
		o.MinWork = DefaultMinWork
	}
	if o.MaxWork <= o.MinWork {
		o.MaxWork = o.MinWork + DefaultMaxWork
	}
}

// Result is the outcome of one run.
type Result struct {
	Events     int           `json:"events"`
	Errors     int           `json:"errors"`
	ErrorRate  float64       `json:"error_rate"`
	Throughput float64       `json:"throughput_per_s"`
	P50        time.Duration `json:"p50_ns"`
	P95        time.Duration `json:"p95_ns"`
	P99        time.Duration `json:"p99_ns"`
	Min        time.Duration `json:"min_ns"`
	Max        time.Duration `json:"max_ns"`
	Duration   time.Duration `json:"duration_ns"`
	Passed     bool          `json:"passed"`
}

// Harness runs event storms. Randomness is injected so two runs with the
// same seed inject failures identically.
type Harness struct {
	bus      ports.EventBus
	clock    clock.Clock
	ids      clock.IDGenerator
	rand     clock.Rand
	recorder *observability.Recorder
}

// NewHarness wires a harness. Bus and recorder may be nil.
func NewHarness(bus ports.EventBus, clk clock.Clock, ids clock.IDGenerator, rnd clock.Rand,
	recorder *observability.Recorder) *Harness {
	return &Harness{bus: bus, clock: clk, ids: ids, rand: rnd, recorder: recorder}
}

// Run fires opts.Events simulated events with at most opts.Parallelism in
// flight. Started events always run to completion; the whole run is the
// cancellation unit.
func (h *Harness) Run(ctx context.Context, opts Options) (Result, error) {
	const op = "stress.run"
	if opts.Events <= 0 {
		return Result{}, fault.New(fault.KindValidation, op, "event count must be positive")
	}
	opts.fill()

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.Events)
		errCount  int
	)

	sem := semaphore.NewWeighted(int64(opts.Parallelism))
	group, groupCtx := errgroup.WithContext(ctx)

	started := time.Now()
	for i := 0; i < opts.Events; i++ {
		if err := sem.Acquire(groupCtx, 1); err != nil {
			return Result{}, fault.Wrap(fault.KindTimeout, op, "run cancelled", err)
		}
		group.Go(func() error {
			defer sem.Release(1)

			span := int64(opts.MaxWork - opts.MinWork)
			work := opts.MinWork + time.Duration(h.rand.Int63n(span))
			failed := h.rand.Float64() < opts.FailureRate

			eventStart := time.Now()
			time.Sleep(work)
			elapsed := time.Since(eventStart)

			mu.Lock()
			latencies = append(latencies, elapsed)
			if failed {
				errCount++
			}
			mu.Unlock()

			if h.recorder != nil {
				h.recorder.Record("stress.event", elapsed, failed)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, fault.Wrap(fault.KindInternal, op, "event batch", err)
	}
	total := time.Since(started)

	result := h.score(latencies, errCount, total, opts)
	h.emit(result)
	return result, nil
}

// score folds latencies into the percentile summary and the pass verdict.
func (h *Harness) score(latencies []time.Duration, errCount int, total time.Duration, opts Options) Result {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	result := Result{
		Events:   len(latencies),
		Errors:   errCount,
		Duration: total,
	}
	if len(latencies) > 0 {
		result.Min = latencies[0]
		result.Max = latencies[len(latencies)-1]
		result.P50 = observability.Percentile(latencies, 0.50)
		result.P95 = observability.Percentile(latencies, 0.95)
		result.P99 = observability.Percentile(latencies, 0.99)
		result.ErrorRate = float64(errCount) / float64(len(latencies))
	}
	if total > 0 {
		result.Throughput = float64(len(latencies)) / total.Seconds()
	}
	result.Passed = result.ErrorRate <= opts.MaxErrorRate
	return result
}

// emit publishes the run outcome when a bus is wired.
func (h *Harness) emit(result Result) {
	if h.bus == nil {
		return
	}
	_ = h.bus.Publish("dataflow.stress.completed", ports.Envelope{
		ID:        h.ids.New(),
		Topic:     "dataflow.stress.completed",
		Timestamp: h.clock.NowMillis(),
		Actor:     ports.Actor{Identity: "stress", Role: "system"},
		Payload: map[string]any{
			"events":     result.Events,
			"error_rate": result.ErrorRate,
			"throughput": result.Throughput,
			"passed":     result.Passed,
		},
	})
}
