package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/events"
	"github.com/qinfinity/qcored/internal/ports"
)

// TestRecorder_Percentiles tests latency summarization
func TestRecorder_Percentiles(t *testing.T) {
	manual := clock.NewManual(time.Unix(1000, 0))
	r := NewRecorder(200, 0, 0, manual)

	for i := 1; i <= 100; i++ {
		r.Record("ledger.append", time.Duration(i)*time.Millisecond, false)
		manual.Advance(10 * time.Millisecond)
	}

	snap := r.Snapshot("ledger.append")
	if snap.Count != 100 {
		t.Fatalf("count = %d, want 100", snap.Count)
	}
	if snap.P50 != 50*time.Millisecond {
		t.Errorf("p50 = %v, want 50ms", snap.P50)
	}
	if snap.P95 != 95*time.Millisecond {
		t.Errorf("p95 = %v, want 95ms", snap.P95)
	}
	if snap.P99 != 99*time.Millisecond {
		t.Errorf("p99 = %v, want 99ms", snap.P99)
	}
	if snap.RatePerS < 99 || snap.RatePerS > 102 {
		t.Errorf("rate = %v, want ~100/s", snap.RatePerS)
	}
}

// TestRecorder_Eviction tests that the ring buffer keeps only the newest
// samples
func TestRecorder_Eviction(t *testing.T) {
	r := NewRecorder(4, 0, 0, clock.System())

	for i := 1; i <= 6; i++ {
		r.Record("op", time.Duration(i)*time.Millisecond, false)
	}

	window := r.Latencies("op")
	if len(window) != 4 {
		t.Fatalf("window len = %d, want 4", len(window))
	}
	want := []time.Duration{3, 4, 5, 6}
	for i, w := range want {
		if window[i] != w*time.Millisecond {
			t.Errorf("window[%d] = %v, want %vms", i, window[i], w)
		}
	}

	snap := r.Snapshot("op")
	if snap.Count != 6 {
		t.Errorf("count = %d, want 6 (counters survive eviction)", snap.Count)
	}
}

// TestRecorder_AgeEviction tests that samples leave the window once they
// outlive the retention period
func TestRecorder_AgeEviction(t *testing.T) {
	manual := clock.NewManual(time.Unix(1000, 0))
	r := NewRecorder(16, 10*time.Minute, time.Minute, manual)

	for i := 0; i < 3; i++ {
		r.Record("op", time.Second, false)
		manual.Advance(time.Second)
	}
	manual.Advance(20 * time.Minute)
	r.Record("op", 5*time.Millisecond, false)
	r.Record("op", 7*time.Millisecond, false)

	r.EvictAged()

	window := r.Latencies("op")
	if len(window) != 2 {
		t.Fatalf("window len = %d, want 2 fresh samples", len(window))
	}
	snap := r.Snapshot("op")
	if snap.P99 != 7*time.Millisecond {
		t.Errorf("p99 = %v, want 7ms from the fresh samples only", snap.P99)
	}
	if snap.Count != 5 {
		t.Errorf("count = %d, want 5 (counters survive eviction)", snap.Count)
	}
}

// TestSLO_IdleOperationSkipped tests the minimum rate gate
func TestSLO_IdleOperationSkipped(t *testing.T) {
	e := DefaultSLOEvaluator()

	verdict := e.Evaluate(Snapshot{Operation: "rare", P99: time.Second, RatePerS: 1})
	if !verdict.Met || verdict.Evaluated {
		t.Errorf("idle operation should pass unevaluated, got %+v", verdict)
	}
}

// TestSLO_Violations tests latency and error budget scoring
func TestSLO_Violations(t *testing.T) {
	e := DefaultSLOEvaluator()

	verdict := e.Evaluate(Snapshot{
		Operation: "pipeline.execute",
		Count:     1000,
		Errors:    5,
		P50:       40 * time.Millisecond,
		P95:       180 * time.Millisecond,
		P99:       250 * time.Millisecond,
		RatePerS:  50,
	})
	if verdict.Met {
		t.Fatal("verdict should fail")
	}
	if len(verdict.Violations) != 3 {
		t.Errorf("violations = %v, want p95, p99, error_budget", verdict.Violations)
	}
	if verdict.BudgetBurn < 4.99 || verdict.BudgetBurn > 5.01 {
		t.Errorf("budget burn = %v, want ~5.0 (0.5%% rate over 0.1%% budget)", verdict.BudgetBurn)
	}

	ok := e.Evaluate(Snapshot{
		Operation: "pipeline.execute",
		Count:     1000,
		P50:       40 * time.Millisecond,
		P95:       100 * time.Millisecond,
		P99:       150 * time.Millisecond,
		RatePerS:  50,
	})
	if !ok.Met || !ok.Evaluated {
		t.Errorf("healthy snapshot should pass, got %+v", ok)
	}
}

// TestAnomaly_BaselineWarmup tests that scoring waits for enough samples
func TestAnomaly_BaselineWarmup(t *testing.T) {
	d := NewAnomalyDetector()

	for i := 0; i < MinBaselineSamples-1; i++ {
		a := d.Observe("latency", 100)
		if a.Severity != SeverityNone {
			t.Fatalf("sample %d flagged during warmup: %+v", i, a)
		}
	}
	// Wild value on an immature baseline still passes.
	if a := d.Observe("latency", 10000); a.Severity != SeverityNone {
		t.Errorf("warmup sample flagged: %+v", a)
	}
}

// TestAnomaly_ZScoreSeverity tests warning and critical thresholds
func TestAnomaly_ZScoreSeverity(t *testing.T) {
	d := NewAnomalyDetector()

	// Baseline with mean 100 and some spread.
	values := []float64{98, 99, 100, 101, 102, 98, 99, 100, 101, 102, 100, 100}
	for _, v := range values {
		d.Observe("latency", v)
	}

	normal := d.Observe("latency", 101)
	if normal.Severity != SeverityNone {
		t.Errorf("normal value flagged: %+v", normal)
	}

	warn := d.Observe("latency", 104)
	if warn.Severity != SeverityWarning {
		t.Errorf("moderate spike severity = %v, want warning (z=%.2f)", warn.Severity, warn.ZScore)
	}

	crit := d.Observe("latency", 120)
	if crit.Severity != SeverityCritical {
		t.Errorf("large spike severity = %v, want critical (z=%.2f)", crit.Severity, crit.ZScore)
	}
}

// TestHealthPoller_PollOnce tests probe execution and status retention
func TestHealthPoller_PollOnce(t *testing.T) {
	p := NewHealthPoller(time.Minute, 0, clock.System(), nil)
	p.RegisterProbe("kv", func(context.Context) error { return nil })
	p.RegisterProbe("ipfs", func(context.Context) error { return errors.New("gateway down") })

	p.PollOnce(context.Background())

	kv, ok := p.Status("kv")
	if !ok || !kv.Healthy {
		t.Errorf("kv status = %+v, want healthy", kv)
	}
	ipfs, ok := p.Status("ipfs")
	if !ok || ipfs.Healthy || ipfs.LastError != "gateway down" {
		t.Errorf("ipfs status = %+v, want unhealthy with error", ipfs)
	}
	if p.AllHealthy() {
		t.Error("AllHealthy = true with a failing dependency")
	}

	statuses := p.Statuses()
	if len(statuses) != 2 || statuses[0].Name != "ipfs" {
		t.Errorf("statuses = %+v, want sorted pair", statuses)
	}
}

// TestHealthPoller_Recovery tests status flip after a dependency recovers
func TestHealthPoller_Recovery(t *testing.T) {
	p := NewHealthPoller(time.Minute, 0, clock.System(), nil)
	failing := true
	p.RegisterProbe("db", func(context.Context) error {
		if failing {
			return errors.New("refused")
		}
		return nil
	})

	p.PollOnce(context.Background())
	if p.AllHealthy() {
		t.Fatal("should be unhealthy")
	}

	failing = false
	p.PollOnce(context.Background())
	if !p.AllHealthy() {
		t.Error("should have recovered")
	}
}

// TestHealthPoller_HungProbe tests that a probe ignoring its context cannot
// wedge the poll loop
func TestHealthPoller_HungProbe(t *testing.T) {
	p := NewHealthPoller(time.Minute, 50*time.Millisecond, clock.System(), nil)
	block := make(chan struct{})
	p.RegisterProbe("stuck", func(context.Context) error {
		<-block
		return nil
	})
	p.RegisterProbe("fine", func(context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		p.PollOnce(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PollOnce did not return while a probe hung")
	}
	defer close(block)

	stuck, ok := p.Status("stuck")
	if !ok || stuck.Healthy {
		t.Fatalf("stuck status = %+v, want unhealthy", stuck)
	}
	if !strings.Contains(stuck.LastError, "timed out") {
		t.Errorf("stuck error = %q, want timeout", stuck.LastError)
	}
	fine, ok := p.Status("fine")
	if !ok || !fine.Healthy {
		t.Errorf("fine status = %+v, want healthy despite the stuck probe", fine)
	}
}

// TestSLOMonitor_PublishesViolations tests that unmet verdicts surface on
// the event bus
func TestSLOMonitor_PublishesViolations(t *testing.T) {
	manual := clock.NewManual(time.Unix(1000, 0))
	r := NewRecorder(256, 0, 0, manual)
	for i := 0; i < 100; i++ {
		r.Record("slow.op", 300*time.Millisecond, false)
		r.Record("fast.op", 10*time.Millisecond, false)
		manual.Advance(10 * time.Millisecond)
	}

	bus := events.NewBus(nil)
	defer bus.Close()
	received := make(chan ports.Envelope, 4)
	cancel, err := bus.Subscribe(TopicSLOViolation, func(env ports.Envelope) {
		received <- env
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	m := NewSLOMonitor(r, DefaultSLOEvaluator(), bus, manual,
		clock.NewSequenceGenerator("slo"), time.Minute)
	verdicts := m.EvaluateOnce()
	if len(verdicts) != 2 {
		t.Fatalf("verdicts = %d, want 2", len(verdicts))
	}

	select {
	case env := <-received:
		if env.Topic != TopicSLOViolation {
			t.Errorf("topic = %q, want %q", env.Topic, TopicSLOViolation)
		}
		if env.Payload["operation"] != "slow.op" {
			t.Errorf("operation = %v, want slow.op", env.Payload["operation"])
		}
		violations, _ := env.Payload["violations"].([]any)
		if len(violations) == 0 {
			t.Error("payload carries no violations")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no violation event published")
	}

	// The healthy operation must not page anyone.
	select {
	case env := <-received:
		t.Fatalf("unexpected second event for %v", env.Payload["operation"])
	case <-time.After(100 * time.Millisecond):
	}
}
