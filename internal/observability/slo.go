package observability

import (
	"context"
	"sync"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/ports"
)

// TopicSLOViolation carries unmet objective verdicts on the event bus.
// This is the dot-delimited rendition of the slo-violation event.
const TopicSLOViolation = "slo.violation"

// SLOTargets are the latency and error objectives evaluated against a
// snapshot.
type SLOTargets struct {
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	ErrorBudget float64
	MinRate     float64
}

// DefaultSLOTargets returns the standing control-plane objectives.
func DefaultSLOTargets() SLOTargets {
	return SLOTargets{
		P50:         50 * time.Millisecond,
		P95:         150 * time.Millisecond,
		P99:         200 * time.Millisecond,
		ErrorBudget: 0.001,
		MinRate:     10,
	}
}

// SLOVerdict is the result of evaluating one operation.
type SLOVerdict struct {
	Operation  string   `json:"operation"`
	Met        bool     `json:"met"`
	Evaluated  bool     `json:"evaluated"`
	BudgetBurn float64  `json:"budget_burn"`
	Violations []string `json:"violations,omitempty"`
}

// SLOEvaluator scores snapshots against targets.
type SLOEvaluator struct {
	targets SLOTargets
}

// NewSLOEvaluator creates an evaluator with the given targets.
func NewSLOEvaluator(targets SLOTargets) *SLOEvaluator {
	return &SLOEvaluator{targets: targets}
}

// DefaultSLOEvaluator creates an evaluator with default targets.
func DefaultSLOEvaluator() *SLOEvaluator {
	return NewSLOEvaluator(DefaultSLOTargets())
}

// Evaluate scores one snapshot. Operations below the minimum request rate
// are not evaluated; their verdict is Met with Evaluated=false so idle
// operations never page anyone.
func (e *SLOEvaluator) Evaluate(snap Snapshot) SLOVerdict {
	verdict := SLOVerdict{Operation: snap.Operation, Met: true}
	if snap.RatePerS < e.targets.MinRate {
		return verdict
	}
	verdict.Evaluated = true

	if snap.P50 > e.targets.P50 {
		verdict.Violations = append(verdict.Violations, "p50")
	}
	if snap.P95 > e.targets.P95 {
		verdict.Violations = append(verdict.Violations, "p95")
	}
	if snap.P99 > e.targets.P99 {
		verdict.Violations = append(verdict.Violations, "p99")
	}
	if e.targets.ErrorBudget > 0 {
		verdict.BudgetBurn = snap.ErrorRate() / e.targets.ErrorBudget
	}
	if snap.ErrorRate() > e.targets.ErrorBudget {
		verdict.Violations = append(verdict.Violations, "error_budget")
	}
	verdict.Met = len(verdict.Violations) == 0
	return verdict
}

// EvaluateAll scores every snapshot.
func (e *SLOEvaluator) EvaluateAll(snaps []Snapshot) []SLOVerdict {
	out := make([]SLOVerdict, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, e.Evaluate(snap))
	}
	return out
}

// SLOMonitor periodically evaluates recorded traffic against the targets
// and publishes a violation event per unmet verdict.
type SLOMonitor struct {
	recorder  *Recorder
	evaluator *SLOEvaluator
	bus       ports.EventBus
	clock     clock.Clock
	ids       clock.IDGenerator
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSLOMonitor wires a monitor. A zero interval falls back to the poll
// default.
func NewSLOMonitor(recorder *Recorder, evaluator *SLOEvaluator, bus ports.EventBus,
	clk clock.Clock, ids clock.IDGenerator, interval time.Duration) *SLOMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &SLOMonitor{
		recorder:  recorder,
		evaluator: evaluator,
		bus:       bus,
		clock:     clk,
		ids:       ids,
		interval:  interval,
	}
}

// Start launches the evaluation loop.
func (m *SLOMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.EvaluateOnce()
			}
		}
	}()
}

// Stop halts the evaluation loop and waits for it to exit.
func (m *SLOMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// EvaluateOnce scores every recorded operation and publishes one violation
// event per unmet verdict. It returns the full verdict set.
func (m *SLOMonitor) EvaluateOnce() []SLOVerdict {
	verdicts := m.evaluator.EvaluateAll(m.recorder.Snapshots())
	for _, verdict := range verdicts {
		if verdict.Met {
			continue
		}
		violations := make([]any, len(verdict.Violations))
		for i, violation := range verdict.Violations {
			violations[i] = violation
		}
		_ = m.bus.Publish(TopicSLOViolation, ports.Envelope{
			ID:        m.ids.New(),
			Topic:     TopicSLOViolation,
			Timestamp: m.clock.NowMillis(),
			Actor:     ports.Actor{Identity: "slo-monitor", Role: "system"},
			Payload: map[string]any{
				"operation":   verdict.Operation,
				"violations":  violations,
				"budget_burn": verdict.BudgetBurn,
			},
		})
	}
	return verdicts
}
