// Package replay re-executes recorded pipelines from their artifacts and
// diffs the outcome against the original run within configured tolerances.
package replay

import (
	"context"
	"math"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/core/pipeline"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
)

// Default tolerances for the determinism verdict.
const (
	DefaultStepTolerance   = 0.01
	DefaultTimingTolerance = 0.10
)

// Severity grades a divergence.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Tolerances bound how far a replay may drift and still count as
// deterministic.
type Tolerances struct {
	Step   float64
	Timing float64
}

// DefaultTolerances returns the standing tolerances.
func DefaultTolerances() Tolerances {
	return Tolerances{Step: DefaultStepTolerance, Timing: DefaultTimingTolerance}
}

// Verdict is the outcome of one replay comparison.
type Verdict struct {
	ExecutionID      string   `json:"execution_id"`
	Deterministic    bool     `json:"deterministic"`
	StepDivergence   float64  `json:"step_divergence"`
	TimingDivergence float64  `json:"timing_divergence"`
	HashMatches      int      `json:"hash_matches"`
	DivergenceAt     string   `json:"divergence_at,omitempty"`
	Severity         Severity `json:"-"`
	SeverityName     string   `json:"severity"`
}

// Comparator replays executions through the live executor.
type Comparator struct {
	executor *pipeline.Executor
	bus      ports.EventBus
	clock    clock.Clock
	ids      clock.IDGenerator
	tol      Tolerances
}

// NewComparator wires a comparator. A zero tolerance falls back to its
// default.
func NewComparator(executor *pipeline.Executor, bus ports.EventBus, clk clock.Clock, ids clock.IDGenerator, tol Tolerances) *Comparator {
	if tol.Step <= 0 {
		tol.Step = DefaultStepTolerance
	}
	if tol.Timing <= 0 {
		tol.Timing = DefaultTimingTolerance
	}
	return &Comparator{executor: executor, bus: bus, clock: clk, ids: ids, tol: tol}
}

// Replay loads the recorded execution, re-runs the same steps on the same
// input and compares per-step output hashes, step counts and total duration.
func (c *Comparator) Replay(ctx context.Context, executionID string) (Verdict, error) {
	const op = "replay.compare"

	original, err := c.executor.LoadExecution(executionID)
	if err != nil {
		return Verdict{}, err
	}

	kinds := make([]pipeline.StepKind, 0, len(original.StepNames))
	for _, name := range original.StepNames {
		kind, err := pipeline.ParseStepKind(name)
		if err != nil {
			return Verdict{}, fault.Wrap(fault.KindValidation, op, "recorded step list", err)
		}
		kinds = append(kinds, kind)
	}

	rerun, err := c.executor.Run(ctx, executionID+"-replay", kinds, original.Input, pipeline.RunOptions{
		Level: original.Level,
		Meta:  original.Meta,
	})
	if err != nil {
		return Verdict{}, fault.Wrap(fault.KindInternal, op, "re-execute", err)
	}

	verdict := c.compare(original, rerun)
	c.emit(verdict)
	return verdict, nil
}

// compare grades the rerun against the original.
func (c *Comparator) compare(original, rerun *pipeline.Execution) Verdict {
	verdict := Verdict{ExecutionID: original.ID, Deterministic: true}

	if n := len(original.Results); n > 0 {
		verdict.StepDivergence = math.Abs(float64(len(rerun.Results))-float64(n)) / float64(n)
	}
	if verdict.StepDivergence > c.tol.Step {
		verdict.Deterministic = false
		verdict.Severity = SeverityCritical
	}

	limit := len(original.Results)
	if len(rerun.Results) < limit {
		limit = len(rerun.Results)
	}
	for i := 0; i < limit; i++ {
		if original.Results[i].OutputHash != rerun.Results[i].OutputHash {
			verdict.Deterministic = false
			verdict.Severity = SeverityCritical
			if verdict.DivergenceAt == "" {
				verdict.DivergenceAt = original.Results[i].ID
			}
			continue
		}
		verdict.HashMatches++
	}

	if original.DurationMS > 0 {
		verdict.TimingDivergence = math.Abs(float64(rerun.DurationMS)-float64(original.DurationMS)) /
			float64(original.DurationMS)
		if verdict.TimingDivergence > c.tol.Timing {
			verdict.Deterministic = false
			if verdict.Severity == SeverityNone {
				verdict.Severity = SeverityWarning
			}
		}
	}

	verdict.SeverityName = verdict.Severity.String()
	return verdict
}

// emit publishes the replay outcome when a bus is wired.
func (c *Comparator) emit(verdict Verdict) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish("dataflow.replay.completed", ports.Envelope{
		ID:        c.ids.New(),
		Topic:     "dataflow.replay.completed",
		Timestamp: c.clock.NowMillis(),
		Actor:     ports.Actor{Identity: "replay", Role: "system"},
		Payload: map[string]any{
			"execution_id":  verdict.ExecutionID,
			"deterministic": verdict.Deterministic,
			"severity":      verdict.SeverityName,
			"divergence_at": verdict.DivergenceAt,
		},
	})
}
