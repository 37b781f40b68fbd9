package pipeline

import (
	"context"
	"encoding/hex"
	"log"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/core/ledger"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/observability"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
)

// ErrEmptyPipeline is returned when a run is requested with no steps.
var ErrEmptyPipeline = fault.New(fault.KindValidation, "pipeline.run", "empty pipeline")

// StepStatus is the terminal state of one executed step.
type StepStatus int

const (
	StepCompleted StepStatus = iota
	StepFailed
)

// String returns the status name.
func (s StepStatus) String() string {
	switch s {
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepResult records one executed step. Outputs are not persisted; their
// hashes carry the linkage.
type StepResult struct {
	ID         string            `json:"id"`
	Kind       StepKind          `json:"-"`
	Name       string            `json:"name"`
	InputHash  string            `json:"input_hash"`
	OutputHash string            `json:"output_hash,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Timestamp  int64             `json:"timestamp"`
	Status     StepStatus        `json:"-"`
	StatusName string            `json:"status"`
	Error      string            `json:"error,omitempty"`
}

// Execution is the recorded outcome of one pipeline run. It is persisted as
// a replayable artifact: the original input plus the step list is enough to
// re-run the pipeline.
type Execution struct {
	ID                string            `json:"id"`
	Input             []byte            `json:"input"`
	StepNames         []string          `json:"steps"`
	Level             string            `json:"level,omitempty"`
	Results           []StepResult      `json:"results"`
	Output            []byte            `json:"-"`
	Meta              map[string]string `json:"meta,omitempty"`
	IntegrityViolated bool              `json:"integrity_violated"`
	DurationMS        int64             `json:"duration_ms"`
	ThroughputBps     float64           `json:"throughput_bps"`
	LedgerRecordID    string            `json:"ledger_record_id,omitempty"`
}

const artifactDomain = "executions"

// Executor runs step chains over the capability ports.
type Executor struct {
	crypto   ports.Crypto
	storage  ports.ContentStorage
	idx      ports.Index
	aud      ports.Audit
	ledger   *ledger.Ledger
	art      *artifacts.Store
	recorder *observability.Recorder
	clock    clock.Clock
	ids      clock.IDGenerator
	logger   *log.Logger
	steps    map[StepKind]StepFunc
}

// NewExecutor wires an executor. Ledger, artifact store and recorder may be
// nil; the corresponding side effects are then skipped.
func NewExecutor(crypto ports.Crypto, storage ports.ContentStorage, idx ports.Index, aud ports.Audit,
	led *ledger.Ledger, art *artifacts.Store, recorder *observability.Recorder,
	clk clock.Clock, ids clock.IDGenerator, logger *log.Logger) *Executor {
	e := &Executor{
		crypto:   crypto,
		storage:  storage,
		idx:      idx,
		aud:      aud,
		ledger:   led,
		art:      art,
		recorder: recorder,
		clock:    clk,
		ids:      ids,
		logger:   logger,
	}
	e.steps = e.registry()
	return e
}

// RunOptions configure one pipeline run.
type RunOptions struct {
	// Level is the encryption protection level.
	Level string

	// Actor is recorded on audit events.
	Actor string

	// Meta seeds the execution-scoped metadata. The inverse chain is run
	// with the forward run's final metadata so decrypt and retrieve can
	// find what their twins recorded.
	Meta map[string]string
}

// Run executes the step chain over input. A failing step aborts the
// remainder; the partial chain is still recorded and, when the failure was a
// hash mismatch, the execution is marked integrity-violated.
func (e *Executor) Run(ctx context.Context, executionID string, kinds []StepKind, input []byte, opts RunOptions) (*Execution, error) {
	if len(kinds) == 0 {
		return nil, ErrEmptyPipeline
	}

	meta := make(map[string]string, len(opts.Meta)+3)
	for k, v := range opts.Meta {
		meta[k] = v
	}
	meta["execution_id"] = executionID
	if opts.Level != "" {
		meta["level"] = opts.Level
	}
	if opts.Actor != "" {
		meta["actor"] = opts.Actor
	}

	exec := &Execution{
		ID:    executionID,
		Input: input,
		Level: opts.Level,
	}
	for _, kind := range kinds {
		exec.StepNames = append(exec.StepNames, kind.String())
	}

	started := e.clock.Now()
	current := input
	prevOutputHash := ""

	for i, kind := range kinds {
		fn, ok := e.steps[kind]
		if !ok {
			return nil, fault.New(fault.KindValidation, "pipeline.run", "unknown step "+kind.String())
		}

		inputHash := e.hashHex(current)
		if i > 0 && inputHash != prevOutputHash {
			exec.IntegrityViolated = true
			exec.Results = append(exec.Results, StepResult{
				ID:         e.ids.New(),
				Kind:       kind,
				Name:       kind.String(),
				InputHash:  inputHash,
				Timestamp:  e.clock.NowMillis(),
				Status:     StepFailed,
				StatusName: StepFailed.String(),
				Error:      "input hash does not match previous output hash",
			})
			break
		}

		stepStart := e.clock.Now()
		output, err := fn(ctx, current, meta)
		elapsed := e.clock.Now().Sub(stepStart)

		result := StepResult{
			ID:         e.ids.New(),
			Kind:       kind,
			Name:       kind.String(),
			InputHash:  inputHash,
			DurationMS: elapsed.Milliseconds(),
			Timestamp:  e.clock.NowMillis(),
		}
		if e.recorder != nil {
			e.recorder.Record("pipeline."+kind.String(), elapsed, err != nil)
		}
		if err != nil {
			result.Status = StepFailed
			result.StatusName = StepFailed.String()
			result.Error = err.Error()
			exec.Results = append(exec.Results, result)
			if fault.IsKind(err, fault.KindIntegrityViolation) {
				exec.IntegrityViolated = true
			}
			break
		}
		result.OutputHash = e.hashHex(output)
		result.Status = StepCompleted
		result.StatusName = StepCompleted.String()
		exec.Results = append(exec.Results, result)

		current = output
		prevOutputHash = result.OutputHash
	}

	exec.Output = current
	exec.Meta = meta
	exec.DurationMS = e.clock.Now().Sub(started).Milliseconds()
	if exec.DurationMS > 0 {
		exec.ThroughputBps = float64(len(exec.Output)) / (float64(exec.DurationMS) / 1000.0)
	}

	e.finish(ctx, exec)
	return exec, nil
}

// Completed reports whether every requested step completed.
func (x *Execution) Completed() bool {
	if len(x.Results) != len(x.StepNames) {
		return false
	}
	for _, r := range x.Results {
		if r.Status != StepCompleted {
			return false
		}
	}
	return true
}

// finish records the ledger entry and persists the replay artifact.
func (e *Executor) finish(ctx context.Context, exec *Execution) {
	outcome := "valid"
	if exec.IntegrityViolated {
		outcome = "integrity_violated"
	} else if !exec.Completed() {
		outcome = "failed"
	}

	if e.ledger != nil {
		record, err := e.ledger.Append(ctx, exec.ID, ledger.Summary{
			StepCount:  len(exec.Results),
			DurationMS: exec.DurationMS,
			Outcome:    outcome,
		})
		if err != nil {
			if e.logger != nil {
				e.logger.Printf("pipeline: ledger append for %s: %v", exec.ID, err)
			}
		} else {
			exec.LedgerRecordID = record.ID
		}
	}

	if e.art != nil {
		if _, err := e.art.SaveJSON(artifactDomain, exec.ID+".json", exec); err != nil && e.logger != nil {
			e.logger.Printf("pipeline: save artifact for %s: %v", exec.ID, err)
		}
	}
}

// LoadExecution reads a previously recorded execution artifact.
func (e *Executor) LoadExecution(executionID string) (*Execution, error) {
	if e.art == nil {
		return nil, fault.New(fault.KindNotFound, "pipeline.load", "no artifact store configured")
	}
	var exec Execution
	if err := e.art.LoadJSON(artifactDomain, executionID+".json", &exec); err != nil {
		return nil, fault.Wrap(fault.KindNotFound, "pipeline.load", "execution "+executionID, err)
	}
	return &exec, nil
}

func (e *Executor) hashHex(data []byte) string {
	digest := e.crypto.Hash(data)
	return hex.EncodeToString(digest[:])
}
