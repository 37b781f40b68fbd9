package replay

import (
	"context"
	"testing"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/core/ledger"
	"github.com/qinfinity/qcored/internal/core/pipeline"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
	"github.com/qinfinity/qcored/internal/storage/kv"
)

type replayFixture struct {
	executor   *Comparator
	pipeline   *pipeline.Executor
	art        *artifacts.Store
	manual     *clock.Manual
}

func newReplayFixture(t *testing.T) *replayFixture {
	t.Helper()
	crypto := sandbox.NewCrypto()
	storage := sandbox.NewStorage()
	manual := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	ids := clock.NewSequenceGenerator("rp")

	led, err := ledger.New(kv.NewMemory(), crypto, storage, nil, manual, ids, nil,
		ledger.Options{NodeID: "n1", SyncPublish: true, PublishBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	art := artifacts.NewStore(t.TempDir())
	exec := pipeline.NewExecutor(crypto, storage, sandbox.NewIndex(), sandbox.NewAudit(),
		led, art, nil, manual, ids, nil)

	return &replayFixture{
		executor: NewComparator(exec, nil, manual, ids, DefaultTolerances()),
		pipeline: exec,
		art:      art,
		manual:   manual,
	}
}

// TestReplay_Deterministic tests that a clean re-execution matches
func TestReplay_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newReplayFixture(t)

	original, err := f.pipeline.Run(ctx, "E1", pipeline.Forward(), []byte("deterministic payload"),
		pipeline.RunOptions{Level: "high"})
	if err != nil {
		t.Fatalf("original run: %v", err)
	}
	if !original.Completed() {
		t.Fatalf("original incomplete: %+v", original.Results)
	}

	verdict, err := f.executor.Replay(ctx, "E1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !verdict.Deterministic {
		t.Errorf("verdict = %+v, want deterministic", verdict)
	}
	if verdict.HashMatches != len(original.Results) {
		t.Errorf("hash matches = %d, want %d", verdict.HashMatches, len(original.Results))
	}
	if verdict.Severity != SeverityNone {
		t.Errorf("severity = %v, want none", verdict.Severity)
	}
}

// TestReplay_DivergentInput tests divergence detection and first-step
// attribution
func TestReplay_DivergentInput(t *testing.T) {
	ctx := context.Background()
	f := newReplayFixture(t)

	original, err := f.pipeline.Run(ctx, "E2", pipeline.Forward(), []byte("original input"),
		pipeline.RunOptions{Level: "high"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Corrupt the recorded input so the rerun transforms different data.
	original.Input = []byte("tampered input!")
	if _, err := f.art.SaveJSON("executions", "E2.json", original); err != nil {
		t.Fatalf("rewrite artifact: %v", err)
	}

	verdict, err := f.executor.Replay(ctx, "E2")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if verdict.Deterministic {
		t.Fatal("verdict should be divergent")
	}
	if verdict.Severity != SeverityCritical {
		t.Errorf("severity = %v, want critical", verdict.Severity)
	}
	if verdict.DivergenceAt != original.Results[0].ID {
		t.Errorf("divergence at %s, want first step %s", verdict.DivergenceAt, original.Results[0].ID)
	}
}

// TestReplay_UnknownExecution tests the not-found path
func TestReplay_UnknownExecution(t *testing.T) {
	f := newReplayFixture(t)

	_, err := f.executor.Replay(context.Background(), "nope")
	if err == nil {
		t.Fatal("replay of unknown execution should fail")
	}
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("kind = %v, want not_found", fault.KindOf(err))
	}
}
