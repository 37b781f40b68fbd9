package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
)

func testOptions() Options {
	return Options{RecoveryBackoff: time.Millisecond, VoteTimeout: 100 * time.Millisecond}
}

// TestOperationType_Thresholds tests the per-operation vote requirements
func TestOperationType_Thresholds(t *testing.T) {
	cases := []struct {
		op   OperationType
		want int
	}{
		{OpPayment, 4},
		{OpGovernance, 3},
		{OpLicensing, 3},
		{OpDefault, 3},
	}
	for _, tc := range cases {
		if got := tc.op.Threshold(); got != tc.want {
			t.Errorf("%s threshold = %d, want %d", tc.op, got, tc.want)
		}
	}
}

// TestCoordinator_CleanRound tests a round where every node answers
func TestCoordinator_CleanRound(t *testing.T) {
	collector := sandbox.NewVoteCollector()
	pool := []string{"n1", "n2", "n3", "n4", "n5"}
	for _, node := range pool {
		collector.SetNode(node, 1, true, 0.95)
	}
	c := NewCoordinator(collector, sandbox.NewIdentity(), nil, nil,
		clock.System(), clock.NewSequenceGenerator("r"), nil, pool, testOptions())

	round, err := c.Validate(context.Background(), "E1", "step-1", OpPayment)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !round.Reached || round.Decision != "approve" {
		t.Errorf("round = reached=%v decision=%s, want approved", round.Reached, round.Decision)
	}
	if len(round.Votes) != 5 {
		t.Errorf("votes = %d, want 5", len(round.Votes))
	}
	if round.Confidence < 0.94 || round.Confidence > 0.96 {
		t.Errorf("confidence = %v, want ~0.95", round.Confidence)
	}
	if len(round.Recovery) != 0 {
		t.Errorf("clean round should need no recovery, got %+v", round.Recovery)
	}
}

// TestCoordinator_RecoveryRetryUnresponsive tests the first recovery action:
// two nodes answer initially, two more on the retry, threshold 4 is met
func TestCoordinator_RecoveryRetryUnresponsive(t *testing.T) {
	collector := sandbox.NewVoteCollector()
	collector.SetNode("n1", 1, true, 0.9)
	collector.SetNode("n2", 1, true, 0.9)
	collector.SetNode("n3", 2, true, 0.9)
	collector.SetNode("n4", 2, true, 0.9)
	collector.SetNode("n5", 99, true, 0.9)
	pool := []string{"n1", "n2", "n3", "n4", "n5"}

	c := NewCoordinator(collector, sandbox.NewIdentity(), nil, nil,
		clock.System(), clock.NewSequenceGenerator("r"), nil, pool, testOptions())

	round, err := c.Validate(context.Background(), "E1", "step-1", OpPayment)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !round.Reached {
		t.Fatalf("round should be reached after recovery: %+v", round)
	}
	if len(round.Votes) != 4 {
		t.Errorf("votes = %d, want 4", len(round.Votes))
	}
	if len(round.Recovery) != 1 {
		t.Fatalf("recovery log = %+v, want exactly one attempt", round.Recovery)
	}
	rec := round.Recovery[0]
	if rec.Action != "retry_unresponsive" || !rec.Succeeded || rec.NewVotes != 2 {
		t.Errorf("recovery record = %+v", rec)
	}
	if round.Confidence < 0.89 || round.Confidence > 0.91 {
		t.Errorf("confidence = %v, want ~0.9", round.Confidence)
	}
}

// TestCoordinator_SimpleFallback tests the third recovery action when
// confidence stays low
func TestCoordinator_SimpleFallback(t *testing.T) {
	collector := sandbox.NewVoteCollector()
	collector.SetNode("n1", 1, true, 0.5)
	collector.SetNode("n2", 1, true, 0.5)
	collector.SetNode("n3", 1, true, 0.5)
	collector.SetNode("n4", 1, false, 0.5)
	collector.SetNode("n5", 1, false, 0.5)
	pool := []string{"n1", "n2", "n3", "n4", "n5"}

	c := NewCoordinator(collector, sandbox.NewIdentity(), nil, nil,
		clock.System(), clock.NewSequenceGenerator("r"), nil, pool, testOptions())

	round, err := c.Validate(context.Background(), "E2", "step-1", OpGovernance)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !round.Reached || round.Decision != "approve" {
		t.Errorf("fallback should approve by bare majority: %+v", round)
	}
	if len(round.Recovery) != 3 {
		t.Fatalf("recovery log = %d entries, want 3", len(round.Recovery))
	}
	if round.Recovery[2].Action != "simple_fallback" || !round.Recovery[2].Succeeded {
		t.Errorf("final recovery record = %+v", round.Recovery[2])
	}
}

// TestCoordinator_Exhausted tests a dead tie running out of recovery
func TestCoordinator_Exhausted(t *testing.T) {
	collector := sandbox.NewVoteCollector()
	collector.SetNode("n1", 1, true, 1.0)
	collector.SetNode("n2", 1, true, 1.0)
	collector.SetNode("n3", 1, false, 1.0)
	collector.SetNode("n4", 1, false, 1.0)
	pool := []string{"n1", "n2", "n3", "n4"}

	art := artifacts.NewStore(t.TempDir())
	c := NewCoordinator(collector, sandbox.NewIdentity(), art, nil,
		clock.System(), clock.NewSequenceGenerator("r"), nil, pool, testOptions())

	round, err := c.Validate(context.Background(), "E3", "step-1", OpDefault)
	if err == nil {
		t.Fatal("dead tie should exhaust recovery")
	}
	if !fault.IsKind(err, fault.KindExhausted) {
		t.Errorf("kind = %v, want exhausted", fault.KindOf(err))
	}
	if round == nil || round.Reached {
		t.Fatalf("round = %+v, want unreached", round)
	}

	// The failed round is still archived, signatures stripped.
	var archived Round
	if err := art.LoadJSON("consensus", round.ID+".json", &archived); err != nil {
		t.Fatalf("load archive: %v", err)
	}
	if len(archived.Votes) != len(round.Votes) {
		t.Errorf("archived votes = %d, want %d", len(archived.Votes), len(round.Votes))
	}
	for _, vote := range archived.Votes {
		if len(vote.Signature) != 0 {
			t.Errorf("archived vote for %s still carries a signature", vote.Node)
		}
	}
}

// TestCoordinator_RejectsBadSignatures tests vote discard on signature
// failure
func TestCoordinator_RejectsBadSignatures(t *testing.T) {
	collector := &forgingCollector{inner: sandbox.NewVoteCollector()}
	pool := []string{"n1", "n2", "n3"}
	for _, node := range pool {
		collector.inner.SetNode(node, 1, true, 1.0)
	}

	c := NewCoordinator(collector, sandbox.NewIdentity(), nil, nil,
		clock.System(), clock.NewSequenceGenerator("r"), nil, pool,
		Options{RecoveryBackoff: time.Millisecond, VoteTimeout: 100 * time.Millisecond, MaxRecovery: 1})

	round, err := c.Validate(context.Background(), "E4", "step-1", OpDefault)
	if err == nil {
		t.Fatal("forged votes should never reach threshold")
	}
	if len(round.Votes) != 0 {
		t.Errorf("votes = %d, want 0 accepted", len(round.Votes))
	}
}

// forgingCollector wraps the sandbox collector and corrupts every signature.
type forgingCollector struct {
	inner *sandbox.VoteCollector
}

func (f *forgingCollector) RequestVote(ctx context.Context, node string, req ports.VoteRequest) (ports.NodeVote, error) {
	vote, err := f.inner.RequestVote(ctx, node, req)
	if err != nil {
		return vote, err
	}
	vote.Signature = []byte("forged")
	return vote, nil
}
