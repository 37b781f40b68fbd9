package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
	"github.com/qinfinity/qcored/internal/storage/kv"
)

type ledgerFixture struct {
	ledger  *Ledger
	db      kv.DB
	storage *sandbox.Storage
	clock   *clock.Manual
}

func newFixture(t *testing.T, opts Options) *ledgerFixture {
	t.Helper()
	db := kv.NewMemory()
	storage := sandbox.NewStorage()
	manual := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	opts.SyncPublish = true
	if opts.PublishBackoff == 0 {
		opts.PublishBackoff = time.Millisecond
	}
	l, err := New(db, sandbox.NewCrypto(), storage, nil, manual,
		clock.NewSequenceGenerator("rec"), nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &ledgerFixture{ledger: l, db: db, storage: storage, clock: manual}
}

// mutate rewrites a stored record's payload without updating its hash.
func (f *ledgerFixture) mutate(t *testing.T, recordID string) {
	t.Helper()
	ctx := context.Background()
	seqRef, err := f.db.Read(ctx, idKey(recordID))
	if err != nil {
		t.Fatalf("read id key: %v", err)
	}
	raw, err := f.db.Read(ctx, seqRef)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	record, err := decodeRecord(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	record.Summary.StepCount += 7
	data, err := encodeRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.db.Write(ctx, seqRef, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.ledger.cache.Remove(recordID)
}

// TestLedger_AppendChain tests hash linkage and publication across appends
func TestLedger_AppendChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1"})

	r1, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 2, Outcome: "valid"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if r1.PrevHash != "" {
		t.Errorf("genesis prev hash = %q, want empty", r1.PrevHash)
	}
	if r1.ContentAddress == "" || !r1.Published {
		// Sync publish updates the stored copy; re-read it.
		stored, err := f.ledger.Get(ctx, r1.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.ContentAddress == "" || !stored.Published {
			t.Errorf("record not published: %+v", stored)
		}
	}

	f.clock.Advance(time.Second)
	r2, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 2, Outcome: "valid"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if r2.PrevHash != r1.Hash {
		t.Errorf("r2.PrevHash = %s, want %s", r2.PrevHash, r1.Hash)
	}
	if r2.Clock["n1"] != 2 {
		t.Errorf("vector clock n1 = %d, want 2", r2.Clock["n1"])
	}

	recomputed, err := recordHash(f.ledger.crypto, r2)
	if err != nil {
		t.Fatalf("recordHash: %v", err)
	}
	if recomputed != r2.Hash {
		t.Error("stored hash does not match recomputation")
	}
}

// TestLedger_VerifyDetectsMutation tests chain verification against a
// tampered middle record
func TestLedger_VerifyDetectsMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1"})

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 2, Outcome: "valid"})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, r.ID)
		f.clock.Advance(time.Second)
	}

	clean, err := f.ledger.Verify(ctx, "E1")
	if err != nil {
		t.Fatalf("verify clean: %v", err)
	}
	if !clean.ChainValid || clean.TotalRecords != 3 {
		t.Fatalf("clean chain report = %+v", clean)
	}

	f.mutate(t, ids[1])

	report, err := f.ledger.Verify(ctx, "E1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.ChainValid {
		t.Error("chain should be invalid after mutation")
	}
	if report.BrokenAt != ids[1] {
		t.Errorf("broken at %s, want %s", report.BrokenAt, ids[1])
	}
	if report.TotalRecords != 3 {
		t.Errorf("total records = %d, want 3", report.TotalRecords)
	}
}

// TestLedger_AppendRefusesCorruptTail tests the corruption guard on append
func TestLedger_AppendRefusesCorruptTail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1"})

	tail, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 1})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	f.mutate(t, tail.ID)

	_, err = f.ledger.Append(ctx, "E1", Summary{StepCount: 1})
	if err == nil {
		t.Fatal("append on corrupt tail should fail")
	}
	if !errors.Is(err, ErrCorrupted) {
		t.Errorf("err = %v, want ErrCorrupted", err)
	}
	if !fault.IsKind(err, fault.KindIntegrityViolation) {
		t.Errorf("kind = %v, want integrity_violation", fault.KindOf(err))
	}
}

// TestLedger_PublishRetries tests backoff retry against a flaky store
func TestLedger_PublishRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1", PublishRetries: 3})
	f.storage.FailNextPuts(2)

	r, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 1})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	stored, err := f.ledger.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.Published || stored.ContentAddress == "" {
		t.Errorf("record should be published after retries: %+v", stored)
	}
	if f.ledger.PublishFailures() != 0 {
		t.Errorf("publish failures = %d, want 0", f.ledger.PublishFailures())
	}
}

// TestLedger_PublishExhaustedDegrades tests that a dead store never fails
// the append
func TestLedger_PublishExhaustedDegrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1", PublishRetries: 2})
	f.storage.FailNextPuts(10)

	r, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 1})
	if err != nil {
		t.Fatalf("append must survive publication failure: %v", err)
	}
	stored, err := f.ledger.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Published {
		t.Error("record should remain unpublished")
	}
	if f.ledger.PublishFailures() != 1 {
		t.Errorf("publish failures = %d, want 1", f.ledger.PublishFailures())
	}
}

// TestLedger_Recover tests tail recovery after reopening
func TestLedger_Recover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1"})

	r1, err := f.ledger.Append(ctx, "E1", Summary{StepCount: 1})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := New(f.db, sandbox.NewCrypto(), f.storage, nil, f.clock,
		clock.NewSequenceGenerator("rec2"), nil, Options{NodeID: "n1", SyncPublish: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	r2, err := reopened.Append(ctx, "E1", Summary{StepCount: 1})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	// Recovery rewrites the tail hash reference from the published copy.
	tail, err := reopened.Get(ctx, r1.ID)
	if err != nil {
		t.Fatalf("get tail: %v", err)
	}
	if r2.PrevHash != tail.Hash {
		t.Errorf("r2.PrevHash = %s, want %s", r2.PrevHash, tail.Hash)
	}
	if r2.Clock["n1"] != 2 {
		t.Errorf("recovered vector clock n1 = %d, want 2", r2.Clock["n1"])
	}
}

// TestLedger_Sweep tests retention removal of whole chains
func TestLedger_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NodeID: "n1", Retention: 24 * time.Hour})

	if _, err := f.ledger.Append(ctx, "E-old", Summary{StepCount: 1}); err != nil {
		t.Fatalf("append old: %v", err)
	}
	f.clock.Advance(48 * time.Hour)
	fresh, err := f.ledger.Append(ctx, "E-new", Summary{StepCount: 1})
	if err != nil {
		t.Fatalf("append new: %v", err)
	}

	removed, err := f.ledger.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	old, err := f.ledger.Records(ctx, "E-old")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("old chain should be gone, have %d records", len(old))
	}
	kept, err := f.ledger.Records(ctx, "E-new")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != fresh.ID {
		t.Errorf("new chain = %+v, want the fresh record", kept)
	}
}
