package clock

import (
	"testing"
)

// TestVectorClock_Tick tests per-node counter increments
func TestVectorClock_Tick(t *testing.T) {
	vc := NewVectorClock()

	if got := vc.Tick("n1"); got != 1 {
		t.Errorf("Tick = %d, want 1", got)
	}
	if got := vc.Tick("n1"); got != 2 {
		t.Errorf("Tick = %d, want 2", got)
	}
	if got := vc.Tick("n2"); got != 1 {
		t.Errorf("Tick n2 = %d, want 1", got)
	}
}

// TestVectorClock_Merge tests the merge-on-receive rule
func TestVectorClock_Merge(t *testing.T) {
	a := VectorClock{"n1": 3, "n2": 1}
	b := VectorClock{"n1": 1, "n2": 5, "n3": 2}

	a.Merge(b, "n1")

	if a["n1"] != 4 {
		t.Errorf("n1 = %d, want 4 (max then tick owner)", a["n1"])
	}
	if a["n2"] != 5 {
		t.Errorf("n2 = %d, want 5", a["n2"])
	}
	if a["n3"] != 2 {
		t.Errorf("n3 = %d, want 2", a["n3"])
	}
}

// TestVectorClock_Compare tests the causal ordering relation
func TestVectorClock_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{"equal", VectorClock{"n1": 1}, VectorClock{"n1": 1}, OrderEqual},
		{"before", VectorClock{"n1": 1}, VectorClock{"n1": 2}, OrderBefore},
		{"after", VectorClock{"n1": 2, "n2": 1}, VectorClock{"n1": 1}, OrderAfter},
		{"concurrent", VectorClock{"n1": 2}, VectorClock{"n2": 2}, OrderConcurrent},
		{"missing key counts as zero", VectorClock{}, VectorClock{"n9": 1}, OrderBefore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestVectorClock_Descends tests causal dependency checks
func TestVectorClock_Descends(t *testing.T) {
	parent := VectorClock{"n1": 1, "n2": 2}
	child := parent.Copy()
	child.Tick("n1")

	if !child.Descends(parent) {
		t.Error("child should descend from parent")
	}
	if parent.Descends(child) {
		t.Error("parent should not descend from child")
	}
}

// TestVectorClock_CopyIsIndependent tests that Copy does not alias
func TestVectorClock_CopyIsIndependent(t *testing.T) {
	a := VectorClock{"n1": 1}
	b := a.Copy()
	b.Tick("n1")

	if a["n1"] != 1 {
		t.Errorf("original mutated: n1 = %d, want 1", a["n1"])
	}
}

// TestSequenceGenerator tests deterministic ID generation
func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("exec")

	if got := g.New(); got != "exec-00000001" {
		t.Errorf("New = %q, want exec-00000001", got)
	}
	if got := g.New(); got != "exec-00000002" {
		t.Errorf("New = %q, want exec-00000002", got)
	}
}

// TestRand_Deterministic tests that equal seeds yield equal streams
func TestRand_Deterministic(t *testing.T) {
	a := NewRand(42)
	b := NewRand(42)

	for i := 0; i < 10; i++ {
		if av, bv := a.Intn(1000), b.Intn(1000); av != bv {
			t.Fatalf("streams diverged at %d: %d != %d", i, av, bv)
		}
	}
}
