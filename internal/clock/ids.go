package clock

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	// New returns a fresh unique ID.
	New() string
}

// uuidGenerator produces random UUIDv4 identifiers.
type uuidGenerator struct{}

// NewUUIDGenerator returns a generator backed by random UUIDs.
func NewUUIDGenerator() IDGenerator {
	return uuidGenerator{}
}

func (uuidGenerator) New() string {
	return uuid.NewString()
}

// SequenceGenerator produces deterministic prefixed counter IDs.
// Replay tests use it so that generated IDs match across runs.
type SequenceGenerator struct {
	prefix string
	next   atomic.Uint64
}

// NewSequenceGenerator returns a deterministic generator with the given prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// New returns the next ID in the sequence.
func (g *SequenceGenerator) New() string {
	n := g.next.Add(1)
	return fmt.Sprintf("%s-%08d", g.prefix, n)
}
