package clock

import (
	"math/rand"
	"sync"
)

// Rand is the single randomness source injected into every component that
// simulates latency, failures or victim selection. Funneling all randomness
// through one seeded source keeps replays reproducible.
type Rand interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64

	// Intn returns a pseudo-random number in [0, n).
	Intn(n int) int

	// Int63n returns a pseudo-random int64 in [0, n).
	Int63n(n int64) int64
}

// lockedRand serializes access to a math/rand source.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a seeded randomness source safe for concurrent use.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}
