package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// Index is an in-memory index double.
type Index struct {
	mu      sync.Mutex
	entries []ports.IndexEntry
}

// NewIndex returns an empty sandbox index.
func NewIndex() *Index {
	return &Index{}
}

// Register records an index entry and returns its reference.
func (i *Index) Register(_ context.Context, entry ports.IndexEntry) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = append(i.entries, entry)
	return fmt.Sprintf("idx-%06d", len(i.entries)), nil
}

// Entries returns a copy of all registered entries.
func (i *Index) Entries() []ports.IndexEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]ports.IndexEntry, len(i.entries))
	copy(out, i.entries)
	return out
}

var _ ports.Index = (*Index)(nil)

// Audit is an in-memory audit trail double.
type Audit struct {
	mu     sync.Mutex
	events []ports.AuditEvent
}

// NewAudit returns an empty sandbox audit trail.
func NewAudit() *Audit {
	return &Audit{}
}

// Log appends an event to the trail.
func (a *Audit) Log(_ context.Context, event ports.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (a *Audit) Events() []ports.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ports.AuditEvent, len(a.events))
	copy(out, a.events)
	return out
}

var _ ports.Audit = (*Audit)(nil)
