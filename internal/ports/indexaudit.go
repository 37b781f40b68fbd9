package ports

import "context"

// IndexEntry describes a payload registered with the ecosystem index.
type IndexEntry struct {
	Key       string            // Lookup key
	Hash      string            // Hex digest of the payload
	Size      int64             // Payload size in bytes
	Metadata  map[string]string // Free-form descriptor fields
	Timestamp int64             // Unix milliseconds
}

// Index registers payload descriptors for later lookup.
type Index interface {
	Register(ctx context.Context, entry IndexEntry) (string, error)
}

// AuditEvent is a single entry in the audit trail.
type AuditEvent struct {
	ID            string            // Unique event ID
	Action        string            // What happened, e.g. "payment.settled"
	Actor         string            // Identity that caused it
	Resource      string            // ID of the affected resource
	Outcome       string            // "ok", "denied", "failed"
	CorrelationID string            // Links related audit entries
	Details       map[string]string // Extra context
	Timestamp     int64             // Unix milliseconds
}

// Audit records events for later audit.
type Audit interface {
	Log(ctx context.Context, event AuditEvent) error
}
