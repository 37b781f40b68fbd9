package ports

import "context"

// ContentStat describes a stored blob.
type ContentStat struct {
	Address string // Content address of the blob
	Size    int64  // Size in bytes
	Name    string // Name given at Put time
}

// ContentStorage is the content-addressed storage port. Calls are
// timeout-bounded by the caller's context; failures are reported to the
// caller, never thrown through as panics.
type ContentStorage interface {
	// Put stores data under a namespace and returns its content address.
	Put(ctx context.Context, data []byte, name, namespace string) (string, error)

	// Get retrieves a blob by content address.
	Get(ctx context.Context, address string) ([]byte, error)

	// Stat returns the descriptor for a content address.
	Stat(ctx context.Context, address string) (ContentStat, error)
}
