package ports

import "context"

// Identity is the identity capability port.
type Identity interface {
	// IsMember reports whether identity belongs to group.
	IsMember(ctx context.Context, identity, group string) (bool, error)

	// Descriptor returns a compact descriptor for an identity.
	Descriptor(identity string) (string, error)

	// VerifySignature checks a signature attributed to identity.
	// Sandbox implementations may accept a fixed test format instead.
	VerifySignature(ctx context.Context, identity string, payload, signature []byte) (bool, error)
}
