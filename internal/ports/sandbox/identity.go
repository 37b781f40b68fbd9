package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// MockSignaturePrefix is the fixed test-signature format accepted only in
// sandbox mode. Outside the sandbox, real verification applies.
const MockSignaturePrefix = "mock_signature_"

// Identity is an in-memory identity double with explicit group membership.
type Identity struct {
	mu     sync.RWMutex
	groups map[string]map[string]bool
	crypto *Crypto
}

// NewIdentity returns an empty sandbox identity port.
func NewIdentity() *Identity {
	return &Identity{
		groups: make(map[string]map[string]bool),
		crypto: NewCrypto(),
	}
}

// AddMember adds identity to group.
func (i *Identity) AddMember(group, identity string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.groups[group] == nil {
		i.groups[group] = make(map[string]bool)
	}
	i.groups[group][identity] = true
}

// RemoveMember removes identity from group.
func (i *Identity) RemoveMember(group, identity string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.groups[group], identity)
}

// IsMember reports whether identity belongs to group.
func (i *Identity) IsMember(_ context.Context, identity, group string) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.groups[group][identity], nil
}

// Descriptor returns a compact identity descriptor.
func (i *Identity) Descriptor(identity string) (string, error) {
	digest := sha256.Sum256([]byte(identity))
	return "squid:" + hex.EncodeToString(digest[:10]), nil
}

// VerifySignature accepts the fixed mock format or a sandbox crypto
// signature from the identity.
func (i *Identity) VerifySignature(_ context.Context, identity string, payload, signature []byte) (bool, error) {
	sig := string(signature)
	if strings.HasPrefix(sig, MockSignaturePrefix) {
		return true, nil
	}
	return i.crypto.Verify(payload, signature, identity)
}

var _ ports.Identity = (*Identity)(nil)
