package crypto

import (
	"context"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// Registry implements the Identity port with real signature verification.
// Group membership is maintained in memory; signatures are checked against
// the identity's derived secp256k1 key. No test-signature bypass exists
// here, that shortcut lives only in the sandbox doubles.
type Registry struct {
	mu      sync.RWMutex
	groups  map[string]map[string]bool
	service *Service
}

// NewRegistry creates an identity registry over a crypto service.
func NewRegistry(service *Service) *Registry {
	return &Registry{
		groups:  make(map[string]map[string]bool),
		service: service,
	}
}

// AddMember adds identity to group.
func (r *Registry) AddMember(group, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[group] == nil {
		r.groups[group] = make(map[string]bool)
	}
	r.groups[group][identity] = true
}

// RemoveMember removes identity from group.
func (r *Registry) RemoveMember(group, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[group], identity)
}

// IsMember reports whether identity belongs to group.
func (r *Registry) IsMember(_ context.Context, identity, group string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[group][identity], nil
}

// Descriptor returns the compact account descriptor for an identity.
func (r *Registry) Descriptor(identity string) (string, error) {
	return r.service.Descriptor(identity)
}

// VerifySignature checks a signature against the identity's derived key.
func (r *Registry) VerifySignature(_ context.Context, identity string, payload, signature []byte) (bool, error) {
	return r.service.Verify(payload, signature, identity)
}

var _ ports.Identity = (*Registry)(nil)
