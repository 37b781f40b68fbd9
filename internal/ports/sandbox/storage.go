package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// Storage is an in-memory content-addressed store. Addresses are derived
// from the blob digest, so identical content maps to the same address.
type Storage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	names map[string]string

	// FailPuts makes the next n Put calls fail; used to exercise the
	// ledger publisher's retry path.
	failPuts int
}

// NewStorage returns an empty sandbox content store.
func NewStorage() *Storage {
	return &Storage{
		blobs: make(map[string][]byte),
		names: make(map[string]string),
	}
}

// FailNextPuts makes the next n Put calls return an error.
func (s *Storage) FailNextPuts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = n
}

// Put stores data and returns its content address.
func (s *Storage) Put(ctx context.Context, data []byte, name, namespace string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPuts > 0 {
		s.failPuts--
		return "", fmt.Errorf("sandbox storage: put unavailable")
	}

	digest := sha256.Sum256(data)
	addr := "qmc" + hex.EncodeToString(digest[:])[:44]
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[addr] = stored
	s.names[addr] = namespace + "/" + name
	return addr, nil
}

// Get retrieves a blob by content address.
func (s *Storage) Get(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[address]
	if !ok {
		return nil, fmt.Errorf("sandbox storage: %s not found", address)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Stat returns the descriptor for a content address.
func (s *Storage) Stat(ctx context.Context, address string) (ports.ContentStat, error) {
	if err := ctx.Err(); err != nil {
		return ports.ContentStat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[address]
	if !ok {
		return ports.ContentStat{}, fmt.Errorf("sandbox storage: %s not found", address)
	}
	return ports.ContentStat{
		Address: address,
		Size:    int64(len(data)),
		Name:    s.names[address],
	}, nil
}

// Len returns the number of stored blobs.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

var _ ports.ContentStorage = (*Storage)(nil)
