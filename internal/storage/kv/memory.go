package kv

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory DB used for tests and standalone mode.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory DB.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Read returns the value stored under key.
func (m *Memory) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Write stores value under key.
func (m *Memory) Write(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[string(key)] = stored
	return nil
}

// Delete removes key.
func (m *Memory) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, string(key))
	return nil
}

// Batch applies the operations atomically under the write lock.
func (m *Memory) Batch(ctx context.Context, ops []BatchOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, op := range ops {
		switch op.Type {
		case BatchPut:
			stored := make([]byte, len(op.Value))
			copy(stored, op.Value)
			m.data[string(op.Key)] = stored
		case BatchDelete:
			delete(m.data, string(op.Key))
		}
	}
	return nil
}

// Iterator traverses keys in [start, end) in ascending order over a
// snapshot taken at creation time.
func (m *Memory) Iterator(ctx context.Context, start, end []byte) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]memEntry, 0, len(keys))
	for _, k := range keys {
		value := make([]byte, len(m.data[k]))
		copy(value, m.data[k])
		entries = append(entries, memEntry{key: []byte(k), value: value})
	}
	return &memIterator{entries: entries, pos: -1}, nil
}

// Close marks the DB closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

type memEntry struct {
	key   []byte
	value []byte
}

type memIterator struct {
	entries []memEntry
	pos     int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

func (it *memIterator) Key() []byte {
	return it.entries[it.pos].key
}

func (it *memIterator) Value() []byte {
	return it.entries[it.pos].value
}

func (it *memIterator) Error() error { return nil }
func (it *memIterator) Close() error { return nil }

var _ DB = (*Memory)(nil)
