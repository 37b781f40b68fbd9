// Package kv defines the key-value storage layer that persists the
// execution ledger. Three backends are provided: pebble and leveldb for
// durable storage, and an in-memory store for tests and standalone runs.
package kv

import (
	"context"
)

// DB defines the basic operations any kv backend must support.
type DB interface {
	// Basic operations
	Read(ctx context.Context, key []byte) ([]byte, error)
	Write(ctx context.Context, key []byte, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Batch applies a set of operations atomically.
	Batch(ctx context.Context, ops []BatchOperation) error

	// Iterator traverses keys in [start, end) in ascending order.
	Iterator(ctx context.Context, start, end []byte) (Iterator, error)

	// Close releases backend resources.
	Close() error
}

// Iterator allows traversing kv entries.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// BatchOperation represents a single operation in a batch.
type BatchOperation struct {
	Type  BatchOpType
	Key   []byte
	Value []byte
}

// BatchOpType discriminates batch operations.
type BatchOpType int

const (
	BatchPut BatchOpType = iota
	BatchDelete
)
