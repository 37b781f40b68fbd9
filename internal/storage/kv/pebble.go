package kv

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
)

// Pebble is a DB backed by cockroachdb/pebble.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, wrapErr(err, "pebble", "open")
	}
	return &Pebble{db: db}, nil
}

// Read returns the value stored under key.
func (p *Pebble) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err, "pebble", "read")
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, wrapErr(err, "pebble", "read")
	}
	return out, nil
}

// Write stores value under key.
func (p *Pebble) Write(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapErr(p.db.Set(key, value, pebble.Sync), "pebble", "write")
}

// Delete removes key.
func (p *Pebble) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapErr(p.db.Delete(key, pebble.Sync), "pebble", "delete")
}

// Batch applies the operations atomically.
func (p *Pebble) Batch(ctx context.Context, ops []BatchOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		var err error
		switch op.Type {
		case BatchPut:
			err = batch.Set(op.Key, op.Value, nil)
		case BatchDelete:
			err = batch.Delete(op.Key, nil)
		}
		if err != nil {
			return wrapErr(err, "pebble", "batch")
		}
	}
	return wrapErr(p.db.Apply(batch, pebble.Sync), "pebble", "batch")
}

// Iterator traverses keys in [start, end) in ascending order.
func (p *Pebble) Iterator(ctx context.Context, start, end []byte) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, wrapErr(err, "pebble", "iterator")
	}
	return &pebbleIterator{iter: iter}, nil
}

// Close closes the database.
func (p *Pebble) Close() error {
	return wrapErr(p.db.Close(), "pebble", "close")
}

type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Key() []byte {
	key := it.iter.Key()
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

func (it *pebbleIterator) Value() []byte {
	value := it.iter.Value()
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func (it *pebbleIterator) Error() error {
	return it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}

var _ DB = (*Pebble)(nil)
