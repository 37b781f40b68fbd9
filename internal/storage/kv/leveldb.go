package kv

import (
	"context"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a DB backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a leveldb database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, wrapErr(err, "leveldb", "open")
	}
	return &LevelDB{db: db}, nil
}

// Read returns the value stored under key.
func (l *LevelDB) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err, "leveldb", "read")
	}
	return value, nil
}

// Write stores value under key.
func (l *LevelDB) Write(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapErr(l.db.Put(key, value, nil), "leveldb", "write")
}

// Delete removes key.
func (l *LevelDB) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapErr(l.db.Delete(key, nil), "leveldb", "delete")
}

// Batch applies the operations atomically.
func (l *LevelDB) Batch(ctx context.Context, ops []BatchOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Type {
		case BatchPut:
			batch.Put(op.Key, op.Value)
		case BatchDelete:
			batch.Delete(op.Key)
		}
	}
	return wrapErr(l.db.Write(batch, nil), "leveldb", "batch")
}

// Iterator traverses keys in [start, end) in ascending order.
func (l *LevelDB) Iterator(ctx context.Context, start, end []byte) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := l.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	return &levelIterator{iter: iter}, nil
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return wrapErr(l.db.Close(), "leveldb", "close")
}

type levelIterator struct {
	iter ldbIterator
}

// ldbIterator is the subset of goleveldb's iterator we use.
type ldbIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

func (it *levelIterator) Next() bool {
	return it.iter.Next()
}

func (it *levelIterator) Key() []byte {
	key := it.iter.Key()
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

func (it *levelIterator) Value() []byte {
	value := it.iter.Value()
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func (it *levelIterator) Error() error {
	return it.iter.Error()
}

func (it *levelIterator) Close() error {
	it.iter.Release()
	return it.iter.Error()
}

var _ DB = (*LevelDB)(nil)
