package kv

import "fmt"

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
)

// Open creates a DB for the named backend. Path is ignored for the memory
// backend.
func Open(backend, path string) (DB, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendPebble:
		return OpenPebble(path)
	case BackendLevelDB:
		return OpenLevelDB(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
}
