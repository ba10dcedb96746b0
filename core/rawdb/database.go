// Package rawdb provides the key-value storage layer of the interchain
// mailbox and the accessor functions for its schema.
//
// Each record type uses a distinct single-byte key prefix to avoid
// collisions. Two backends are provided: MemoryDB for tests and ephemeral
// nodes, PebbleDB for durable storage.
package rawdb

import "errors"

var (
	ErrNotFound = errors.New("rawdb: not found")
	ErrClosed   = errors.New("rawdb: database closed")
)

// KeyValueReader wraps the Has and Get methods of a backing data store.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put and Delete methods of a backing data store.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// KeyValueStore combines read and write access to a backing data store.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Close() error
}

// Iterator iterates over a database's key/value pairs in ascending key order.
// Key and Value are only valid until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Iteratee wraps the NewIterator method of a backing data store.
type Iteratee interface {
	// NewIterator returns an iterator over keys with the given prefix,
	// starting at prefix+start.
	NewIterator(prefix, start []byte) Iterator
}

// Batch is a write-only database that commits changes atomically.
type Batch interface {
	KeyValueWriter
	ValueSize() int
	Write() error
	Reset()
}

// Batcher wraps the NewBatch method of a backing data store.
type Batcher interface {
	NewBatch() Batch
}

// Database is the full database interface combining all capabilities.
type Database interface {
	KeyValueStore
	Iteratee
	Batcher
}
