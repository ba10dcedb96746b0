package rawdb

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryDB is an in-memory key-value database implementing the Database interface.
// It is safe for concurrent use. Intended for testing and ephemeral nodes.
type MemoryDB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryDB creates a new in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

func (db *MemoryDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return false, ErrClosed
	}
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemoryDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	val, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(val), nil
}

func (db *MemoryDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (db *MemoryDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	delete(db.data, string(key))
	return nil
}

// Close marks the database closed; later calls fail with ErrClosed.
func (db *MemoryDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// NewBatch creates a new batch writer.
func (db *MemoryDB) NewBatch() Batch {
	return &memBatch{db: db}
}

// NewIterator returns a snapshot iterator over keys with the given prefix
// that sort at or after prefix+start.
func (db *MemoryDB) NewIterator(prefix, start []byte) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()

	first := append(append([]byte{}, prefix...), start...)
	var keys []string
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) && k >= string(first) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	items := make([]kv, len(keys))
	for i, k := range keys {
		items[i] = kv{key: []byte(k), value: bytes.Clone(db.data[k])}
	}
	return &memIterator{items: items, pos: -1}
}

// Len returns the number of entries in the database.
func (db *MemoryDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// --- Batch ---

type memBatch struct {
	db   *MemoryDB
	ops  []batchOp
	size int
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	b.size += len(key) + len(value)
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: append([]byte{}, key...), delete: true})
	b.size += len(key)
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

// Write applies every queued operation under a single lock acquisition.
func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.closed {
		return ErrClosed
	}
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (b *memBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

// --- Iterator ---

type kv struct {
	key, value []byte
}

type memIterator struct {
	items []kv
	pos   int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *memIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].key
}

func (it *memIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].value
}

func (it *memIterator) Error() error { return nil }

func (it *memIterator) Release() {}
