package rawdb

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleDB is a Database backed by a pebble LSM store. Every write is
// synced to disk before it returns.
type PebbleDB struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// NewPebbleDB opens (or creates) a pebble database in dir.
func NewPebbleDB(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get")
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (p *PebbleDB) Put(key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.db.Delete(key, pebble.Sync)
}

// Close flushes and closes the store. Closing twice is a no-op.
func (p *PebbleDB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// NewBatch creates a write-only batch committed with a single sync.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{db: p, b: p.db.NewBatch()}
}

// NewIterator returns an iterator over keys with the given prefix that sort
// at or after prefix+start.
func (p *PebbleDB) NewIterator(prefix, start []byte) Iterator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return &pebbleIterator{err: ErrClosed}
	}
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: append(append([]byte{}, prefix...), start...),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return &pebbleIterator{err: errors.Wrap(err, "new iterator")}
	}
	return &pebbleIterator{iter: it}
}

// upperBound returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func upperBound(prefix []byte) []byte {
	limit := bytes.Clone(prefix)
	for i := len(limit) - 1; i >= 0; i-- {
		if limit[i] < 0xff {
			limit[i]++
			return limit[:i+1]
		}
	}
	return nil
}

// --- Batch ---

type pebbleBatch struct {
	db   *PebbleDB
	b    *pebble.Batch
	size int
}

func (b *pebbleBatch) Put(key, value []byte) error {
	if err := b.b.Set(key, value, nil); err != nil {
		return err
	}
	b.size += len(key) + len(value)
	return nil
}

func (b *pebbleBatch) Delete(key []byte) error {
	if err := b.b.Delete(key, nil); err != nil {
		return err
	}
	b.size += len(key)
	return nil
}

func (b *pebbleBatch) ValueSize() int { return b.size }

func (b *pebbleBatch) Write() error {
	b.db.mu.RLock()
	defer b.db.mu.RUnlock()
	if b.db.closed {
		return ErrClosed
	}
	return errors.Wrap(b.b.Commit(pebble.Sync), "commit batch")
}

func (b *pebbleBatch) Reset() {
	b.b.Reset()
	b.size = 0
}

// --- Iterator ---

type pebbleIterator struct {
	iter  *pebble.Iterator
	moved bool
	err   error
}

func (it *pebbleIterator) Next() bool {
	if it.iter == nil {
		return false
	}
	if !it.moved {
		it.moved = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Key() []byte {
	if it.iter == nil || !it.iter.Valid() {
		return nil
	}
	return it.iter.Key()
}

func (it *pebbleIterator) Value() []byte {
	if it.iter == nil || !it.iter.Valid() {
		return nil
	}
	return it.iter.Value()
}

func (it *pebbleIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.iter == nil {
		return nil
	}
	return it.iter.Error()
}

func (it *pebbleIterator) Release() {
	if it.iter != nil {
		if err := it.iter.Close(); err != nil && it.err == nil {
			it.err = err
		}
		it.iter = nil
	}
}
