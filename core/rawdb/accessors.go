package rawdb

import (
	"encoding/binary"
	"fmt"

	"github.com/eth2030/interchain/core/types"
)

// --- Tree Accessors ---

// ReadTree retrieves the marshaled outbound tree state.
func ReadTree(db KeyValueReader) ([]byte, error) {
	return db.Get(treeKey)
}

// WriteTree stores the marshaled outbound tree state.
func WriteTree(db KeyValueWriter, state []byte) error {
	return db.Put(treeKey, state)
}

// --- Message Accessors ---

// ReadMessage retrieves the canonical encoding of a dispatched message.
func ReadMessage(db KeyValueReader, id types.Hash) ([]byte, error) {
	return db.Get(messageKey(id))
}

// WriteMessage stores a dispatched message under its id.
func WriteMessage(db KeyValueWriter, id types.Hash, encoded []byte) error {
	return db.Put(messageKey(id), encoded)
}

// ReadMessageID retrieves the id of the message dispatched with nonce.
func ReadMessageID(db KeyValueReader, nonce uint32) (types.Hash, error) {
	data, err := db.Get(messageIDKey(nonce))
	if err != nil {
		return types.Hash{}, err
	}
	if len(data) != types.HashLength {
		return types.Hash{}, fmt.Errorf("rawdb: corrupt message id for nonce %d: %d bytes", nonce, len(data))
	}
	return types.BytesToHash(data), nil
}

// WriteMessageID stores the nonce -> id mapping.
func WriteMessageID(db KeyValueWriter, nonce uint32, id types.Hash) error {
	return db.Put(messageIDKey(nonce), id[:])
}

// IterateMessageIDs calls fn for every stored nonce -> id mapping in nonce
// order, starting at from. Iteration stops at the first error.
func IterateMessageIDs(db Iteratee, from uint32, fn func(nonce uint32, id types.Hash) error) error {
	it := db.NewIterator(messageIDPrefix, encodeNonce(from))
	defer it.Release()

	for it.Next() {
		key := it.Key()
		if len(key) != len(messageIDPrefix)+4 || len(it.Value()) != types.HashLength {
			return fmt.Errorf("rawdb: corrupt message id entry %x", key)
		}
		nonce := binary.BigEndian.Uint32(key[len(messageIDPrefix):])
		if err := fn(nonce, types.BytesToHash(it.Value())); err != nil {
			return err
		}
	}
	return it.Error()
}

// --- Delivery Accessors ---

// HasDelivered checks if an inbound message has been processed.
func HasDelivered(db KeyValueReader, id types.Hash) (bool, error) {
	return db.Has(deliveredKey(id))
}

// WriteDelivered marks an inbound message as processed.
func WriteDelivered(db KeyValueWriter, id types.Hash) error {
	return db.Put(deliveredKey(id), []byte{})
}

// DeleteDelivered clears the processed mark of an inbound message.
func DeleteDelivered(db KeyValueWriter, id types.Hash) error {
	return db.Delete(deliveredKey(id))
}
