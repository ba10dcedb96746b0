package rawdb

import (
	"encoding/binary"

	"github.com/eth2030/interchain/core/types"
)

// Key prefixes for the database schema.
var (
	// Outbound tree
	treeKey = []byte("t") // t -> marshaled incremental tree (count + branch)

	// Dispatched messages
	messagePrefix   = []byte("m") // m + message id -> canonical message encoding
	messageIDPrefix = []byte("n") // n + nonce (4 bytes BE) -> message id

	// Inbound delivery
	deliveredPrefix = []byte("d") // d + message id -> empty
)

// encodeNonce encodes a nonce as a 4-byte big-endian value.
func encodeNonce(nonce uint32) []byte {
	enc := make([]byte, 4)
	binary.BigEndian.PutUint32(enc, nonce)
	return enc
}

// messageKey = messagePrefix + id
func messageKey(id types.Hash) []byte {
	return append(append([]byte{}, messagePrefix...), id[:]...)
}

// messageIDKey = messageIDPrefix + nonce
func messageIDKey(nonce uint32) []byte {
	return append(append([]byte{}, messageIDPrefix...), encodeNonce(nonce)...)
}

// deliveredKey = deliveredPrefix + id
func deliveredKey(id types.Hash) []byte {
	return append(append([]byte{}, deliveredPrefix...), id[:]...)
}
