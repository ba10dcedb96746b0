// Package merkle implements the depth-32 incremental Merkle tree used to
// commit to every dispatched message, together with inclusion proofs.
//
// The tree is a binary keccak256 tree whose empty leaves are 32 zero bytes.
// The on-chain side only keeps the incremental form (count plus one
// "branch" node per level); relayers keep every leaf in a Tree to produce
// proofs. Both sides compute identical roots.
package merkle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
)

// Depth is the fixed height of the tree.
const Depth = 32

// MaxLeaves is the capacity of the tree. The count is a uint32, so the
// last of the 2^32 leaf slots can never be filled.
const MaxLeaves = math.MaxUint32

// EncodedTreeLength is the size of a marshaled IncrementalTree.
const EncodedTreeLength = 4 + Depth*types.HashLength

var (
	ErrTreeFull        = errors.New("merkle: tree full")
	ErrIndexOutOfRange = errors.New("merkle: index out of range")
	ErrInvalidEncoding = errors.New("merkle: invalid encoding")
)

// ZeroHashes[i] is the root of an empty subtree of height i.
var ZeroHashes [Depth + 1]types.Hash

func init() {
	for i := 1; i <= Depth; i++ {
		ZeroHashes[i] = hashPair(ZeroHashes[i-1], ZeroHashes[i-1])
	}
}

func hashPair(left, right types.Hash) types.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

// IncrementalTree is the append-only accumulator. The zero value is an empty
// tree. It is not safe for concurrent use; the owner serialises access.
type IncrementalTree struct {
	branch [Depth]types.Hash
	count  uint32
}

// Insert appends leaf to the tree.
func (t *IncrementalTree) Insert(leaf types.Hash) error {
	if t.count >= MaxLeaves {
		return ErrTreeFull
	}
	t.count++
	size := t.count
	node := leaf
	for i := 0; i < Depth; i++ {
		if size&1 == 1 {
			t.branch[i] = node
			return nil
		}
		node = hashPair(t.branch[i], node)
		size >>= 1
	}
	// size is non-zero and below 2^32, so one of its low 32 bits is set.
	panic("merkle: insert fell through")
}

// Root computes the current root from the branch and the zero hashes.
func (t *IncrementalTree) Root() types.Hash {
	var current types.Hash
	for i := 0; i < Depth; i++ {
		if (t.count>>i)&1 == 1 {
			current = hashPair(t.branch[i], current)
		} else {
			current = hashPair(current, ZeroHashes[i])
		}
	}
	return current
}

// Count returns the number of inserted leaves.
func (t *IncrementalTree) Count() uint32 { return t.count }

// Branch returns a copy of the per-level branch nodes.
func (t *IncrementalTree) Branch() [Depth]types.Hash { return t.branch }

// MarshalBinary encodes the tree as count (big-endian u32) followed by the
// 32 branch nodes.
func (t *IncrementalTree) MarshalBinary() ([]byte, error) {
	out := make([]byte, EncodedTreeLength)
	binary.BigEndian.PutUint32(out, t.count)
	for i := range t.branch {
		copy(out[4+i*types.HashLength:], t.branch[i][:])
	}
	return out, nil
}

// UnmarshalBinary restores a tree produced by MarshalBinary.
func (t *IncrementalTree) UnmarshalBinary(b []byte) error {
	if len(b) != EncodedTreeLength {
		return fmt.Errorf("%w: tree state is %d bytes, want %d", ErrInvalidEncoding, len(b), EncodedTreeLength)
	}
	t.count = binary.BigEndian.Uint32(b)
	for i := range t.branch {
		copy(t.branch[i][:], b[4+i*types.HashLength:])
	}
	return nil
}

// BranchRoot computes the root implied by leaf at index with the given
// sibling path. Bit i of index selects whether the running node is the
// right (1) or left (0) child at level i.
func BranchRoot(leaf types.Hash, path [Depth]types.Hash, index uint32) types.Hash {
	current := leaf
	for i := 0; i < Depth; i++ {
		if (index>>i)&1 == 1 {
			current = hashPair(path[i], current)
		} else {
			current = hashPair(current, path[i])
		}
	}
	return current
}
