package merkle

import (
	"fmt"
	"sync"

	"github.com/eth2030/interchain/core/types"
)

// Tree keeps every leaf so that inclusion proofs can be generated for any
// index. Its root always equals that of an IncrementalTree fed the same
// leaves. Tree is safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	leaves []types.Hash
	inc    IncrementalTree
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{leaves: make([]types.Hash, 0, 1024)}
}

// Push appends a leaf and returns its index.
func (t *Tree) Push(leaf types.Hash) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.inc.Count()
	if err := t.inc.Insert(leaf); err != nil {
		return 0, err
	}
	t.leaves = append(t.leaves, leaf)
	return idx, nil
}

// Root returns the current root.
func (t *Tree) Root() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inc.Root()
}

// Count returns the number of leaves.
func (t *Tree) Count() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inc.Count()
}

// Leaf returns the leaf at index.
func (t *Tree) Leaf(index uint32) (types.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if uint64(index) >= uint64(len(t.leaves)) {
		return types.Hash{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(t.leaves))
	}
	return t.leaves[index], nil
}

// GenerateProof returns the inclusion proof for the leaf at index against
// the current root.
func (t *Tree) GenerateProof(index uint32) (Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.proof(index, uint64(len(t.leaves)))
}

// ProofAt returns the inclusion proof for the leaf at index against the root
// the tree had when it held count leaves.
func (t *Tree) ProofAt(index, count uint32) (Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if uint64(count) > uint64(len(t.leaves)) {
		return Proof{}, fmt.Errorf("%w: count %d > %d", ErrIndexOutOfRange, count, len(t.leaves))
	}
	return t.proof(index, uint64(count))
}

// proof builds the path of index over the first n leaves.
func (t *Tree) proof(index uint32, n uint64) (Proof, error) {
	if uint64(index) >= n {
		return Proof{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, n)
	}
	proof := Proof{Leaf: t.leaves[index], Index: index}

	// Rebuild the populated part of each layer; everything to the right of
	// it is an empty subtree.
	layer := make([]types.Hash, n)
	copy(layer, t.leaves[:n])
	pos := uint64(index)
	for level := 0; level < Depth; level++ {
		if len(layer)%2 != 0 {
			layer = append(layer, ZeroHashes[level])
		}
		proof.Path[level] = layer[pos^1]

		next := make([]types.Hash, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next[i/2] = hashPair(layer[i], layer[i+1])
		}
		layer = next
		pos >>= 1
	}
	return proof, nil
}
