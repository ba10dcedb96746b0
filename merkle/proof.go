package merkle

import (
	"encoding/binary"
	"fmt"

	"github.com/eth2030/interchain/core/types"
)

// EncodedProofLength is the size of a marshaled Proof.
const EncodedProofLength = 4 + Depth*types.HashLength

// Proof is an inclusion proof for Leaf at position Index.
type Proof struct {
	Leaf  types.Hash
	Index uint32
	Path  [Depth]types.Hash
}

// Root returns the root implied by the proof.
func (p *Proof) Root() types.Hash {
	return BranchRoot(p.Leaf, p.Path, p.Index)
}

// Verify reports whether the proof leads to root.
func (p *Proof) Verify(root types.Hash) bool {
	return p.Root() == root
}

// MarshalBinary encodes index (big-endian u32) followed by the path. The
// leaf is not part of the wire form; the verifier recomputes it from the
// message.
func (p *Proof) MarshalBinary() ([]byte, error) {
	out := make([]byte, EncodedProofLength)
	binary.BigEndian.PutUint32(out, p.Index)
	for i := range p.Path {
		copy(out[4+i*types.HashLength:], p.Path[i][:])
	}
	return out, nil
}

// UnmarshalBinary decodes index and path. Leaf is left untouched.
func (p *Proof) UnmarshalBinary(b []byte) error {
	if len(b) != EncodedProofLength {
		return fmt.Errorf("%w: proof is %d bytes, want %d", ErrInvalidEncoding, len(b), EncodedProofLength)
	}
	p.Index = binary.BigEndian.Uint32(b)
	for i := range p.Path {
		copy(p.Path[i][:], b[4+i*types.HashLength:])
	}
	return nil
}
