package ism

import (
	"encoding/binary"
	"fmt"

	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
	"github.com/eth2030/interchain/merkle"
)

// Metadata wire layout:
//
//	root(32) || index(4, BE) || mailbox(32) || proof(32*32) || signatures(64*n)
const (
	rootOffset       = 0
	indexOffset      = 32
	mailboxOffset    = 36
	proofOffset      = 68
	signaturesOffset = proofOffset + merkle.Depth*types.HashLength

	// MinMetadataLength is the size of metadata carrying no signatures.
	MinMetadataLength = signaturesOffset
)

// Metadata is the relayer-supplied evidence for one inbound message: the
// checkpoint the validators signed, the message's inclusion proof against
// that checkpoint's root, and the validators' signatures.
type Metadata struct {
	Root       types.Hash
	Index      uint32
	Mailbox    types.Hash
	Proof      [merkle.Depth]types.Hash
	Signatures []crypto.CompactSignature
}

// Encode returns the wire form of md.
func (md *Metadata) Encode() []byte {
	out := make([]byte, MinMetadataLength+len(md.Signatures)*crypto.CompactSignatureLength)
	copy(out[rootOffset:], md.Root[:])
	binary.BigEndian.PutUint32(out[indexOffset:], md.Index)
	copy(out[mailboxOffset:], md.Mailbox[:])
	for i, p := range md.Proof {
		copy(out[proofOffset+i*types.HashLength:], p[:])
	}
	for i, sig := range md.Signatures {
		copy(out[signaturesOffset+i*crypto.CompactSignatureLength:], sig[:])
	}
	return out
}

// DecodeMetadata parses the wire form. The signature region must be a whole
// number of 64-byte signatures.
func DecodeMetadata(b []byte) (*Metadata, error) {
	if len(b) < MinMetadataLength {
		return nil, fmt.Errorf("%w: metadata is %d bytes, need at least %d", ErrDecode, len(b), MinMetadataLength)
	}
	sigBytes := len(b) - signaturesOffset
	if sigBytes%crypto.CompactSignatureLength != 0 {
		return nil, fmt.Errorf("%w: signature region of %d bytes is not a multiple of %d", ErrDecode, sigBytes, crypto.CompactSignatureLength)
	}
	md := &Metadata{
		Index:      binary.BigEndian.Uint32(b[indexOffset:]),
		Signatures: make([]crypto.CompactSignature, sigBytes/crypto.CompactSignatureLength),
	}
	copy(md.Root[:], b[rootOffset:indexOffset])
	copy(md.Mailbox[:], b[mailboxOffset:proofOffset])
	for i := range md.Proof {
		copy(md.Proof[i][:], b[proofOffset+i*types.HashLength:])
	}
	for i := range md.Signatures {
		copy(md.Signatures[i][:], b[signaturesOffset+i*crypto.CompactSignatureLength:])
	}
	return md, nil
}
