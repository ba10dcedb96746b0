// Package checkpoint derives the digests validators sign over a snapshot of
// the outbound merkle tree.
//
// A checkpoint is bound to a mailbox on a domain through the domain hash,
// which prevents a signature for one deployment from being replayed against
// another.
package checkpoint

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
)

// domainSeparator is appended to every domain hash preimage.
var domainSeparator = []byte("HYPERLANE")

// ethSignedPrefix is the EIP-191 personal-sign prefix for a 32-byte payload.
var ethSignedPrefix = []byte("\x19Ethereum Signed Message:\n32")

// Checkpoint is a signed statement about the mailbox tree: "at index, the
// tree of mailbox on domain had root".
type Checkpoint struct {
	Mailbox types.Hash
	Domain  uint32
	Root    types.Hash
	Index   uint32
}

// DomainHash returns keccak256(domain_be32 || mailbox || "HYPERLANE").
func DomainHash(mailbox types.Hash, domain uint32) types.Hash {
	var d [4]byte
	binary.BigEndian.PutUint32(d[:], domain)
	return crypto.Keccak256Hash(d[:], mailbox[:], domainSeparator)
}

// DomainHash returns the domain hash of the checkpoint's mailbox.
func (c Checkpoint) DomainHash() types.Hash {
	return DomainHash(c.Mailbox, c.Domain)
}

// SigningHash returns keccak256(domain_hash || root || index_be32).
func (c Checkpoint) SigningHash() types.Hash {
	dh := c.DomainHash()
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], c.Index)
	return crypto.Keccak256Hash(dh[:], c.Root[:], idx[:])
}

// EthSignedMessageHash wraps the signing hash in the EIP-191 envelope. This
// is the digest validator signatures are produced and recovered over.
func (c Checkpoint) EthSignedMessageHash() types.Hash {
	sh := c.SigningHash()
	return crypto.Keccak256Hash(ethSignedPrefix, sh[:])
}

// Sign produces a validator's compact signature over the checkpoint.
func Sign(c Checkpoint, key *ecdsa.PrivateKey) (crypto.CompactSignature, error) {
	return crypto.SignCompact(c.EthSignedMessageHash(), key)
}

// String implements fmt.Stringer.
func (c Checkpoint) String() string {
	return fmt.Sprintf("Checkpoint{mailbox=%s domain=%d root=%s index=%d}", c.Mailbox, c.Domain, c.Root, c.Index)
}
