// EIP-2098 compact signatures.
//
// Validators sign checkpoint digests with a standard 65-byte recoverable
// ECDSA signature; on the wire the signature travels in the 64-byte compact
// form:
//
//	|    32 bytes    ||            32 bytes             |
//	[ 256-bit r value ][ 1-bit y parity ][ 255-bit s value ]
//
// Low-S normalisation guarantees the top bit of s is always free to carry
// the y parity.
package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/eth2030/interchain/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// CompactSignatureLength is the size of an EIP-2098 signature.
const CompactSignatureLength = 64

// CompactSignature is an EIP-2098 packed signature: r || (yParity << 255 | s).
type CompactSignature [CompactSignatureLength]byte

var (
	ErrSignatureLength    = errors.New("crypto: invalid signature length")
	ErrInvalidRecoveryID  = errors.New("crypto: recovery id must be 0, 1, 27 or 28")
	ErrMalleableSignature = errors.New("crypto: s is in upper half of curve order")
	ErrInvalidSignature   = errors.New("crypto: invalid signature values")
	ErrRecoveryFailed     = errors.New("crypto: public key recovery failed")
)

var (
	yParityBit = new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	sMask      = new(uint256.Int).Sub(yParityBit, uint256.NewInt(1))
)

// ToCompact packs a 65-byte [R || S || V] signature into compact form.
// V may be a raw recovery id (0/1) or the legacy Ethereum encoding (27/28).
func ToCompact(sig []byte) (CompactSignature, error) {
	var cs CompactSignature
	if len(sig) != 65 {
		return cs, ErrSignatureLength
	}
	v := sig[64]
	if v == 27 || v == 28 {
		v -= 27
	}
	if v > 1 {
		return cs, ErrInvalidRecoveryID
	}
	ys := new(uint256.Int).SetBytes32(sig[32:64])
	if ys.Cmp(yParityBit) >= 0 {
		return cs, ErrMalleableSignature
	}
	if v == 1 {
		ys.Or(ys, yParityBit)
	}
	copy(cs[:32], sig[:32])
	packed := ys.Bytes32()
	copy(cs[32:], packed[:])
	return cs, nil
}

// BytesToCompactSignature copies a 64-byte slice into a CompactSignature.
func BytesToCompactSignature(b []byte) (CompactSignature, error) {
	var cs CompactSignature
	if len(b) != CompactSignatureLength {
		return cs, ErrSignatureLength
	}
	copy(cs[:], b)
	return cs, nil
}

// Bytes returns the 64-byte wire form.
func (cs CompactSignature) Bytes() []byte { return cs[:] }

// YParity returns the recovery bit carried in the top bit of the second word.
func (cs CompactSignature) YParity() byte {
	return cs[32] >> 7
}

// Expand unpacks the signature into [R || S || V] with V in {0, 1}.
func (cs CompactSignature) Expand() []byte {
	ys := new(uint256.Int).SetBytes32(cs[32:])
	s := new(uint256.Int).And(ys, sMask)

	sig := make([]byte, 65)
	copy(sig[:32], cs[:32])
	sb := s.Bytes32()
	copy(sig[32:64], sb[:])
	sig[64] = cs.YParity()
	return sig
}

// String implements fmt.Stringer.
func (cs CompactSignature) String() string { return fmt.Sprintf("0x%x", cs[:]) }

// SignCompact signs a 32-byte digest and returns the compact encoding.
func SignCompact(digest types.Hash, prv *ecdsa.PrivateKey) (CompactSignature, error) {
	sig, err := Sign(digest[:], prv)
	if err != nil {
		return CompactSignature{}, err
	}
	return ToCompact(sig)
}

// RecoverAddress recovers the address that produced cs over digest. High-S
// and out-of-range r/s values are rejected before recovery is attempted.
func RecoverAddress(digest types.Hash, cs CompactSignature) (types.Address, error) {
	sig := cs.Expand()
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !gethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return types.Address{}, ErrInvalidSignature
	}
	pub, err := SigToPub(digest[:], sig)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return PubkeyToAddress(*pub), nil
}
