package crypto

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/eth2030/interchain/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrHashLength is returned when a digest is not exactly 32 bytes.
var ErrHashLength = errors.New("crypto: hash must be 32 bytes")

// GenerateKey generates a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return gethcrypto.GenerateKey()
}

// HexToECDSA parses a hex-encoded secp256k1 private key. A leading "0x" is
// accepted.
func HexToECDSA(key string) (*ecdsa.PrivateKey, error) {
	return gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X"))
}

// Sign calculates a recoverable ECDSA signature (65 bytes [R || S || V])
// over a 32-byte hash. V is the raw recovery id (0 or 1) and S is always in
// the lower half of the curve order.
func Sign(hash []byte, prv *ecdsa.PrivateKey) ([]byte, error) {
	if len(hash) != 32 {
		return nil, ErrHashLength
	}
	return gethcrypto.Sign(hash, prv)
}

// SigToPub recovers the public key from a hash and a 65-byte signature.
func SigToPub(hash, sig []byte) (*ecdsa.PublicKey, error) {
	if len(hash) != 32 {
		return nil, ErrHashLength
	}
	return gethcrypto.SigToPub(hash, sig)
}

// PubkeyToAddress derives the 20-byte address from a public key:
// Keccak256(pubkey[1:])[12:].
func PubkeyToAddress(p ecdsa.PublicKey) types.Address {
	return types.Address(gethcrypto.PubkeyToAddress(p))
}
