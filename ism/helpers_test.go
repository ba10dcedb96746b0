package ism

import (
	"crypto/ecdsa"
	"slices"
	"testing"

	"github.com/eth2030/interchain/checkpoint"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
)

const (
	testLocalDomain  uint32 = 0x6675656c
	testRemoteDomain uint32 = 0x7775656c
)

var (
	testOwner   = types.RepeatHash(0x01)
	testMailbox = types.RepeatHash(0x0a)
	testKeys    = []string{
		"2ef987da35e5b389bb47cc4ec024ce0c37e5defd00de35fe61db6f50d1a858a1",
		"411f401057d09d1d65d898ff48f775b0568e8a4cd1212e894b8b4c8820c75c3e",
	}
)

type testValidator struct {
	key  *ecdsa.PrivateKey
	addr types.Address
}

// testValidators parses the fixed keys and returns them sorted by address,
// which is the order signatures must be supplied in.
func testValidators(t *testing.T, extra int) []testValidator {
	t.Helper()
	var vs []testValidator
	for _, k := range testKeys {
		key, err := crypto.HexToECDSA(k)
		if err != nil {
			t.Fatalf("parse key: %v", err)
		}
		vs = append(vs, testValidator{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)})
	}
	for i := 0; i < extra; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		vs = append(vs, testValidator{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)})
	}
	slices.SortFunc(vs, func(a, b testValidator) int {
		if a.addr.Less(b.addr) {
			return -1
		}
		if b.addr.Less(a.addr) {
			return 1
		}
		return 0
	})
	return vs
}

func addresses(vs []testValidator) []types.Address {
	out := make([]types.Address, len(vs))
	for i, v := range vs {
		out[i] = v.addr
	}
	return out
}

func signAll(t *testing.T, cp checkpoint.Checkpoint, vs []testValidator) []crypto.CompactSignature {
	t.Helper()
	sigs := make([]crypto.CompactSignature, len(vs))
	for i, v := range vs {
		sig, err := checkpoint.Sign(cp, v.key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		sigs[i] = sig
	}
	return sigs
}
