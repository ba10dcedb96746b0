package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/eth2030/interchain/checkpoint"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/merkle"
	"github.com/eth2030/interchain/message"
)

const testKey = "2ef987da35e5b389bb47cc4ec024ce0c37e5defd00de35fe61db6f50d1a858a1"

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp(&out, &errOut)
	err := app.Run(append([]string{"interchain"}, args...))
	return out.String(), err
}

func TestIDCommand(t *testing.T) {
	sender, recipient := types.RepeatHash(0xaa), types.RepeatHash(0xbb)
	out, err := runApp(t, "id",
		"--nonce", "3",
		"--origin", "1718969708",
		"--sender", sender.Hex(),
		"--destination", "17965884",
		"--recipient", recipient.Hex(),
		"--body", "0x0a0a0a",
	)
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	want := &message.Message{
		Version:     message.Version,
		Nonce:       3,
		Origin:      0x6675656c,
		Sender:      sender,
		Destination: 0x112233c,
		Recipient:   recipient,
		Body:        []byte{10, 10, 10},
	}
	if !strings.Contains(out, want.ID().Hex()) {
		t.Fatalf("output missing id %s:\n%s", want.ID(), out)
	}
	if !strings.Contains(out, hexutil.Encode(want.Encode())) {
		t.Fatalf("output missing encoding:\n%s", out)
	}
}

func TestIDCommandErrors(t *testing.T) {
	base := []string{"id", "--origin", "1", "--destination", "2", "--recipient", types.RepeatHash(1).Hex()}
	if _, err := runApp(t, append(base, "--sender", "0x1234")...); err == nil {
		t.Error("short sender accepted")
	}
	big := hexutil.Encode(make([]byte, message.MaxBodySize+1))
	if _, err := runApp(t, append(base, "--sender", types.RepeatHash(2).Hex(), "--body", big)...); err == nil {
		t.Error("oversized body accepted")
	}
	if _, err := runApp(t, "id", "--origin", "1"); err == nil {
		t.Error("missing required flags accepted")
	}
	sender := types.RepeatHash(2).Hex()
	for _, flag := range []string{"--nonce", "--origin", "--destination"} {
		args := append([]string{"id", "--sender", sender, "--recipient", types.RepeatHash(1).Hex(),
			"--origin", "1", "--destination", "2"}, flag, "4294967297")
		if _, err := runApp(t, args...); err == nil || !strings.Contains(err.Error(), flag[2:]) {
			t.Errorf("%s 2^32+1: got %v, want range error naming the flag", flag, err)
		}
	}
}

func TestDigestCommand(t *testing.T) {
	cp := checkpoint.Checkpoint{
		Mailbox: types.RepeatHash(0x0a),
		Domain:  0x6675656c,
		Root:    types.RepeatHash(0x0c),
		Index:   7,
	}
	out, err := runApp(t, "digest",
		"--mailbox", cp.Mailbox.Hex(),
		"--domain", "1718969708",
		"--root", cp.Root.Hex(),
		"--index", "7",
	)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range []types.Hash{cp.DomainHash(), cp.SigningHash(), cp.EthSignedMessageHash()} {
		if !strings.Contains(out, h.Hex()) {
			t.Fatalf("output missing %s:\n%s", h, out)
		}
	}

	// Values above 2^32-1 must not wrap onto another domain or index.
	for _, tt := range []struct{ domain, index string }{
		{"4294967297", "7"},
		{"1", "4294967296"},
	} {
		_, err := runApp(t, "digest",
			"--mailbox", cp.Mailbox.Hex(),
			"--domain", tt.domain,
			"--root", cp.Root.Hex(),
			"--index", tt.index,
		)
		if err == nil {
			t.Fatalf("domain %s index %s: accepted", tt.domain, tt.index)
		}
	}
}

// TestSignAndVerify signs a one-message checkpoint with the sign command and
// feeds the result to the verify command.
func TestSignAndVerify(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatal(err)
	}
	validator := crypto.PubkeyToAddress(key.PublicKey)

	msg := &message.Message{
		Version:     message.Version,
		Origin:      0x6675656c,
		Sender:      types.RepeatHash(0xaa),
		Destination: 0x112233c,
		Recipient:   types.RepeatHash(0xbb),
		Body:        []byte("hello"),
	}
	tree := merkle.NewTree()
	tree.Push(msg.ID())
	proof, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatal(err)
	}
	mailbox := types.RepeatHash(0x0a)
	cp := checkpoint.Checkpoint{Mailbox: mailbox, Domain: msg.Origin, Root: tree.Root(), Index: 0}

	out, err := runApp(t, "sign",
		"--key", "0x"+testKey,
		"--mailbox", mailbox.Hex(),
		"--domain", "1718969708",
		"--root", cp.Root.Hex(),
		"--index", "0",
	)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	want, _ := checkpoint.Sign(cp, key)
	if !strings.Contains(out, want.String()) || !strings.Contains(out, validator.Hex()) {
		t.Fatalf("sign output:\n%s", out)
	}

	md := &ism.Metadata{
		Root:       cp.Root,
		Index:      0,
		Mailbox:    mailbox,
		Proof:      proof.Path,
		Signatures: []crypto.CompactSignature{want},
	}
	args := []string{"verify",
		"--validators", validator.Hex(),
		"--threshold", "1",
		"--message", hexutil.Encode(msg.Encode()),
	}
	out, err = runApp(t, append(args, "--metadata", hexutil.Encode(md.Encode()))...)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("verify output:\n%s", out)
	}

	md.Signatures = nil
	if _, err := runApp(t, append(args, "--metadata", hexutil.Encode(md.Encode()))...); err == nil {
		t.Fatal("verify accepted metadata without signatures")
	}
}

func TestRunExitCodes(t *testing.T) {
	if code := run([]string{"digest"}); code != 1 {
		t.Fatalf("missing flags: exit %d, want 1", code)
	}
	if code := run([]string{"--version"}); code != 0 {
		t.Fatalf("--version: exit %d, want 0", code)
	}
}
