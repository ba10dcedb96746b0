// Package message implements the canonical byte encoding of interchain
// messages. The encoding is fixed by the wire protocol: message ids computed
// here must match every other implementation byte for byte.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
)

const (
	// Version is the message format version produced by the local mailbox.
	Version uint8 = 0

	// HeaderLength is the size of the fixed header preceding the body:
	// version(1) nonce(4) origin(4) sender(32) destination(4) recipient(32).
	HeaderLength = 1 + 4 + 4 + types.HashLength + 4 + types.HashLength

	// MaxBodySize is the largest body the mailbox accepts for dispatch.
	MaxBodySize = 2048
)

// Header field offsets.
const (
	versionOffset     = 0
	nonceOffset       = 1
	originOffset      = 5
	senderOffset      = 9
	destinationOffset = 41
	recipientOffset   = 45
	bodyOffset        = HeaderLength
)

var (
	ErrDecode          = errors.New("message: encoding shorter than header")
	ErrMessageTooLarge = errors.New("message: msg too long")
)

// Message is an interchain message. Values should be treated as immutable
// once constructed: the id commits to every field.
type Message struct {
	Version     uint8
	Nonce       uint32
	Origin      uint32
	Sender      types.Hash
	Destination uint32
	Recipient   types.Hash
	Body        []byte
}

// Encode returns the canonical encoding of m.
func (m *Message) Encode() []byte {
	out := make([]byte, HeaderLength+len(m.Body))
	out[versionOffset] = m.Version
	binary.BigEndian.PutUint32(out[nonceOffset:], m.Nonce)
	binary.BigEndian.PutUint32(out[originOffset:], m.Origin)
	copy(out[senderOffset:], m.Sender[:])
	binary.BigEndian.PutUint32(out[destinationOffset:], m.Destination)
	copy(out[recipientOffset:], m.Recipient[:])
	copy(out[bodyOffset:], m.Body)
	return out
}

// ID returns the message id, keccak256 of the canonical encoding.
func (m *Message) ID() types.Hash {
	return crypto.Keccak256Hash(m.Encode())
}

// Decode parses a canonical encoding. Everything after the header is the
// body; the returned message does not alias b. An empty body decodes as nil.
func Decode(b []byte) (*Message, error) {
	if len(b) < HeaderLength {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrDecode, len(b), HeaderLength)
	}
	m := &Message{
		Version:     b[versionOffset],
		Nonce:       binary.BigEndian.Uint32(b[nonceOffset:]),
		Origin:      binary.BigEndian.Uint32(b[originOffset:]),
		Destination: binary.BigEndian.Uint32(b[destinationOffset:]),
		Body:        append([]byte(nil), b[bodyOffset:]...),
	}
	copy(m.Sender[:], b[senderOffset:destinationOffset])
	copy(m.Recipient[:], b[recipientOffset:bodyOffset])
	return m, nil
}

// CheckBodySize returns ErrMessageTooLarge when body exceeds MaxBodySize.
func CheckBodySize(body []byte) error {
	if len(body) > MaxBodySize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(body), MaxBodySize)
	}
	return nil
}

// String implements fmt.Stringer.
func (m *Message) String() string {
	return fmt.Sprintf("Message{v=%d nonce=%d %d->%d sender=%s recipient=%s body=%dB}",
		m.Version, m.Nonce, m.Origin, m.Destination, m.Sender, m.Recipient, len(m.Body))
}
