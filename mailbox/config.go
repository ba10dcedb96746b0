package mailbox

import (
	"errors"
	"fmt"

	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/message"
)

// Config controls a Mailbox.
type Config struct {
	// LocalDomain is the domain messages are dispatched from and delivered to.
	LocalDomain uint32

	// Address is the mailbox's 32-byte identity. Checkpoints commit to it.
	Address types.Hash

	// Owner may pause the mailbox and set its default ISM. Zero means unowned.
	Owner types.Hash

	// MaxBodySize bounds dispatched message bodies.
	MaxBodySize int
}

// DefaultConfig returns a Config with the protocol's body limit. Domain,
// address and owner have no sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: message.MaxBodySize,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Address.IsZero() {
		return errors.New("config: mailbox address must be set")
	}
	if c.MaxBodySize <= 0 || c.MaxBodySize > message.MaxBodySize {
		return fmt.Errorf("config: max body size must be in [1, %d], got %d", message.MaxBodySize, c.MaxBodySize)
	}
	return nil
}
