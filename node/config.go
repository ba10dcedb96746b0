package node

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"github.com/eth2030/interchain/api"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/mailbox"
	"github.com/eth2030/interchain/message"
	"github.com/eth2030/interchain/metrics"
)

// Config holds all configuration for an interchain node.
type Config struct {
	// DataDir is the root directory for the message store. Empty keeps
	// everything in memory.
	DataDir string `yaml:"datadir"`

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat selects the log handler (text, json).
	LogFormat string `yaml:"log_format"`

	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace string `yaml:"metrics_namespace"`

	Mailbox    MailboxConfig        `yaml:"mailbox"`
	ISM        ISMConfig            `yaml:"ism"`
	API        api.Config           `yaml:"api"`
	Validators []ValidatorSetConfig `yaml:"validators"`
}

// MailboxConfig identifies the local mailbox. Hashes are 0x-prefixed hex.
type MailboxConfig struct {
	Domain      uint32 `yaml:"domain"`
	Address     string `yaml:"address"`
	Owner       string `yaml:"owner"`
	MaxBodySize int    `yaml:"max_body_size"`
}

// ISMConfig tunes the multisig verifier.
type ISMConfig struct {
	SignerCacheSize int `yaml:"signer_cache_size"`
	// VerifyWorkers bounds batch verification; 0 means GOMAXPROCS.
	VerifyWorkers int `yaml:"verify_workers"`
}

// ValidatorSetConfig seeds the validator set of one origin domain.
type ValidatorSetConfig struct {
	Domain     uint32   `yaml:"domain"`
	Threshold  uint8    `yaml:"threshold"`
	Validators []string `yaml:"validators"`
}

// DefaultConfig returns a Config with sensible defaults. The mailbox
// identity must still be filled in.
func DefaultConfig() Config {
	ismDefaults := ism.DefaultConfig()
	return Config{
		LogLevel:         "info",
		LogFormat:        "text",
		MetricsNamespace: metrics.DefaultNamespace,
		Mailbox: MailboxConfig{
			MaxBodySize: message.MaxBodySize,
		},
		ISM: ISMConfig{
			SignerCacheSize: ismDefaults.SignerCacheSize,
			VerifyWorkers:   ismDefaults.VerifyWorkers,
		},
		API: api.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	mb, err := c.MailboxConfig()
	if err != nil {
		return err
	}
	if err := mb.Validate(); err != nil {
		return err
	}
	if mb.Owner.IsZero() {
		return errors.New("config: mailbox owner must be set")
	}
	if c.ISM.SignerCacheSize <= 0 {
		return fmt.Errorf("config: invalid signer cache size: %d", c.ISM.SignerCacheSize)
	}
	if c.ISM.VerifyWorkers < 0 {
		return fmt.Errorf("config: invalid verify workers: %d", c.ISM.VerifyWorkers)
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	seen := make(map[uint32]bool)
	for _, vs := range c.Validators {
		if seen[vs.Domain] {
			return fmt.Errorf("config: duplicate validator set for domain %d", vs.Domain)
		}
		seen[vs.Domain] = true
		addrs, err := vs.Addresses()
		if err != nil {
			return err
		}
		if vs.Threshold == 0 || int(vs.Threshold) > len(addrs) {
			return fmt.Errorf("config: domain %d threshold %d out of range [1, %d]", vs.Domain, vs.Threshold, len(addrs))
		}
	}
	return nil
}

// MailboxConfig converts the mailbox section into a mailbox.Config.
func (c *Config) MailboxConfig() (mailbox.Config, error) {
	address, err := parseHash("mailbox address", c.Mailbox.Address)
	if err != nil {
		return mailbox.Config{}, err
	}
	owner, err := parseHash("mailbox owner", c.Mailbox.Owner)
	if err != nil {
		return mailbox.Config{}, err
	}
	return mailbox.Config{
		LocalDomain: c.Mailbox.Domain,
		Address:     address,
		Owner:       owner,
		MaxBodySize: c.Mailbox.MaxBodySize,
	}, nil
}

// ISMConfig converts the ism section into an ism.Config.
func (c *Config) ISMConfig() ism.Config {
	return ism.Config{
		SignerCacheSize: c.ISM.SignerCacheSize,
		VerifyWorkers:   c.ISM.VerifyWorkers,
	}
}

// Addresses parses the validator addresses.
func (vs ValidatorSetConfig) Addresses() ([]types.Address, error) {
	out := make([]types.Address, len(vs.Validators))
	for i, s := range vs.Validators {
		b, err := hexutil.Decode(s)
		if err != nil || len(b) != types.AddressLength {
			return nil, fmt.Errorf("config: domain %d: invalid validator address %q", vs.Domain, s)
		}
		out[i] = types.BytesToAddress(b)
	}
	return out, nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// parseHash decodes an optional 32-byte hex value. Empty means zero.
func parseHash(field, s string) (types.Hash, error) {
	if s == "" {
		return types.Hash{}, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("config: %s: %w", field, err)
	}
	if len(b) != types.HashLength {
		return types.Hash{}, fmt.Errorf("config: %s: want %d bytes, have %d", field, types.HashLength, len(b))
	}
	return types.BytesToHash(b), nil
}
