// Package ism implements the legacy multisig interchain security module: a
// per-origin registry of validator sets and the verifier that accepts an
// inbound message once a threshold of those validators signed a checkpoint
// whose root includes the message.
package ism

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eth2030/interchain/checkpoint"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/merkle"
	"github.com/eth2030/interchain/message"
	"github.com/eth2030/interchain/metrics"
)

// ModuleType enumerates ISM kinds. Values follow the protocol's numbering.
type ModuleType uint8

const (
	Unused ModuleType = iota
	Routing
	Aggregation
	LegacyMultisig
	MerkleRootMultisig
	MessageIDMultisig
)

func (t ModuleType) String() string {
	switch t {
	case Unused:
		return "unused"
	case Routing:
		return "routing"
	case Aggregation:
		return "aggregation"
	case LegacyMultisig:
		return "legacy_multisig"
	case MerkleRootMultisig:
		return "merkle_root_multisig"
	case MessageIDMultisig:
		return "message_id_multisig"
	}
	return fmt.Sprintf("ModuleType(%d)", uint8(t))
}

// InterchainSecurityModule decides whether an inbound message may be
// delivered given relayer-supplied metadata.
type InterchainSecurityModule interface {
	ModuleType() ModuleType
	Verify(metadata []byte, msg *message.Message) (bool, error)
}

// Config tunes a MultisigISM.
type Config struct {
	// SignerCacheSize bounds the recovered-signer cache.
	SignerCacheSize int
	// VerifyWorkers bounds VerifyBatch concurrency; 0 means GOMAXPROCS.
	VerifyWorkers int
}

// DefaultConfig returns the default ISM configuration.
func DefaultConfig() Config {
	return Config{
		SignerCacheSize: crypto.DefaultSignerCacheSize,
	}
}

// MultisigISM verifies messages against the validator sets of a Registry.
type MultisigISM struct {
	registry *Registry
	signers  *crypto.SignerCache
	workers  int
	metrics  *metrics.Metrics
	log      *log.Logger
}

// NewMultisigISM creates a verifier backed by registry. A nil m disables
// metrics.
func NewMultisigISM(registry *Registry, config Config, m *metrics.Metrics) *MultisigISM {
	workers := config.VerifyWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &MultisigISM{
		registry: registry,
		signers:  crypto.NewSignerCache(config.SignerCacheSize),
		workers:  workers,
		metrics:  m,
		log:      log.Default().Module("ism"),
	}
}

// Registry returns the validator registry backing the module.
func (m *MultisigISM) Registry() *Registry { return m.registry }

// ModuleType implements InterchainSecurityModule.
func (m *MultisigISM) ModuleType() ModuleType { return LegacyMultisig }

// SignerCacheStats reports the recovered-signer cache statistics.
func (m *MultisigISM) SignerCacheStats() crypto.SignerCacheStats { return m.signers.Stats() }

// Verify decodes metadata and verifies msg against it. It returns true with
// a nil error only when the message is accepted.
func (m *MultisigISM) Verify(metadata []byte, msg *message.Message) (bool, error) {
	md, err := DecodeMetadata(metadata)
	if err != nil {
		m.observe(metrics.ReasonDecode, time.Now())
		return false, err
	}
	if err := m.VerifyMetadata(md, msg); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyMetadata checks the merkle proof first and the signatures second.
func (m *MultisigISM) VerifyMetadata(md *Metadata, msg *message.Message) error {
	start := time.Now()
	id := msg.ID()

	if root := merkle.BranchRoot(id, md.Proof, md.Index); root != md.Root {
		m.observe(metrics.ReasonMerkle, start)
		m.log.Debug("Rejected message", "id", id, "reason", "merkle", "have", root, "want", md.Root)
		return ErrMerkleMismatch
	}

	cp := checkpoint.Checkpoint{
		Mailbox: md.Mailbox,
		Domain:  msg.Origin,
		Root:    md.Root,
		Index:   md.Index,
	}
	if err := m.verifySignatures(cp.EthSignedMessageHash(), msg.Origin, md.Signatures); err != nil {
		reason := metrics.ReasonSignatures
		if errors.Is(err, ErrNoValidatorSet) {
			reason = metrics.ReasonNoSet
		}
		m.observe(reason, start)
		m.log.Debug("Rejected message", "id", id, "origin", msg.Origin, "err", err)
		return err
	}
	m.observe(metrics.ReasonOK, start)
	return nil
}

// verifySignatures requires the first threshold signatures to come from
// distinct validators of origin, in ascending address order. Signatures
// past the threshold are ignored.
func (m *MultisigISM) verifySignatures(digest types.Hash, origin uint32, sigs []crypto.CompactSignature) error {
	validators, threshold := m.registry.ValidatorsAndThreshold(origin)
	if threshold == 0 || len(validators) == 0 {
		return fmt.Errorf("%w: domain %d", ErrNoValidatorSet, origin)
	}
	if len(sigs) < int(threshold) {
		return fmt.Errorf("%w: %d signatures for threshold %d", ErrSignatureMismatch, len(sigs), threshold)
	}
	slices.SortFunc(validators, func(a, b types.Address) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})

	next := 0
	for i := 0; i < int(threshold); i++ {
		signer, err := m.signers.Recover(digest, sigs[i])
		if err != nil {
			return fmt.Errorf("%w: signature %d: %v", ErrSignatureMismatch, i, err)
		}
		for next < len(validators) && validators[next] != signer {
			next++
		}
		if next == len(validators) {
			return fmt.Errorf("%w: signature %d from %s is not an enrolled validator in order", ErrSignatureMismatch, i, signer)
		}
		next++
	}
	return nil
}

func (m *MultisigISM) observe(reason string, start time.Time) {
	if m.metrics != nil {
		m.metrics.ObserveVerify(reason, start)
	}
}

// BatchItem is one (metadata, message) pair for VerifyBatch.
type BatchItem struct {
	Metadata []byte
	Message  *message.Message
}

// VerifyBatch verifies items concurrently and returns the first failure,
// annotated with the item's position. Verification is read-only, so items
// may be checked in any order.
func (m *MultisigISM) VerifyBatch(ctx context.Context, items []BatchItem) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.workers)

	for i := range items {
		i, item := i, items[i]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := m.Verify(item.Metadata, item.Message); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
