// Package prover keeps a full copy of the outbound merkle tree so relayers
// can obtain inclusion proofs for dispatched messages.
package prover

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/eth2030/interchain/core/rawdb"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/mailbox"
	"github.com/eth2030/interchain/merkle"
)

var (
	ErrEmpty = errors.New("prover: no messages indexed")
	ErrGap   = errors.New("prover: gap in message index")
)

// Prover mirrors the mailbox tree from the dispatched-message index.
type Prover struct {
	db  rawdb.Database
	log *log.Logger

	mu   sync.RWMutex
	tree *merkle.Tree
}

// New returns an empty prover reading from db. Call Sync to catch up.
func New(db rawdb.Database) *Prover {
	return &Prover{
		db:   db,
		log:  log.Default().Module("prover"),
		tree: merkle.NewTree(),
	}
}

// Sync appends every indexed message id the prover has not seen yet and
// returns how many were added.
func (p *Prover) Sync() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	err := rawdb.IterateMessageIDs(p.db, p.tree.Count(), func(nonce uint32, id types.Hash) error {
		if want := p.tree.Count(); nonce != want {
			return fmt.Errorf("%w: have nonce %d, want %d", ErrGap, nonce, want)
		}
		if _, err := p.tree.Push(id); err != nil {
			return err
		}
		added++
		return nil
	})
	if added > 0 {
		p.log.Debug("Synced message index", "added", added, "count", p.tree.Count(), "root", p.tree.Root())
	}
	return added, err
}

// Run syncs once, then again after every dispatch on mb, until ctx is
// cancelled or the subscription fails.
func (p *Prover) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	ch := make(chan mailbox.DispatchIDEvent, 64)
	sub := mb.SubscribeDispatchID(ch)
	defer sub.Unsubscribe()

	if _, err := p.Sync(); err != nil {
		return err
	}
	for {
		select {
		case <-ch:
			if _, err := p.Sync(); err != nil {
				return err
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Count returns the number of indexed leaves.
func (p *Prover) Count() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Count()
}

// Root returns the root over all indexed leaves.
func (p *Prover) Root() types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Root()
}

// Proof returns the inclusion proof of the leaf at index against the
// checkpoint taken right after it was dispatched, which is the checkpoint a
// multisig ISM verifies it against.
func (p *Prover) Proof(index uint32) (merkle.Proof, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index == math.MaxUint32 {
		return merkle.Proof{}, fmt.Errorf("%w: %d", merkle.ErrIndexOutOfRange, index)
	}
	return p.tree.ProofAt(index, index+1)
}

// ProofAt returns the inclusion proof of the leaf at index against the root
// of the first count leaves.
func (p *Prover) ProofAt(index, count uint32) (merkle.Proof, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.ProofAt(index, count)
}

// LatestProof returns the proof of the most recently indexed leaf.
func (p *Prover) LatestProof() (merkle.Proof, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := p.tree.Count()
	if count == 0 {
		return merkle.Proof{}, ErrEmpty
	}
	return p.tree.GenerateProof(count - 1)
}
