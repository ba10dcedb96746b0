// Package access provides the ownership and pause gates shared by the
// validator registry and the mailbox.
package access

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/interchain/core/types"
)

var (
	ErrNotOwner      = errors.New("access: caller is not the owner")
	ErrZeroOwner     = errors.New("access: new owner is the zero identity")
	ErrPaused        = errors.New("access: contract is paused")
	ErrAlreadyPaused = errors.New("access: contract is already paused")
	ErrNotPaused     = errors.New("access: contract is not paused")
)

// OwnershipTransferred is emitted whenever the owner changes. A zero hash
// stands for "no owner".
type OwnershipTransferred struct {
	Previous types.Hash
	New      types.Hash
}

// Ownable tracks an optional owner identity. The zero hash means the
// component has no owner, in which case every owner-gated call fails.
// Renouncing is terminal: nobody can claim an unowned component.
type Ownable struct {
	mu    sync.RWMutex
	owner types.Hash
	feed  event.Feed
}

// NewOwnable creates an Ownable owned by owner (zero for none).
func NewOwnable(owner types.Hash) *Ownable {
	return &Ownable{owner: owner}
}

// Owner returns the current owner and whether one is set.
func (o *Ownable) Owner() (types.Hash, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner, !o.owner.IsZero()
}

// OnlyOwner returns ErrNotOwner unless caller is the current owner.
func (o *Ownable) OnlyOwner(caller types.Hash) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.onlyOwner(caller)
}

func (o *Ownable) onlyOwner(caller types.Hash) error {
	if o.owner.IsZero() || caller != o.owner {
		return ErrNotOwner
	}
	return nil
}

// TransferOwnership hands the component to newOwner.
func (o *Ownable) TransferOwnership(caller, newOwner types.Hash) error {
	if newOwner.IsZero() {
		return ErrZeroOwner
	}
	return o.setOwner(caller, newOwner)
}

// RenounceOwnership leaves the component without an owner, permanently.
func (o *Ownable) RenounceOwnership(caller types.Hash) error {
	return o.setOwner(caller, types.Hash{})
}

func (o *Ownable) setOwner(caller, next types.Hash) error {
	o.mu.Lock()
	if err := o.onlyOwner(caller); err != nil {
		o.mu.Unlock()
		return err
	}
	prev := o.owner
	o.owner = next
	o.mu.Unlock()

	o.feed.Send(OwnershipTransferred{Previous: prev, New: next})
	return nil
}

// SubscribeOwnership registers ch for ownership changes. Sends block until
// the subscriber receives, so ch should be buffered.
func (o *Ownable) SubscribeOwnership(ch chan<- OwnershipTransferred) event.Subscription {
	return o.feed.Subscribe(ch)
}
