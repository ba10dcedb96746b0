package access

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/interchain/core/types"
)

// PauseEvent is emitted on every pause state change.
type PauseEvent struct {
	Paused bool
}

// Pausable is an owner-controlled circuit breaker.
type Pausable struct {
	owner *Ownable

	mu     sync.RWMutex
	paused bool
	feed   event.Feed
}

// NewPausable creates an unpaused gate controlled by owner.
func NewPausable(owner *Ownable) *Pausable {
	return &Pausable{owner: owner}
}

// Paused reports whether the gate is closed.
func (p *Pausable) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// WhenNotPaused returns ErrPaused while the gate is closed.
func (p *Pausable) WhenNotPaused() error {
	if p.Paused() {
		return ErrPaused
	}
	return nil
}

// Pause closes the gate.
func (p *Pausable) Pause(caller types.Hash) error {
	return p.set(caller, true)
}

// Unpause reopens the gate.
func (p *Pausable) Unpause(caller types.Hash) error {
	return p.set(caller, false)
}

func (p *Pausable) set(caller types.Hash, paused bool) error {
	if err := p.owner.OnlyOwner(caller); err != nil {
		return err
	}
	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		if paused {
			return ErrAlreadyPaused
		}
		return ErrNotPaused
	}
	p.paused = paused
	p.mu.Unlock()

	p.feed.Send(PauseEvent{Paused: paused})
	return nil
}

// SubscribePause registers ch for pause state changes.
func (p *Pausable) SubscribePause(ch chan<- PauseEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}
