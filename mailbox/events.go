package mailbox

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/message"
)

// DispatchEvent carries every dispatched message in full. Encoded is the
// canonical encoding the id was computed from; subscribers must not modify it.
type DispatchEvent struct {
	Message *message.Message
	Encoded []byte
}

// DispatchIDEvent carries the id of every dispatched message.
type DispatchIDEvent struct {
	ID types.Hash
}

// ProcessEvent is emitted when an inbound message has been delivered.
type ProcessEvent struct {
	ID        types.Hash
	Origin    uint32
	Sender    types.Hash
	Recipient types.Hash
}

// DefaultISMSetEvent is emitted when the owner replaces the default ISM.
type DefaultISMSetEvent struct {
	Module ism.InterchainSecurityModule
}

// SubscribeDispatch registers ch for dispatched messages. Events are sent
// synchronously after the dispatch is persisted, so ch should be buffered.
func (m *Mailbox) SubscribeDispatch(ch chan<- DispatchEvent) event.Subscription {
	return m.dispatchFeed.Subscribe(ch)
}

// SubscribeDispatchID registers ch for dispatched message ids.
func (m *Mailbox) SubscribeDispatchID(ch chan<- DispatchIDEvent) event.Subscription {
	return m.dispatchIDFeed.Subscribe(ch)
}

// SubscribeProcess registers ch for delivered messages.
func (m *Mailbox) SubscribeProcess(ch chan<- ProcessEvent) event.Subscription {
	return m.processFeed.Subscribe(ch)
}

// SubscribeDefaultISM registers ch for default ISM changes.
func (m *Mailbox) SubscribeDefaultISM(ch chan<- DefaultISMSetEvent) event.Subscription {
	return m.defaultISMFeed.Subscribe(ch)
}
