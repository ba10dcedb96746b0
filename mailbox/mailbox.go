// Package mailbox implements the messaging endpoint of a domain: it appends
// outbound messages to the incremental merkle tree validators checkpoint,
// and delivers inbound messages once an interchain security module accepts
// them.
package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/interchain/access"
	"github.com/eth2030/interchain/checkpoint"
	"github.com/eth2030/interchain/core/rawdb"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/merkle"
	"github.com/eth2030/interchain/message"
	"github.com/eth2030/interchain/metrics"
)

var (
	ErrAlreadyDelivered = errors.New("mailbox: delivered")
	ErrNoMessages       = errors.New("mailbox: no messages dispatched")
	ErrBadVersion       = errors.New("mailbox: !version")
	ErrWrongDestination = errors.New("mailbox: !destination")
	ErrModuleRejected   = errors.New("mailbox: !module")
	ErrUnknownRecipient = errors.New("mailbox: unknown recipient")
	ErrNoISM            = errors.New("mailbox: no interchain security module")
)

// Recipient receives delivered messages. Handle may dispatch new messages
// but must not call Process on the same mailbox.
type Recipient interface {
	Handle(origin uint32, sender types.Hash, body []byte) error
}

// SpecifiesISM is implemented by recipients that choose their own security
// module. A nil module falls back to the mailbox default.
type SpecifiesISM interface {
	InterchainSecurityModule() ism.InterchainSecurityModule
}

// Mailbox is the local endpoint of the messaging protocol. Safe for
// concurrent use.
type Mailbox struct {
	*access.Ownable
	*access.Pausable

	config  Config
	db      rawdb.Database
	metrics *metrics.Metrics
	log     *log.Logger

	// mu guards the tree, the default ISM and the recipient table.
	mu         sync.RWMutex
	tree       merkle.IncrementalTree
	defaultISM ism.InterchainSecurityModule
	recipients map[types.Hash]Recipient

	// procMu serialises Process so the delivered check and mark are atomic.
	procMu sync.Mutex

	dispatchFeed   event.Feed
	dispatchIDFeed event.Feed
	processFeed    event.Feed
	defaultISMFeed event.Feed
}

// New creates a mailbox, restoring the outbound tree from db. A nil m
// records metrics into a private registry.
func New(config Config, db rawdb.Database, m *metrics.Metrics) (*Mailbox, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	own := access.NewOwnable(config.Owner)
	mb := &Mailbox{
		Ownable:    own,
		Pausable:   access.NewPausable(own),
		config:     config,
		db:         db,
		metrics:    m,
		log:        log.Default().Module("mailbox").With("domain", config.LocalDomain),
		recipients: make(map[types.Hash]Recipient),
	}

	state, err := rawdb.ReadTree(db)
	switch {
	case errors.Is(err, rawdb.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("mailbox: read tree: %w", err)
	default:
		if err := mb.tree.UnmarshalBinary(state); err != nil {
			return nil, fmt.Errorf("mailbox: restore tree: %w", err)
		}
	}
	m.TreeCount.Set(float64(mb.tree.Count()))
	mb.log.Info("Mailbox opened", "address", config.Address, "count", mb.tree.Count(), "root", mb.tree.Root())
	return mb, nil
}

// LocalDomain returns the mailbox's domain.
func (m *Mailbox) LocalDomain() uint32 { return m.config.LocalDomain }

// Address returns the mailbox's identity.
func (m *Mailbox) Address() types.Hash { return m.config.Address }

// Dispatch appends a message from sender to the outbound tree and returns
// its id. On error nothing is inserted or persisted.
func (m *Mailbox) Dispatch(sender types.Hash, destination uint32, recipient types.Hash, body []byte) (types.Hash, error) {
	if err := m.WhenNotPaused(); err != nil {
		return types.Hash{}, err
	}
	if len(body) > m.config.MaxBodySize {
		return types.Hash{}, fmt.Errorf("%w: %d > %d", message.ErrMessageTooLarge, len(body), m.config.MaxBodySize)
	}

	m.mu.Lock()
	msg := &message.Message{
		Version:     message.Version,
		Nonce:       m.tree.Count(),
		Origin:      m.config.LocalDomain,
		Sender:      sender,
		Destination: destination,
		Recipient:   recipient,
		Body:        bytes.Clone(body),
	}
	encoded := msg.Encode()
	id := crypto.Keccak256Hash(encoded)

	next := m.tree
	if err := next.Insert(id); err != nil {
		m.mu.Unlock()
		return types.Hash{}, err
	}
	if err := m.persistDispatch(&next, msg.Nonce, id, encoded); err != nil {
		m.mu.Unlock()
		return types.Hash{}, err
	}
	m.tree = next
	count := next.Count()
	m.mu.Unlock()

	m.metrics.Dispatched.Inc()
	m.metrics.TreeCount.Set(float64(count))
	m.log.Debug("Dispatched message", "id", id, "nonce", msg.Nonce, "destination", destination)

	m.dispatchFeed.Send(DispatchEvent{Message: msg, Encoded: encoded})
	m.dispatchIDFeed.Send(DispatchIDEvent{ID: id})
	return id, nil
}

// persistDispatch writes the new tree state, the message and its nonce
// index in one batch.
func (m *Mailbox) persistDispatch(tree *merkle.IncrementalTree, nonce uint32, id types.Hash, encoded []byte) error {
	state, err := tree.MarshalBinary()
	if err != nil {
		return err
	}
	batch := m.db.NewBatch()
	if err := rawdb.WriteTree(batch, state); err != nil {
		return err
	}
	if err := rawdb.WriteMessage(batch, id, encoded); err != nil {
		return err
	}
	if err := rawdb.WriteMessageID(batch, nonce, id); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("mailbox: persist dispatch: %w", err)
	}
	return nil
}

// Count returns the number of dispatched messages.
func (m *Mailbox) Count() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Count()
}

// Root returns the current outbound tree root.
func (m *Mailbox) Root() types.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Root()
}

// LatestCheckpoint returns the current root and the index of the latest
// dispatched message.
func (m *Mailbox) LatestCheckpoint() (types.Hash, uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tree.Count() == 0 {
		return types.Hash{}, 0, ErrNoMessages
	}
	return m.tree.Root(), m.tree.Count() - 1, nil
}

// Checkpoint returns the latest checkpoint of this mailbox, ready to sign.
func (m *Mailbox) Checkpoint() (checkpoint.Checkpoint, error) {
	root, index, err := m.LatestCheckpoint()
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	return checkpoint.Checkpoint{
		Mailbox: m.config.Address,
		Domain:  m.config.LocalDomain,
		Root:    root,
		Index:   index,
	}, nil
}

// Message returns a dispatched message by id.
func (m *Mailbox) Message(id types.Hash) (*message.Message, error) {
	enc, err := rawdb.ReadMessage(m.db, id)
	if err != nil {
		return nil, err
	}
	return message.Decode(enc)
}

// MessageID returns the id of the message dispatched with nonce.
func (m *Mailbox) MessageID(nonce uint32) (types.Hash, error) {
	return rawdb.ReadMessageID(m.db, nonce)
}

// Delivered reports whether the inbound message id has been processed.
func (m *Mailbox) Delivered(id types.Hash) (bool, error) {
	return rawdb.HasDelivered(m.db, id)
}

// RegisterRecipient makes r reachable as recipient id.
func (m *Mailbox) RegisterRecipient(id types.Hash, r Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients[id] = r
}

// DefaultISM returns the module used for recipients that do not pick one.
func (m *Mailbox) DefaultISM() ism.InterchainSecurityModule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultISM
}

// SetDefaultISM replaces the default module. Owner only.
func (m *Mailbox) SetDefaultISM(caller types.Hash, module ism.InterchainSecurityModule) error {
	if err := m.OnlyOwner(caller); err != nil {
		return err
	}
	if module == nil {
		return ErrNoISM
	}
	m.mu.Lock()
	m.defaultISM = module
	m.mu.Unlock()

	m.log.Info("Default ISM set", "type", module.ModuleType())
	m.defaultISMFeed.Send(DefaultISMSetEvent{Module: module})
	return nil
}

// Process verifies an inbound message with the recipient's security module
// and hands it to the recipient. A message is delivered at most once.
func (m *Mailbox) Process(metadata, raw []byte) error {
	if err := m.WhenNotPaused(); err != nil {
		return err
	}
	msg, err := message.Decode(raw)
	if err != nil {
		return err
	}
	if msg.Version != message.Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, msg.Version)
	}
	if msg.Destination != m.config.LocalDomain {
		return fmt.Errorf("%w: %d", ErrWrongDestination, msg.Destination)
	}
	id := msg.ID()

	m.procMu.Lock()
	defer m.procMu.Unlock()

	delivered, err := rawdb.HasDelivered(m.db, id)
	if err != nil {
		return fmt.Errorf("mailbox: read delivered: %w", err)
	}
	if delivered {
		return ErrAlreadyDelivered
	}

	m.mu.RLock()
	recipient, ok := m.recipients[msg.Recipient]
	module := m.defaultISM
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.Recipient)
	}
	if s, ok := recipient.(SpecifiesISM); ok {
		if custom := s.InterchainSecurityModule(); custom != nil {
			module = custom
		}
	}
	if module == nil {
		return ErrNoISM
	}

	accepted, err := module.Verify(metadata, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModuleRejected, err)
	}
	if !accepted {
		return ErrModuleRejected
	}
	// The mark is durable before the recipient runs and cleared if it fails.
	if err := rawdb.WriteDelivered(m.db, id); err != nil {
		return fmt.Errorf("mailbox: mark delivered: %w", err)
	}
	if err := recipient.Handle(msg.Origin, msg.Sender, msg.Body); err != nil {
		if uerr := rawdb.DeleteDelivered(m.db, id); uerr != nil {
			m.log.Error("Failed to clear delivered mark", "id", id, "err", uerr)
		}
		return fmt.Errorf("mailbox: handle %s: %w", id, err)
	}

	m.metrics.Processed.Inc()
	m.log.Debug("Processed message", "id", id, "origin", msg.Origin, "recipient", msg.Recipient)
	m.processFeed.Send(ProcessEvent{
		ID:        id,
		Origin:    msg.Origin,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
	})
	return nil
}
