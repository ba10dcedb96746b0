package ism

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/interchain/access"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/log"
)

// RegistryEventKind identifies a validator-set change.
type RegistryEventKind uint8

const (
	ValidatorEnrolled RegistryEventKind = iota
	ValidatorUnenrolled
	ThresholdSet
)

func (k RegistryEventKind) String() string {
	switch k {
	case ValidatorEnrolled:
		return "enrolled"
	case ValidatorUnenrolled:
		return "unenrolled"
	case ThresholdSet:
		return "threshold"
	}
	return fmt.Sprintf("RegistryEventKind(%d)", uint8(k))
}

// RegistryEvent is emitted for every successful registry mutation.
// ValidatorCount is the size of the domain's set after the change.
type RegistryEvent struct {
	Kind           RegistryEventKind
	Domain         uint32
	Validator      types.Address
	Threshold      uint8
	ValidatorCount int
}

type validatorSet struct {
	validators []types.Address
	threshold  uint8
}

func (s *validatorSet) indexOf(v types.Address) int {
	for i, have := range s.validators {
		if have == v {
			return i
		}
	}
	return -1
}

// Registry holds the validator set and signature threshold of every origin
// domain. Mutators are owner-gated and refused while paused. Safe for
// concurrent use.
type Registry struct {
	*access.Ownable
	*access.Pausable

	mu   sync.RWMutex
	sets map[uint32]*validatorSet
	feed event.Feed
	log  *log.Logger
}

// NewRegistry creates an empty registry owned by owner.
func NewRegistry(owner types.Hash) *Registry {
	own := access.NewOwnable(owner)
	return &Registry{
		Ownable:  own,
		Pausable: access.NewPausable(own),
		sets:     make(map[uint32]*validatorSet),
		log:      log.Default().Module("ism"),
	}
}

// SubscribeEvents registers ch for registry changes.
func (r *Registry) SubscribeEvents(ch chan<- RegistryEvent) event.Subscription {
	return r.feed.Subscribe(ch)
}

func (r *Registry) authorize(caller types.Hash) error {
	if err := r.OnlyOwner(caller); err != nil {
		return err
	}
	return r.WhenNotPaused()
}

func (r *Registry) set(domain uint32) *validatorSet {
	s, ok := r.sets[domain]
	if !ok {
		s = new(validatorSet)
		r.sets[domain] = s
	}
	return s
}

func (r *Registry) emit(events []RegistryEvent) {
	for _, ev := range events {
		r.feed.Send(ev)
	}
}

// Enroll adds validator to domain's set.
func (r *Registry) Enroll(caller types.Hash, domain uint32, validator types.Address) error {
	return r.EnrollMany(caller, []uint32{domain}, [][]types.Address{{validator}})
}

// EnrollMany enrolls validators[i] on domains[i] for every i. The whole call
// is validated before anything changes: either every validator is enrolled
// or none is.
func (r *Registry) EnrollMany(caller types.Hash, domains []uint32, validators [][]types.Address) error {
	if err := r.authorize(caller); err != nil {
		return err
	}
	if len(domains) != len(validators) {
		return ErrLengthMismatch
	}

	r.mu.Lock()
	pending := make(map[uint32]map[types.Address]struct{})
	for i, domain := range domains {
		seen, ok := pending[domain]
		if !ok {
			seen = make(map[types.Address]struct{})
			pending[domain] = seen
		}
		for _, v := range validators[i] {
			if v.IsZero() {
				r.mu.Unlock()
				return ErrZeroAddress
			}
			if _, dup := seen[v]; dup {
				r.mu.Unlock()
				return fmt.Errorf("%w: %s on domain %d", ErrAlreadyEnrolled, v, domain)
			}
			if s, ok := r.sets[domain]; ok && s.indexOf(v) >= 0 {
				r.mu.Unlock()
				return fmt.Errorf("%w: %s on domain %d", ErrAlreadyEnrolled, v, domain)
			}
			seen[v] = struct{}{}
		}
	}

	var events []RegistryEvent
	for i, domain := range domains {
		s := r.set(domain)
		for _, v := range validators[i] {
			s.validators = append(s.validators, v)
			events = append(events, RegistryEvent{
				Kind:           ValidatorEnrolled,
				Domain:         domain,
				Validator:      v,
				Threshold:      s.threshold,
				ValidatorCount: len(s.validators),
			})
		}
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.log.Info("Validator enrolled", "domain", ev.Domain, "validator", ev.Validator, "count", ev.ValidatorCount)
	}
	r.emit(events)
	return nil
}

// Unenroll removes validator from domain's set. The last validator takes
// the removed one's position. Removal is refused when it would leave fewer
// validators than the configured threshold.
func (r *Registry) Unenroll(caller types.Hash, domain uint32, validator types.Address) error {
	if err := r.authorize(caller); err != nil {
		return err
	}

	r.mu.Lock()
	s, ok := r.sets[domain]
	idx := -1
	if ok {
		idx = s.indexOf(validator)
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s on domain %d", ErrNotEnrolled, validator, domain)
	}
	if len(s.validators)-1 < int(s.threshold) {
		r.mu.Unlock()
		return fmt.Errorf("%w: removing %s leaves %d validators for threshold %d",
			ErrInvalidThreshold, validator, len(s.validators)-1, s.threshold)
	}
	last := len(s.validators) - 1
	s.validators[idx] = s.validators[last]
	s.validators = s.validators[:last]
	ev := RegistryEvent{
		Kind:           ValidatorUnenrolled,
		Domain:         domain,
		Validator:      validator,
		Threshold:      s.threshold,
		ValidatorCount: len(s.validators),
	}
	r.mu.Unlock()

	r.log.Info("Validator unenrolled", "domain", domain, "validator", validator, "count", ev.ValidatorCount)
	r.emit([]RegistryEvent{ev})
	return nil
}

// SetThreshold sets domain's threshold. It must lie in [1, len(validators)].
func (r *Registry) SetThreshold(caller types.Hash, domain uint32, threshold uint8) error {
	return r.SetThresholds(caller, []uint32{domain}, []uint8{threshold})
}

// SetThresholds sets thresholds[i] on domains[i] for every i, atomically.
// When a domain repeats, the last value wins.
func (r *Registry) SetThresholds(caller types.Hash, domains []uint32, thresholds []uint8) error {
	if err := r.authorize(caller); err != nil {
		return err
	}
	if len(domains) != len(thresholds) {
		return ErrLengthMismatch
	}

	r.mu.Lock()
	for i, domain := range domains {
		n := 0
		if s, ok := r.sets[domain]; ok {
			n = len(s.validators)
		}
		if t := thresholds[i]; t == 0 || int(t) > n {
			r.mu.Unlock()
			return fmt.Errorf("%w: threshold %d for %d validators on domain %d", ErrInvalidThreshold, t, n, domain)
		}
	}
	events := make([]RegistryEvent, 0, len(domains))
	for i, domain := range domains {
		s := r.sets[domain]
		s.threshold = thresholds[i]
		events = append(events, RegistryEvent{
			Kind:           ThresholdSet,
			Domain:         domain,
			Threshold:      s.threshold,
			ValidatorCount: len(s.validators),
		})
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.log.Info("Threshold set", "domain", ev.Domain, "threshold", ev.Threshold)
	}
	r.emit(events)
	return nil
}

// Validators returns a copy of domain's validators in their current order.
func (r *Registry) Validators(domain uint32) []types.Address {
	vs, _ := r.ValidatorsAndThreshold(domain)
	return vs
}

// Threshold returns domain's threshold, 0 when unset.
func (r *Registry) Threshold(domain uint32) uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sets[domain]; ok {
		return s.threshold
	}
	return 0
}

// IsEnrolled reports whether validator is in domain's set.
func (r *Registry) IsEnrolled(domain uint32, validator types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sets[domain]
	return ok && s.indexOf(validator) >= 0
}

// ValidatorsAndThreshold returns a consistent snapshot of domain's set.
func (r *Registry) ValidatorsAndThreshold(domain uint32) ([]types.Address, uint8) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sets[domain]
	if !ok {
		return []types.Address{}, 0
	}
	return append([]types.Address{}, s.validators...), s.threshold
}
