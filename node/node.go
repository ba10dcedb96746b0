// Package node wires the interchain components into a runnable process:
// message store, validator registry, multisig ISM, mailbox, prover and the
// HTTP API.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/interchain/api"
	"github.com/eth2030/interchain/core/rawdb"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/mailbox"
	"github.com/eth2030/interchain/metrics"
	"github.com/eth2030/interchain/prover"
)

const shutdownTimeout = 10 * time.Second

// Node is the top-level process that manages all subsystems.
type Node struct {
	config *Config
	log    *log.Logger

	db       rawdb.Database
	metrics  *metrics.Metrics
	registry *ism.Registry
	ism      *ism.MultisigISM
	mailbox  *mailbox.Mailbox
	prover   *prover.Prover
	api      *api.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	stop    chan struct{}
}

// New creates a Node with the given configuration. It opens the store and
// builds every component but does not start any network services.
func New(config *Config) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	mbConfig, err := config.MailboxConfig()
	if err != nil {
		return nil, err
	}

	n := &Node{
		config: config,
		log:    log.Default().Module("node"),
		stop:   make(chan struct{}),
	}

	if config.DataDir == "" {
		n.db = rawdb.NewMemoryDB()
	} else {
		n.db, err = rawdb.NewPebbleDB(config.ResolvePath("messages"))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	n.metrics, err = metrics.New(prometheus.NewRegistry(), config.MetricsNamespace)
	if err != nil {
		n.db.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	n.registry = ism.NewRegistry(mbConfig.Owner)
	if err := seedValidators(n.registry, mbConfig.Owner, config.Validators); err != nil {
		n.db.Close()
		return nil, err
	}
	n.ism = ism.NewMultisigISM(n.registry, config.ISMConfig(), n.metrics)

	n.mailbox, err = mailbox.New(mbConfig, n.db, n.metrics)
	if err != nil {
		n.db.Close()
		return nil, fmt.Errorf("init mailbox: %w", err)
	}
	if err := n.mailbox.SetDefaultISM(mbConfig.Owner, n.ism); err != nil {
		n.db.Close()
		return nil, fmt.Errorf("set default ism: %w", err)
	}

	n.prover = prover.New(n.db)
	n.api = api.NewServer(config.API, n.mailbox, n.prover, n.metrics.Registry())
	return n, nil
}

// seedValidators enrolls the configured validator sets in one atomic call
// per operation.
func seedValidators(r *ism.Registry, owner types.Hash, sets []ValidatorSetConfig) error {
	if len(sets) == 0 {
		return nil
	}
	domains := make([]uint32, len(sets))
	validators := make([][]types.Address, len(sets))
	thresholds := make([]uint8, len(sets))
	for i, vs := range sets {
		addrs, err := vs.Addresses()
		if err != nil {
			return err
		}
		domains[i], validators[i], thresholds[i] = vs.Domain, addrs, vs.Threshold
	}
	if err := r.EnrollMany(owner, domains, validators); err != nil {
		return fmt.Errorf("enroll validators: %w", err)
	}
	if err := r.SetThresholds(owner, domains, thresholds); err != nil {
		return fmt.Errorf("set thresholds: %w", err)
	}
	return nil
}

// Start starts the prover and the HTTP API.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return errors.New("node already running")
	}

	root, index, err := n.mailbox.LatestCheckpoint()
	if errors.Is(err, mailbox.ErrNoMessages) {
		n.log.Info("Starting interchain node", "domain", n.mailbox.LocalDomain(), "mailbox", n.mailbox.Address())
	} else {
		n.log.Info("Starting interchain node", "domain", n.mailbox.LocalDomain(), "mailbox", n.mailbox.Address(), "root", root, "index", index)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.prover.Run(ctx, n.mailbox) })
	n.cancel, n.group = cancel, g

	n.running = true
	n.log.Info("Node started", "api", n.api.Addr())
	return nil
}

// Stop shuts down all subsystems in reverse order and closes the store.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}
	n.log.Info("Stopping interchain node")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.api.Stop(ctx); err != nil {
		n.log.Warn("API stop error", "err", err)
	}

	n.cancel()
	if err := n.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		n.log.Warn("Prover stopped with error", "err", err)
	}

	if err := n.db.Close(); err != nil {
		n.log.Warn("Store close error", "err", err)
	}

	n.running = false
	close(n.stop)
	n.log.Info("Node stopped")
	return nil
}

// Close releases the store of a node that was never started.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return errors.New("node is running")
	}
	return n.db.Close()
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// Mailbox returns the local mailbox.
func (n *Node) Mailbox() *mailbox.Mailbox { return n.mailbox }

// Registry returns the validator registry.
func (n *Node) Registry() *ism.Registry { return n.registry }

// ISM returns the default security module.
func (n *Node) ISM() *ism.MultisigISM { return n.ism }

// Prover returns the proof index.
func (n *Node) Prover() *prover.Prover { return n.prover }

// Metrics returns the node's instruments.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// API returns the HTTP server.
func (n *Node) API() *api.Server { return n.api }

// Config returns the node configuration.
func (n *Node) Config() *Config {
	return n.config
}

// Running reports whether the node is currently running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}
