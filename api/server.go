// Package api serves a read-only HTTP view of a mailbox: the latest
// checkpoint, dispatched messages, inclusion proofs, delivery status and
// prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eth2030/interchain/checkpoint"
	"github.com/eth2030/interchain/core/rawdb"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/mailbox"
	"github.com/eth2030/interchain/merkle"
	"github.com/eth2030/interchain/message"
)

// Config controls the HTTP server.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns a Config listening on localhost.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("config: invalid api addr %q: %w", c.Addr, err)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("config: api timeouts must be positive")
	}
	return nil
}

// Mailbox is the mailbox state the API reads.
type Mailbox interface {
	Checkpoint() (checkpoint.Checkpoint, error)
	Message(id types.Hash) (*message.Message, error)
	Delivered(id types.Hash) (bool, error)
}

// Prover serves inclusion proofs.
type Prover interface {
	Proof(index uint32) (merkle.Proof, error)
}

// Server is the HTTP front end.
type Server struct {
	config   Config
	mailbox  Mailbox
	prover   Prover
	gatherer prometheus.Gatherer
	router   *mux.Router
	log      *log.Logger

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// NewServer builds the router. A nil gatherer disables /metrics.
func NewServer(config Config, mb Mailbox, p Prover, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		config:   config,
		mailbox:  mb,
		prover:   p,
		gatherer: gatherer,
		log:      log.Default().Module("api"),
	}
	r := mux.NewRouter()
	r.HandleFunc("/v1/checkpoint/latest", s.GetLatestCheckpoint()).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", s.GetMessage()).Methods(http.MethodGet)
	r.HandleFunc("/v1/proofs/{index}", s.GetProof()).Methods(http.MethodGet)
	r.HandleFunc("/v1/delivered/{id}", s.GetDelivered()).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("api: server already running")
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		ErrorLog:     s.errorLog(),
	}
	s.http, s.listener = srv, ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "err", err)
		}
	}()
	s.log.Info("HTTP server started", "addr", ln.Addr())
	return nil
}

// errorLog routes net/http's internal errors into the module logger.
func (s *Server) errorLog() *stdlog.Logger {
	return slog.NewLogLogger(s.log.Slog().Handler(), slog.LevelWarn)
}

// Addr returns the bound address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type checkpointJSON struct {
	Mailbox     hexutil.Bytes `json:"mailbox"`
	Domain      uint32        `json:"domain"`
	Root        hexutil.Bytes `json:"root"`
	Index       uint32        `json:"index"`
	SigningHash hexutil.Bytes `json:"signingHash"`
	Digest      hexutil.Bytes `json:"digest"`
}

type messageJSON struct {
	ID          hexutil.Bytes `json:"id"`
	Version     uint8         `json:"version"`
	Nonce       uint32        `json:"nonce"`
	Origin      uint32        `json:"origin"`
	Sender      hexutil.Bytes `json:"sender"`
	Destination uint32        `json:"destination"`
	Recipient   hexutil.Bytes `json:"recipient"`
	Body        hexutil.Bytes `json:"body"`
	Encoded     hexutil.Bytes `json:"encoded"`
}

// proofJSON carries a leaf's proof against the checkpoint at its own index.
type proofJSON struct {
	Leaf    hexutil.Bytes   `json:"leaf"`
	Index   uint32          `json:"index"`
	Root    hexutil.Bytes   `json:"root"`
	Path    []hexutil.Bytes `json:"path"`
	Encoded hexutil.Bytes   `json:"encoded"`
}

type deliveredJSON struct {
	ID        hexutil.Bytes `json:"id"`
	Delivered bool          `json:"delivered"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (s *Server) GetLatestCheckpoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cp, err := s.mailbox.Checkpoint()
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, checkpointJSON{
			Mailbox:     cp.Mailbox.Bytes(),
			Domain:      cp.Domain,
			Root:        cp.Root.Bytes(),
			Index:       cp.Index,
			SigningHash: cp.SigningHash().Bytes(),
			Digest:      cp.EthSignedMessageHash().Bytes(),
		})
	}
}

func (s *Server) GetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseHash(mux.Vars(r)["id"])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorJSON{err.Error()})
			return
		}
		msg, err := s.mailbox.Message(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messageJSON{
			ID:          id.Bytes(),
			Version:     msg.Version,
			Nonce:       msg.Nonce,
			Origin:      msg.Origin,
			Sender:      msg.Sender.Bytes(),
			Destination: msg.Destination,
			Recipient:   msg.Recipient.Bytes(),
			Body:        msg.Body,
			Encoded:     msg.Encode(),
		})
	}
}

func (s *Server) GetProof() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorJSON{"invalid leaf index"})
			return
		}
		proof, err := s.prover.Proof(uint32(index))
		if err != nil {
			s.writeError(w, err)
			return
		}
		enc, err := proof.MarshalBinary()
		if err != nil {
			s.writeError(w, err)
			return
		}
		path := make([]hexutil.Bytes, len(proof.Path))
		for i, h := range proof.Path {
			path[i] = h.Bytes()
		}
		writeJSON(w, http.StatusOK, proofJSON{
			Leaf:    proof.Leaf.Bytes(),
			Index:   proof.Index,
			Root:    proof.Root().Bytes(),
			Path:    path,
			Encoded: enc,
		})
	}
}

func (s *Server) GetDelivered() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseHash(mux.Vars(r)["id"])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorJSON{err.Error()})
			return
		}
		ok, err := s.mailbox.Delivered(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deliveredJSON{ID: id.Bytes(), Delivered: ok})
	}
}

func parseHash(s string) (types.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("invalid id: %w", err)
	}
	if len(b) != types.HashLength {
		return types.Hash{}, fmt.Errorf("invalid id: want %d bytes, have %d", types.HashLength, len(b))
	}
	return types.BytesToHash(b), nil
}

// writeError maps lookup misses to 404 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rawdb.ErrNotFound),
		errors.Is(err, mailbox.ErrNoMessages),
		errors.Is(err, merkle.ErrIndexOutOfRange):
		writeJSON(w, http.StatusNotFound, errorJSON{err.Error()})
	default:
		s.log.Error("Request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorJSON{"internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
