// Command interchain is the operator tool for the interchain verification
// core.
//
// Usage:
//
//	interchain id       --origin 1 --destination 2 --sender 0x.. --recipient 0x.. --body 0x..
//	interchain digest   --mailbox 0x.. --domain 1 --root 0x.. --index 7
//	interchain sign     --key 0x.. --mailbox 0x.. --domain 1 --root 0x.. --index 7
//	interchain verify   --validators 0x..,0x.. --threshold 2 --metadata 0x.. --message 0x..
//	interchain serve    --config interchain.yaml
package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/eth2030/interchain/checkpoint"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/log"
	"github.com/eth2030/interchain/message"
	"github.com/eth2030/interchain/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(append([]string{app.Name}, args...)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "interchain",
		Usage:     "interchain message verification tool",
		Version:   fmt.Sprintf("%s (commit %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,
		Commands: []*cli.Command{
			idCommand,
			digestCommand,
			signCommand,
			verifyCommand,
			serveCommand,
		},
	}
}

var checkpointFlags = []cli.Flag{
	&cli.StringFlag{Name: "mailbox", Usage: "32-byte mailbox identity (hex)", Required: true},
	&cli.UintFlag{Name: "domain", Usage: "origin domain of the mailbox", Required: true},
	&cli.StringFlag{Name: "root", Usage: "merkle root (hex)", Required: true},
	&cli.UintFlag{Name: "index", Usage: "checkpoint index", Required: true},
}

var idCommand = &cli.Command{
	Name:  "id",
	Usage: "Encode a message and print its id",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "nonce", Usage: "message nonce"},
		&cli.UintFlag{Name: "origin", Usage: "origin domain", Required: true},
		&cli.StringFlag{Name: "sender", Usage: "32-byte sender (hex)", Required: true},
		&cli.UintFlag{Name: "destination", Usage: "destination domain", Required: true},
		&cli.StringFlag{Name: "recipient", Usage: "32-byte recipient (hex)", Required: true},
		&cli.StringFlag{Name: "body", Usage: "message body (hex)", Value: "0x"},
	},
	Action: func(c *cli.Context) error {
		msg, err := messageFromFlags(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "id:      %s\n", msg.ID())
		fmt.Fprintf(c.App.Writer, "encoded: %s\n", hexutil.Encode(msg.Encode()))
		return nil
	},
}

var digestCommand = &cli.Command{
	Name:  "digest",
	Usage: "Print the hashes validators sign for a checkpoint",
	Flags: checkpointFlags,
	Action: func(c *cli.Context) error {
		cp, err := checkpointFromFlags(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "domain hash:  %s\n", cp.DomainHash())
		fmt.Fprintf(c.App.Writer, "signing hash: %s\n", cp.SigningHash())
		fmt.Fprintf(c.App.Writer, "digest:       %s\n", cp.EthSignedMessageHash())
		return nil
	},
}

var signCommand = &cli.Command{
	Name:  "sign",
	Usage: "Sign a checkpoint with a validator key",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "key", Usage: "secp256k1 private key (hex)", Required: true, EnvVars: []string{"INTERCHAIN_VALIDATOR_KEY"}},
	}, checkpointFlags...),
	Action: func(c *cli.Context) error {
		cp, err := checkpointFromFlags(c)
		if err != nil {
			return err
		}
		key, err := crypto.HexToECDSA(c.String("key"))
		if err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}
		sig, err := checkpoint.Sign(cp, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "validator: %s\n", crypto.PubkeyToAddress(key.PublicKey))
		fmt.Fprintf(c.App.Writer, "signature: %s\n", sig)
		return nil
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "Verify multisig metadata for a message against a validator set",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "validators", Usage: "validator addresses", Required: true},
		&cli.UintFlag{Name: "threshold", Usage: "signatures required", Required: true},
		&cli.StringFlag{Name: "metadata", Usage: "encoded metadata (hex)", Required: true},
		&cli.StringFlag{Name: "message", Usage: "encoded message (hex)", Required: true},
	},
	Action: func(c *cli.Context) error {
		raw, err := hexutil.Decode(c.String("message"))
		if err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}
		msg, err := message.Decode(raw)
		if err != nil {
			return err
		}
		metadata, err := hexutil.Decode(c.String("metadata"))
		if err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}

		var validators []types.Address
		for _, s := range c.StringSlice("validators") {
			b, err := hexutil.Decode(s)
			if err != nil || len(b) != types.AddressLength {
				return fmt.Errorf("invalid validator address %q", s)
			}
			validators = append(validators, types.BytesToAddress(b))
		}
		// Throwaway registry holding only the given set.
		owner := types.RepeatHash(0xff)
		registry := ism.NewRegistry(owner)
		if err := registry.EnrollMany(owner, []uint32{msg.Origin}, [][]types.Address{validators}); err != nil {
			return err
		}
		if c.Uint("threshold") > 255 {
			return fmt.Errorf("threshold %d out of range", c.Uint("threshold"))
		}
		if err := registry.SetThreshold(owner, msg.Origin, uint8(c.Uint("threshold"))); err != nil {
			return err
		}

		if _, err := ism.NewMultisigISM(registry, ism.DefaultConfig(), nil).Verify(metadata, msg); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "ok: message %s verified\n", msg.ID())
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the mailbox, prover and HTTP API",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML configuration file", Required: true},
		&cli.StringFlag{Name: "datadir", Usage: "override the configured data directory"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := node.LoadConfig(c.String("config"))
		if err != nil {
			return err
		}
		if c.IsSet("datadir") {
			cfg.DataDir = c.String("datadir")
		}
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log.SetDefault(log.NewWriter(c.App.ErrWriter, level, cfg.LogFormat == "text"))
		log.Info("interchain starting", "version", version, "commit", commit, "datadir", cfg.DataDir)

		n, err := node.New(cfg)
		if err != nil {
			return err
		}
		if err := n.Start(); err != nil {
			n.Close()
			return err
		}

		// Wait for SIGINT or SIGTERM to initiate graceful shutdown.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("Received signal, shutting down", "signal", sig)
		return n.Stop()
	},
}

func messageFromFlags(c *cli.Context) (*message.Message, error) {
	sender, err := parseHash("sender", c.String("sender"))
	if err != nil {
		return nil, err
	}
	recipient, err := parseHash("recipient", c.String("recipient"))
	if err != nil {
		return nil, err
	}
	body, err := hexutil.Decode(c.String("body"))
	if err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if err := message.CheckBodySize(body); err != nil {
		return nil, err
	}
	var nonce, origin, destination uint32
	for _, f := range []struct {
		name string
		dst  *uint32
	}{{"nonce", &nonce}, {"origin", &origin}, {"destination", &destination}} {
		if *f.dst, err = uint32Flag(c, f.name); err != nil {
			return nil, err
		}
	}
	return &message.Message{
		Version:     message.Version,
		Nonce:       nonce,
		Origin:      origin,
		Sender:      sender,
		Destination: destination,
		Recipient:   recipient,
		Body:        body,
	}, nil
}

func checkpointFromFlags(c *cli.Context) (checkpoint.Checkpoint, error) {
	mailbox, err := parseHash("mailbox", c.String("mailbox"))
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	root, err := parseHash("root", c.String("root"))
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	domain, err := uint32Flag(c, "domain")
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	index, err := uint32Flag(c, "index")
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	return checkpoint.Checkpoint{
		Mailbox: mailbox,
		Domain:  domain,
		Root:    root,
		Index:   index,
	}, nil
}

// uint32Flag reads a uint flag that must fit the 32-bit wire fields.
func uint32Flag(c *cli.Context, name string) (uint32, error) {
	v := c.Uint(name)
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("invalid %s: %d exceeds %d", name, v, uint64(math.MaxUint32))
	}
	return uint32(v), nil
}

func parseHash(name, s string) (types.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	if len(b) != types.HashLength {
		return types.Hash{}, fmt.Errorf("invalid %s: want %d bytes, have %d", name, types.HashLength, len(b))
	}
	return types.BytesToHash(b), nil
}
