// Package interchain is the verification core of a cross-chain messaging
// protocol.
//
// A mailbox on the origin domain appends the id of every outbound message to
// a depth-32 incremental merkle tree. Validators sign checkpoints of that
// tree (mailbox, domain, root, index). On the destination domain a multisig
// interchain security module accepts a message once it carries a merkle
// proof against a checkpoint root and at least threshold signatures from the
// origin's enrolled validators, in validator order.
//
// The packages are:
//
//	message     canonical message encoding and ids
//	merkle      incremental tree, full tree and inclusion proofs
//	checkpoint  checkpoint signing hashes
//	ism         validator registry and multisig verifier
//	mailbox     dispatch and delivery
//	prover      proof index for relayers
//	api         read-only HTTP surface
//	node        configuration and process wiring
package interchain
