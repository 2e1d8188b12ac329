// Package proof implements the proof pipeline: fingerprint generation over
// claim subjects, batching and aggregation, recursive composition,
// multi-criterion verification with weighted trust scoring, consensus
// verification across validator identities, and proof-chain integrity
// checking.
//
// Handles issued here are structured commitments, not cryptographically sound
// zero-knowledge proofs. Encryption, inference and ledger anchoring are
// external collaborators: the package only consumes the subject shapes they
// hand it and the anchor-checking interface the ledger exposes.
package proof
