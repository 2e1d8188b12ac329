package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/golang/snappy"

	xerrors "ZKCipherAI/internal/errors"
)

// proofHashPattern is the wire format of every proof fingerprint.
var proofHashPattern = regexp.MustCompile(`^proof_[a-f0-9]{12}$`)

// Handle is the immutable result of a proof generation. Once returned by the
// engine a handle is never mutated; callers treat it as a value.
type Handle struct {
	ProofHash            string         `json:"proof_hash"`
	CircuitID            string         `json:"circuit_id"`
	PublicSignals        map[string]any `json:"public_signals"`
	Blob                 []byte         `json:"blob"`
	CreatedAt            int64          `json:"created_at_ms"`
	GenerationDurationMs int64          `json:"generation_duration_ms"`
	CompressionRatio     float64        `json:"compression_ratio,omitempty"`
	TrustScoreAtCreation *float64       `json:"trust_score_at_creation,omitempty"`
}

// CompositeHandle folds several proofs into one. It carries the ordered input
// fingerprints and the logarithmic composition depth alongside the handle.
type CompositeHandle struct {
	Handle
	InputProofHashes []string `json:"input_proof_hashes"`
	CompositionDepth int      `json:"composition_depth"`

	children []*Node
}

// Node makes composed proofs introspectable as an explicit tree: the root is
// the composite handle, children are the folded inputs (themselves possibly
// composites).
type Node struct {
	Handle   *Handle `json:"handle"`
	Children []*Node `json:"children,omitempty"`
}

// Tree returns the composition tree rooted at this composite.
func (c *CompositeHandle) Tree() *Node {
	if c == nil {
		return nil
	}
	return &Node{Handle: &c.Handle, Children: c.children}
}

// FanIn returns the number of directly folded proofs.
func (c *CompositeHandle) FanIn() int {
	if c == nil {
		return 0
	}
	return len(c.InputProofHashes)
}

// BatchResult aggregates the outcome of one batch generation.
type BatchResult struct {
	BatchID                   string    `json:"batch_id"`
	Proofs                    []*Handle `json:"proofs"`
	AggregateProofHandle      *Handle   `json:"aggregate_proof_handle"`
	AggregateCompressionRatio float64   `json:"aggregate_compression_ratio"`
}

// blobEnvelope is the decoded form of Handle.Blob. Everything needed to
// recompute the proof fingerprint lives here, which is what the
// fingerprint-consistency criterion relies on.
type blobEnvelope struct {
	CircuitID          string `json:"circuit_id"`
	SubjectFingerprint string `json:"subject_fingerprint"`
	OptionsFingerprint string `json:"options_fingerprint"`
	ComplexityWeight   int    `json:"complexity_weight"`
	Nonce              string `json:"nonce"`
	IssuedAt           int64  `json:"issued_at_ms"`
	Compressed         bool   `json:"compressed"`
	Payload            []byte `json:"payload"`
}

// computeProofHash derives the stable proof fingerprint. It is a pure
// function of content: circuit, subject fingerprint, option fingerprint and
// the circuit's constraint weight. Wall-clock time and the witness nonce are
// deliberately excluded so recomputation for identical inputs always yields
// the same hash.
func computeProofHash(circuitID, subjectFP, optionsFP string, complexityWeight int) string {
	material := fmt.Sprintf("%s|%s|%s|constraints=%d", circuitID, subjectFP, optionsFP, complexityWeight)
	sum := sha256.Sum256([]byte(material))
	return "proof_" + hex.EncodeToString(sum[:])[:12]
}

func (e blobEnvelope) recomputeHash() string {
	return computeProofHash(e.CircuitID, e.SubjectFingerprint, e.OptionsFingerprint, e.ComplexityWeight)
}

func encodeBlob(env blobEnvelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternal, err, "encode proof blob")
	}
	return raw, nil
}

func decodeBlob(blob []byte) (blobEnvelope, error) {
	var env blobEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return blobEnvelope{}, xerrors.Wrap(CodeValidation, err, "decode proof blob")
	}
	return env, nil
}

// subjectPayload returns the canonical subject bytes stored in the envelope,
// decompressing when needed.
func (e blobEnvelope) subjectPayload() ([]byte, error) {
	if !e.Compressed {
		return e.Payload, nil
	}
	raw, err := snappy.Decode(nil, e.Payload)
	if err != nil {
		return nil, xerrors.Wrap(CodeValidation, err, "decompress proof payload")
	}
	return raw, nil
}
