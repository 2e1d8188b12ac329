package proof

import (
	"fmt"
	"sort"

	xerrors "ZKCipherAI/internal/errors"
)

// Circuit identifiers form a closed set. Adding a circuit means adding a
// Descriptor to builtinCircuits, not a new code branch.
const (
	CircuitEncryptionV1          = "encryption_v1"
	CircuitInferenceV1           = "inference_v1"
	CircuitModelUpdateV1         = "model_update_v1"
	CircuitFederatedRoundV1      = "federated_round_v1"
	CircuitRecursiveVerification = "recursive_verification"
)

// Extractor derives the public signals of a circuit from a subject and its
// content fingerprint. Extractors are pure: identical inputs always yield
// identical signals, and the produced key set equals RequiredSignalKeys.
type Extractor func(subject Subject, subjectFingerprint string) map[string]any

// Descriptor describes one supported claim type.
type Descriptor struct {
	CircuitID          string
	RequiredSignalKeys []string
	ComplexityWeight   int
	Extract            Extractor
}

// Registry is the static table of known circuits. It is read-only after
// construction and therefore safe for concurrent use.
type Registry struct {
	circuits map[string]Descriptor
}

// NewRegistry returns a registry preloaded with the supported circuit set.
func NewRegistry() *Registry {
	r := &Registry{circuits: make(map[string]Descriptor, len(builtinCircuits))}
	for _, desc := range builtinCircuits {
		r.circuits[desc.CircuitID] = desc
	}
	return r
}

// Resolve returns the descriptor registered for the given circuit id.
func (r *Registry) Resolve(circuitID string) (Descriptor, error) {
	desc, ok := r.circuits[circuitID]
	if !ok {
		return Descriptor{}, xerrors.Wrap(CodeUnknownCircuit, ErrUnknownCircuit, fmt.Sprintf("circuit %q is not registered", circuitID))
	}
	return desc, nil
}

// Known reports whether the circuit id is registered.
func (r *Registry) Known(circuitID string) bool {
	_, ok := r.circuits[circuitID]
	return ok
}

// IDs returns the sorted list of registered circuit ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.circuits))
	for id := range r.circuits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var builtinCircuits = []Descriptor{
	{
		CircuitID:          CircuitEncryptionV1,
		RequiredSignalKeys: []string{"encryptionVerified", "dataIntegrity"},
		ComplexityWeight:   1,
		Extract: func(subject Subject, fp string) map[string]any {
			return map[string]any{
				"encryptionVerified": true,
				"dataIntegrity":      signalString(subject, "dataHash", shortFingerprint(fp)),
			}
		},
	},
	{
		CircuitID:          CircuitInferenceV1,
		RequiredSignalKeys: []string{"modelIntegrity", "computationVerified", "privacyPreserved"},
		ComplexityWeight:   3,
		Extract: func(subject Subject, fp string) map[string]any {
			return map[string]any{
				"modelIntegrity":      signalString(subject, "modelHash", shortFingerprint(fp)),
				"computationVerified": true,
				"privacyPreserved":    true,
			}
		},
	},
	{
		CircuitID:          CircuitModelUpdateV1,
		RequiredSignalKeys: []string{"modelIntegrity", "updateVerified"},
		ComplexityWeight:   2,
		Extract: func(subject Subject, fp string) map[string]any {
			return map[string]any{
				"modelIntegrity": signalString(subject, "weightsHash", shortFingerprint(fp)),
				"updateVerified": true,
			}
		},
	},
	{
		CircuitID:          CircuitFederatedRoundV1,
		RequiredSignalKeys: []string{"aggregationVerified", "participantCount", "privacyPreserved"},
		ComplexityWeight:   4,
		Extract: func(subject Subject, fp string) map[string]any {
			return map[string]any{
				"aggregationVerified": true,
				"participantCount":    signalCount(subject, "participantCount", "participants"),
				"privacyPreserved":    true,
			}
		},
	},
	{
		CircuitID:          CircuitRecursiveVerification,
		RequiredSignalKeys: []string{"aggregationVerified", "inputCount", "inputProofHashes", "compositionDepth"},
		ComplexityWeight:   5,
		Extract: func(subject Subject, fp string) map[string]any {
			hashes := signalStrings(subject, "inputProofHashes")
			return map[string]any{
				"aggregationVerified": true,
				"inputCount":          len(hashes),
				"inputProofHashes":    hashes,
				"compositionDepth":    signalCount(subject, "compositionDepth"),
			}
		},
	},
}

// signalString prefers a producer supplied string field and falls back to the
// given default. The core never computes content hashes itself; fields such
// as dataHash arrive precomputed from the producing subsystem.
func signalString(subject Subject, key, fallback string) string {
	if raw, ok := subject[key]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func signalCount(subject Subject, keys ...string) int {
	for _, key := range keys {
		raw, ok := subject[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case []any:
			return len(v)
		case []string:
			return len(v)
		}
	}
	return 0
}

func signalStrings(subject Subject, key string) []string {
	raw, ok := subject[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
