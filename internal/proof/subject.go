package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	xerrors "ZKCipherAI/internal/errors"
)

// MaxSubjectBytes caps the serialized size of a proof subject.
const MaxSubjectBytes = 10 << 20

// Subject is the opaque, JSON-serializable record describing a claim. The
// producing subsystem (encryption, inference, model training) supplies any
// precomputed content hashes inside it; the pipeline never hashes the
// private payload itself.
type Subject map[string]any

// canonicalSubject returns the canonical serialized form of a subject.
// encoding/json writes map keys in sorted order, so the form is stable for
// identical content regardless of insertion order.
func canonicalSubject(subject Subject) ([]byte, error) {
	if subject == nil {
		return nil, xerrors.Wrap(CodeValidation, ErrValidation, "subject must not be nil")
	}
	raw, err := json.Marshal(subject)
	if err != nil {
		return nil, xerrors.Wrap(CodeValidation, err, "subject is not JSON-serializable")
	}
	if len(raw) > MaxSubjectBytes {
		return nil, xerrors.Wrap(CodeValidation, ErrValidation,
			fmt.Sprintf("subject serializes to %d bytes, cap is %d", len(raw), MaxSubjectBytes))
	}
	return raw, nil
}

// fingerprintSubject returns the hex content fingerprint of a subject along
// with its canonical bytes.
func fingerprintSubject(subject Subject) (string, []byte, error) {
	raw, err := canonicalSubject(subject)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), raw, nil
}
