package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateOptions tunes a single proof generation call.
type GenerateOptions struct {
	// DisableCompression turns off subject blob compression. Compression is
	// on by default.
	DisableCompression bool `json:"disable_compression"`
	// Optimization is an opaque label that groups queued generations; calls
	// with the same circuit and optimization accumulate into one batch.
	Optimization string `json:"optimization,omitempty"`
	// Batched routes the call through the batch accumulator instead of
	// generating immediately. The caller blocks until its item is processed.
	Batched bool `json:"batched"`
}

// fingerprint returns a stable key fragment covering every option that
// influences the generated handle. Queueing flags are deliberately excluded:
// a queued generation must produce the same handle as a direct one.
func (o GenerateOptions) fingerprint() string {
	return fmt.Sprintf("compression=%t", !o.DisableCompression)
}

// Default verification tuning.
const (
	DefaultTrustThreshold     = 0.8
	DefaultVerifyTimeout      = 30 * time.Second
	DefaultAnchorCheckTimeout = 5 * time.Second
)

// VerifyOptions tunes a single verification call.
type VerifyOptions struct {
	// Strict requires every mandatory criterion to pass in addition to the
	// trust threshold.
	Strict bool
	// TrustThreshold overrides the default 0.8 verdict gate.
	TrustThreshold float64
	// Timeout bounds the whole criterion fan-out. Defaults to 30s.
	Timeout time.Duration
	// CheckOnChain enables the optional ledger anchoring criterion.
	CheckOnChain bool

	// validatorID salts the cache key so consensus validators evaluate
	// independently. Set only by the consensus verifier.
	validatorID string
}

func (o VerifyOptions) threshold() float64 {
	if o.TrustThreshold <= 0 || o.TrustThreshold > 1 {
		return DefaultTrustThreshold
	}
	return o.TrustThreshold
}

func (o VerifyOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultVerifyTimeout
	}
	return o.Timeout
}

func (o VerifyOptions) fingerprint() string {
	return fmt.Sprintf("strict=%t|threshold=%.4f|onchain=%t|validator=%s",
		o.Strict, o.threshold(), o.CheckOnChain, o.validatorID)
}

// cacheKey builds the composite cache key used by both caches.
func cacheKey(parts ...string) string {
	joined := ""
	for i, part := range parts {
		if i > 0 {
			joined += "|"
		}
		joined += part
	}
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
