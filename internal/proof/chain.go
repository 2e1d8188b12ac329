package proof

import (
	"context"
	"fmt"
	"sync"

	xerrors "ZKCipherAI/internal/errors"
)

// ChainLink is one entry of a linked proof sequence. Sequence numbers are
// 1-based; every link after the first must reference the previous link's
// proof hash.
type ChainLink struct {
	Sequence          int     `json:"sequence"`
	Proof             *Handle `json:"proof_handle"`
	PreviousProofHash string  `json:"previous_proof_hash,omitempty"`
}

// ChainReport is the full diagnostic result of a chain scan. It is produced
// in one pass over all links rather than failing fast, so callers always see
// every broken position.
type ChainReport struct {
	Verified          bool       `json:"verified"`
	ChainIntegrity    bool       `json:"chain_integrity"`
	BrokenLinkIndices []int      `json:"broken_link_indices"`
	ChainTrustScore   float64    `json:"chain_trust_score"`
	LinkOutcomes      []*Outcome `json:"link_outcomes"`
}

// ChainChecker validates that a proof sequence is correctly linked and that
// each link individually verifies.
type ChainChecker struct {
	verifier *Verifier
}

// NewChainChecker builds a chain checker over the given verifier.
func NewChainChecker(verifier *Verifier) *ChainChecker {
	return &ChainChecker{verifier: verifier}
}

// VerifyChain verifies every link's own proof concurrently, then walks the
// backlinks in strict index order over the already-resolved results.
func (c *ChainChecker) VerifyChain(ctx context.Context, links []ChainLink, opts VerifyOptions) (*ChainReport, error) {
	if c.verifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chain checker not initialised")
	}
	if len(links) < 2 {
		return nil, xerrors.Wrap(CodeChainTooShort, ErrChainTooShort,
			fmt.Sprintf("chain holds %d links", len(links)))
	}

	outcomes := make([]*Outcome, len(links))
	var wg sync.WaitGroup
	for i := range links {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := c.verifier.Verify(ctx, links[i].Proof, opts)
			if err != nil {
				outcome = &Outcome{Verified: false, Error: err.Error()}
			}
			outcomes[i] = outcome
		}()
	}
	wg.Wait()

	var broken []int
	passing := 0
	for i := range links {
		ok := outcomes[i] != nil && outcomes[i].Verified
		if i > 0 {
			prevHash := ""
			if links[i-1].Proof != nil {
				prevHash = links[i-1].Proof.ProofHash
			}
			if links[i].PreviousProofHash != prevHash {
				ok = false
			}
		}
		if ok {
			passing++
		} else {
			broken = append(broken, i)
		}
	}

	integrity := len(broken) == 0
	return &ChainReport{
		Verified:          integrity,
		ChainIntegrity:    integrity,
		BrokenLinkIndices: broken,
		ChainTrustScore:   float64(passing) / float64(len(links)),
		LinkOutcomes:      outcomes,
	}, nil
}
