package proof

import (
	"context"
	"log/slog"
	"sync"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/pkg/logger"
)

// ConsensusResult reports quorum agreement across validator identities.
type ConsensusResult struct {
	Verified       bool            `json:"verified"`
	ConsensusRatio float64         `json:"consensus_ratio"`
	PerValidator   map[string]bool `json:"per_validator"`
}

// ConsensusVerifier runs an independent verification per validator identity
// and requires a two-thirds quorum. Validators are neither synchronized nor
// individually trusted: one validator failing, timing out or panicking is a
// "no" vote, never an abort.
type ConsensusVerifier struct {
	verifier *Verifier
	log      *slog.Logger
}

// NewConsensusVerifier builds a consensus verifier over the given verifier.
func NewConsensusVerifier(verifier *Verifier) *ConsensusVerifier {
	return &ConsensusVerifier{verifier: verifier, log: logger.Named("proof.consensus")}
}

// VerifyWithConsensus evaluates the proof once per validator concurrently and
// folds the votes into a quorum verdict.
func (c *ConsensusVerifier) VerifyWithConsensus(ctx context.Context, proof *Handle, validatorIDs []string, opts VerifyOptions) (*ConsensusResult, error) {
	if c.verifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "consensus verifier not initialised")
	}
	if proof == nil {
		return nil, xerrors.Wrap(CodeValidation, ErrValidation, "consensus requires a proof handle")
	}
	if len(validatorIDs) == 0 {
		return nil, xerrors.Wrap(CodeValidation, ErrValidation, "consensus requires at least one validator")
	}

	votes := make([]bool, len(validatorIDs))
	var wg sync.WaitGroup
	for i, validatorID := range validatorIDs {
		i, validatorID := i, validatorID
		wg.Add(1)
		go func() {
			defer wg.Done()
			votes[i] = c.validatorVote(ctx, proof, validatorID, opts)
		}()
	}
	wg.Wait()

	perValidator := make(map[string]bool, len(validatorIDs))
	successes := 0
	for i, validatorID := range validatorIDs {
		perValidator[validatorID] = votes[i]
		if votes[i] {
			successes++
		}
	}

	// Integer quorum comparison avoids float edge cases at exactly 2/3.
	verified := 3*successes >= 2*len(validatorIDs)
	ratio := float64(successes) / float64(len(validatorIDs))

	c.log.Debug("consensus round finished",
		slog.String("proof_hash", proof.ProofHash),
		slog.Int("validators", len(validatorIDs)),
		slog.Int("successes", successes),
		slog.Bool("verified", verified))

	return &ConsensusResult{
		Verified:       verified,
		ConsensusRatio: ratio,
		PerValidator:   perValidator,
	}, nil
}

// validatorVote runs one validator's verification. The validator id salts
// the outcome cache key so each identity evaluates independently.
func (c *ConsensusVerifier) validatorVote(ctx context.Context, proof *Handle, validatorID string, opts VerifyOptions) (vote bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("validator check panicked",
				slog.String("validator_id", validatorID),
				slog.Any("panic", r))
			vote = false
		}
	}()

	validatorOpts := opts
	validatorOpts.validatorID = validatorID
	outcome, err := c.verifier.Verify(ctx, proof, validatorOpts)
	if err != nil || outcome == nil {
		return false
	}
	return outcome.Verified
}
