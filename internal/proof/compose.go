package proof

import (
	"context"
	"fmt"
	"math/bits"

	xerrors "ZKCipherAI/internal/errors"
)

// Composer folds existing proofs into one composite handle. Composition is
// logarithmic in depth: folding N proofs yields depth floor(log2(N))+1, so
// large proof sets never require linear-size verification trees.
type Composer struct {
	engine *Engine
}

// NewComposer builds a composer over the given engine.
func NewComposer(engine *Engine) *Composer {
	return &Composer{engine: engine}
}

// compositionDepth is floor(log2(n))+1 for n >= 1.
func compositionDepth(n int) int {
	return bits.Len(uint(n))
}

// Compose folds at least two proofs into a composite handle committed under
// the recursive verification circuit. The sourceCircuitID records which
// circuit the folded proofs came from.
func (c *Composer) Compose(ctx context.Context, proofs []*Handle, sourceCircuitID string) (*CompositeHandle, error) {
	if c.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "composer not initialised")
	}
	if len(proofs) < 2 {
		return nil, xerrors.Wrap(CodeInsufficientInputs, ErrInsufficientInputs,
			fmt.Sprintf("composition received %d proofs", len(proofs)))
	}

	hashes := make([]string, len(proofs))
	children := make([]*Node, len(proofs))
	for i, p := range proofs {
		if p == nil {
			return nil, xerrors.Wrap(CodeValidation, ErrValidation, fmt.Sprintf("input proof %d is nil", i))
		}
		hashes[i] = p.ProofHash
		children[i] = &Node{Handle: p}
	}

	depth := compositionDepth(len(proofs))
	subject := Subject{
		"inputProofHashes": hashes,
		"sourceCircuitId":  sourceCircuitID,
		"count":            len(proofs),
		"compositionDepth": depth,
	}

	handle, err := c.engine.Generate(ctx, subject, CircuitRecursiveVerification, GenerateOptions{})
	if err != nil {
		return nil, err
	}

	return &CompositeHandle{
		Handle:           *handle,
		InputProofHashes: hashes,
		CompositionDepth: depth,
		children:         children,
	}, nil
}
