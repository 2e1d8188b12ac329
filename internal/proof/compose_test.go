package proof

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func composeInputs(t *testing.T, n int) []*Handle {
	t.Helper()
	engine := newTestEngine(t)
	handles := make([]*Handle, n)
	for i := range handles {
		handle, err := engine.Generate(context.Background(),
			encryptionSubject(fmt.Sprintf("input-%02d", i)), CircuitEncryptionV1, GenerateOptions{})
		if err != nil {
			t.Fatalf("generate input %d: %v", i, err)
		}
		handles[i] = handle
	}
	return handles
}

func TestComposeProducesRecursiveHandle(t *testing.T) {
	inputs := composeInputs(t, 2)
	composer := NewComposer(newTestEngine(t))

	composite, err := composer.Compose(context.Background(), inputs, CircuitEncryptionV1)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	if composite.CircuitID != CircuitRecursiveVerification {
		t.Fatalf("composite circuit = %q, want %q", composite.CircuitID, CircuitRecursiveVerification)
	}
	if composite.CompositionDepth != 2 {
		t.Fatalf("depth for 2 inputs = %d, want 2", composite.CompositionDepth)
	}
	if composite.FanIn() != 2 {
		t.Fatalf("fan-in = %d, want 2", composite.FanIn())
	}
	for i, input := range inputs {
		if composite.InputProofHashes[i] != input.ProofHash {
			t.Fatalf("input hash %d out of order: %q != %q", i, composite.InputProofHashes[i], input.ProofHash)
		}
	}
}

func TestComposeDepthGrowsLogarithmically(t *testing.T) {
	cases := []struct {
		inputs int
		depth  int
	}{
		{2, 2},
		{3, 2},
		{4, 3},
		{8, 4},
	}
	composer := NewComposer(newTestEngine(t))
	for _, tc := range cases {
		composite, err := composer.Compose(context.Background(), composeInputs(t, tc.inputs), CircuitEncryptionV1)
		if err != nil {
			t.Fatalf("compose %d inputs: %v", tc.inputs, err)
		}
		if composite.CompositionDepth != tc.depth {
			t.Fatalf("depth for %d inputs = %d, want %d", tc.inputs, composite.CompositionDepth, tc.depth)
		}
	}
}

func TestComposeRejectsBadInput(t *testing.T) {
	composer := NewComposer(newTestEngine(t))

	if _, err := composer.Compose(context.Background(), composeInputs(t, 1), CircuitEncryptionV1); !errors.Is(err, ErrInsufficientInputs) {
		t.Fatalf("1 input: expected insufficient inputs, got %v", err)
	}
	if _, err := composer.Compose(context.Background(), nil, CircuitEncryptionV1); !errors.Is(err, ErrInsufficientInputs) {
		t.Fatalf("no inputs: expected insufficient inputs, got %v", err)
	}

	inputs := composeInputs(t, 3)
	inputs[1] = nil
	if _, err := composer.Compose(context.Background(), inputs, CircuitEncryptionV1); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil input: expected validation error, got %v", err)
	}
}

func TestComposeNests(t *testing.T) {
	composer := NewComposer(newTestEngine(t))

	first, err := composer.Compose(context.Background(), composeInputs(t, 2), CircuitEncryptionV1)
	if err != nil {
		t.Fatalf("first fold: %v", err)
	}
	second, err := composer.Compose(context.Background(), composeInputs(t, 2), CircuitEncryptionV1)
	if err != nil {
		t.Fatalf("second fold: %v", err)
	}

	nested, err := composer.Compose(context.Background(),
		[]*Handle{&first.Handle, &second.Handle}, CircuitRecursiveVerification)
	if err != nil {
		t.Fatalf("nested fold: %v", err)
	}

	if nested.InputProofHashes[0] != first.ProofHash || nested.InputProofHashes[1] != second.ProofHash {
		t.Fatal("nested composite does not reference the inner composites")
	}

	tree := nested.Tree()
	if tree == nil || tree.Handle.ProofHash != nested.ProofHash {
		t.Fatal("tree root does not match the nested composite")
	}
	if len(tree.Children) != 2 {
		t.Fatalf("tree has %d children, want 2", len(tree.Children))
	}

	// Composites verify like any other handle.
	outcome, err := newTestVerifier(t).Verify(context.Background(), &nested.Handle, VerifyOptions{})
	if err != nil {
		t.Fatalf("verify composite: %v", err)
	}
	if !outcome.Verified {
		t.Fatalf("composite did not verify: %+v", outcome)
	}
}
