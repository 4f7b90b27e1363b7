package vdf

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"
)

func TestComputeContextMatchesCompute(t *testing.T) {
	input := sha256.Sum256([]byte("cancellable-vdf"))
	params := Parameters{IterationsPerSecond: 50_000, MinIterations: 1000, MaxIterations: 1_000_000}

	proof, err := ComputeContext(context.Background(), input, 20*time.Millisecond, params)
	if err != nil {
		t.Fatalf("ComputeContext returned error: %v", err)
	}
	if !Verify(proof) {
		t.Fatal("proof produced by ComputeContext failed Verify")
	}
}

func TestComputeContextCancellation(t *testing.T) {
	input := sha256.Sum256([]byte("cancellable-vdf-2"))
	params := Parameters{IterationsPerSecond: 1_000_000, MinIterations: 5_000_000, MaxIterations: 10_000_000}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proof, err := ComputeContext(ctx, input, time.Second, params)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if proof.Iterations >= params.MinIterations {
		t.Fatalf("expected a partial proof short of MinIterations, got %d iterations", proof.Iterations)
	}
}

func TestComputeContextRejectsOversizedDuration(t *testing.T) {
	input := sha256.Sum256([]byte("cancellable-vdf-3"))
	params := Parameters{IterationsPerSecond: 1000, MinIterations: 100, MaxIterations: 1000}

	if _, err := ComputeContext(context.Background(), input, time.Hour, params); err == nil {
		t.Fatal("expected an error for a duration exceeding MaxIterations")
	}
}

func TestContinuationInputDeterministic(t *testing.T) {
	prev := sha256.Sum256([]byte("prev-chain-tip"))
	content := sha256.Sum256([]byte("content"))
	series := [16]byte{1, 2, 3}

	a := ContinuationInput(prev, content, series, 1)
	b := ContinuationInput(prev, content, series, 1)
	if a != b {
		t.Fatal("same inputs should produce the same continuation input")
	}

	if ContinuationInput(prev, content, series, 2) == a {
		t.Error("different sequence should change the continuation input")
	}
	other := sha256.Sum256([]byte("other-tip"))
	if ContinuationInput(other, content, series, 1) == a {
		t.Error("different previous chain hash should change the continuation input")
	}
}
