package vdf

import (
	"testing"
)

func makeTestProof(seed byte, iterations uint64) *Proof {
	var input [32]byte
	input[0] = seed
	return ComputeIterations(input, iterations)
}

func TestMerkleAggregatorBuild(t *testing.T) {
	agg := NewMerkleAggregator()
	agg.AddProof(makeTestProof(1, 10))
	agg.AddProof(makeTestProof(2, 20))
	agg.AddProof(makeTestProof(3, 30))

	proof, err := agg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if proof.Method != AggregationMerkleTree {
		t.Errorf("expected merkle tree method, got %s", proof.Method)
	}
	if proof.CheckpointsCovered != 3 {
		t.Errorf("expected 3 checkpoints, got %d", proof.CheckpointsCovered)
	}
	if proof.TotalIterations != 60 {
		t.Errorf("expected total iterations 60, got %d", proof.TotalIterations)
	}
	var zero [32]byte
	if proof.RootHash == zero {
		t.Error("root hash should not be zero")
	}
}

func TestMerkleAggregatorEmpty(t *testing.T) {
	agg := NewMerkleAggregator()
	if _, err := agg.Build(); err == nil {
		t.Error("expected error building aggregate with no proofs")
	}
}

func TestMerkleAggregatorSampleAndVerify(t *testing.T) {
	proofs := []*Proof{
		makeTestProof(1, 10),
		makeTestProof(2, 20),
		makeTestProof(3, 30),
		makeTestProof(4, 40),
		makeTestProof(5, 50),
	}

	agg := NewMerkleAggregator()
	for _, p := range proofs {
		agg.AddProof(p)
	}

	aggregate, err := agg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i, p := range proofs {
		sample, err := agg.Sample(i, true)
		if err != nil {
			t.Fatalf("Sample(%d) failed: %v", i, err)
		}
		if sample.CheckpointIndex != uint32(i) {
			t.Errorf("sample index mismatch: got %d want %d", sample.CheckpointIndex, i)
		}
		if !VerifySample(aggregate, p, sample) {
			t.Errorf("sample %d should verify against the aggregate root", i)
		}
	}
}

func TestMerkleAggregatorSampleWrongProof(t *testing.T) {
	agg := NewMerkleAggregator()
	agg.AddProof(makeTestProof(1, 10))
	agg.AddProof(makeTestProof(2, 20))

	aggregate, err := agg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sample, err := agg.Sample(0, true)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	wrongProof := makeTestProof(99, 10)
	if VerifySample(aggregate, wrongProof, sample) {
		t.Error("sample should not verify against an unrelated proof")
	}
}

func TestMerkleAggregatorSampleUnverified(t *testing.T) {
	agg := NewMerkleAggregator()
	agg.AddProof(makeTestProof(1, 10))

	aggregate, err := agg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sample, err := agg.Sample(0, false)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	if VerifySample(aggregate, makeTestProof(1, 10), sample) {
		t.Error("an unverified sample must not be accepted as valid")
	}
}

func TestMerkleAggregatorSampleOutOfRange(t *testing.T) {
	agg := NewMerkleAggregator()
	agg.AddProof(makeTestProof(1, 10))

	if _, err := agg.Sample(5, true); err == nil {
		t.Error("expected error for out-of-range sample index")
	}
	if _, err := agg.Sample(-1, true); err == nil {
		t.Error("expected error for negative sample index")
	}
}

func TestMerkleAggregatorOddLeafCount(t *testing.T) {
	agg := NewMerkleAggregator()
	for i := byte(1); i <= 7; i++ {
		agg.AddProof(makeTestProof(i, uint64(i)*10))
	}

	aggregate, err := agg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if aggregate.CheckpointsCovered != 7 {
		t.Errorf("expected 7 checkpoints, got %d", aggregate.CheckpointsCovered)
	}

	sample, err := agg.Sample(6, true)
	if err != nil {
		t.Fatalf("Sample(6) failed: %v", err)
	}
	if !VerifySample(aggregate, makeTestProof(7, 70), sample) {
		t.Error("last (unpaired) leaf should still verify")
	}
}

func TestVerifySampleWrongMethod(t *testing.T) {
	aggregate := &AggregateProof{Method: AggregationSnarkGroth16}
	sample := MerkleSample{VDFVerified: true}
	if VerifySample(aggregate, makeTestProof(1, 10), sample) {
		t.Error("VerifySample should reject non-Merkle aggregates")
	}
}

func TestAggregationMethodComplexity(t *testing.T) {
	cases := map[AggregationMethod]bool{
		AggregationMerkleTree:   true,
		AggregationSnarkGroth16: true,
		AggregationSnarkPlonk:   true,
		AggregationStark:        true,
	}
	for method := range cases {
		if method.VerificationComplexity() == "unknown" {
			t.Errorf("%s should have a known verification complexity", method)
		}
	}
}

func TestAggregationMethodTrustedSetup(t *testing.T) {
	if !AggregationSnarkGroth16.RequiresTrustedSetup() {
		t.Error("Groth16 requires trusted setup")
	}
	if !AggregationSnarkPlonk.RequiresTrustedSetup() {
		t.Error("PLONK requires trusted setup")
	}
	if AggregationMerkleTree.RequiresTrustedSetup() {
		t.Error("Merkle tree aggregation requires no trusted setup")
	}
	if AggregationStark.RequiresTrustedSetup() {
		t.Error("STARKs require no trusted setup")
	}
}

func TestSampleIndicesDeterministic(t *testing.T) {
	root := [32]byte{0x42}

	a := SampleIndices(root, 3, 10)
	b := SampleIndices(root, 3, 10)
	if len(a) != 3 {
		t.Fatalf("expected 3 indices, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample not deterministic: %v vs %v", a, b)
		}
		if a[i] < 0 || a[i] >= 10 {
			t.Errorf("index %d out of range", a[i])
		}
	}

	seen := make(map[int]bool)
	for _, idx := range a {
		if seen[idx] {
			t.Errorf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
}

func TestSampleIndicesRootDependent(t *testing.T) {
	a := SampleIndices([32]byte{1}, 5, 1000)
	b := SampleIndices([32]byte{2}, 5, 1000)

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different roots should produce different samples")
	}
}

func TestSampleIndicesClamped(t *testing.T) {
	root := [32]byte{7}

	if got := SampleIndices(root, 10, 4); len(got) != 4 {
		t.Errorf("expected clamp to 4, got %d", len(got))
	}
	if got := SampleIndices(root, 3, 0); got != nil {
		t.Errorf("expected nil for empty set, got %v", got)
	}
	if got := SampleIndices(root, 0, 5); got != nil {
		t.Errorf("expected nil for zero sample count, got %v", got)
	}
}
