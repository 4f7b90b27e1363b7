package vdf

import (
	"math/big"
	"testing"
	"time"
)

// testPietrzak builds a small-T instance over the trusted modulus.
func testPietrzak(t *testing.T, T uint64) *PietrzakVDF {
	t.Helper()
	v, err := NewPietrzakVDF(PietrzakParams{N: defaultModulus, T: T, Lambda: 128})
	if err != nil {
		t.Fatalf("NewPietrzakVDF: %v", err)
	}
	return v
}

func TestDefaultPietrzakParams(t *testing.T) {
	p := DefaultPietrzakParams()
	if p.N == nil || p.N.Sign() <= 0 {
		t.Fatal("default modulus missing")
	}
	if p.T == 0 || p.Lambda == 0 {
		t.Fatal("zero default T or Lambda")
	}
	if !IsKnownSafeModulus(p.N) {
		t.Fatal("default modulus is not known-safe")
	}
}

func TestNewPietrzakVDFValidation(t *testing.T) {
	if _, err := NewPietrzakVDF(PietrzakParams{N: nil, T: 10}); err == nil {
		t.Fatal("nil modulus accepted")
	}
	if _, err := NewPietrzakVDF(PietrzakParams{N: big.NewInt(-5), T: 10}); err == nil {
		t.Fatal("negative modulus accepted")
	}
	if _, err := NewPietrzakVDF(PietrzakParams{N: defaultModulus, T: 0}); err == nil {
		t.Fatal("zero T accepted")
	}
	// An arbitrary composite is rejected unless explicitly allowed.
	odd := big.NewInt(15)
	if _, err := NewPietrzakVDF(PietrzakParams{N: odd, T: 10}); err == nil {
		t.Fatal("untrusted modulus accepted without the override")
	}
	if _, err := NewPietrzakVDF(PietrzakParams{N: odd, T: 10, AllowUntrustedModulus: true}); err != nil {
		t.Fatalf("untrusted modulus rejected with the override: %v", err)
	}
}

func TestKnownSafeModuli(t *testing.T) {
	moduli := KnownSafeModuli()
	if len(moduli) == 0 {
		t.Fatal("no known-safe moduli")
	}
	for _, m := range moduli {
		if !IsKnownSafeModulus(m) {
			t.Fatal("listed modulus not recognized")
		}
	}
	if IsKnownSafeModulus(big.NewInt(77)) {
		t.Fatal("arbitrary number recognized as safe")
	}
	if IsKnownSafeModulus(nil) {
		t.Fatal("nil recognized as safe")
	}
}

// For tiny T the claim y = x^(2^T) mod N can be checked directly.
func TestEvaluateMatchesDirectComputation(t *testing.T) {
	v := testPietrzak(t, 8)
	x := big.NewInt(3)

	proof, err := v.Evaluate(x)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// 3^(2^8) mod N, by 8 sequential squarings.
	want := new(big.Int).Set(x)
	for i := 0; i < 8; i++ {
		want.Mod(want.Mul(want, want), defaultModulus)
	}
	if proof.Output.Cmp(want) != 0 {
		t.Fatal("output disagrees with direct squaring")
	}
	if !v.Verify(proof) {
		t.Fatal("honest proof rejected")
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	v := testPietrzak(t, 8)
	if _, err := v.Evaluate(nil); err == nil {
		t.Fatal("nil input accepted")
	}
	if _, err := v.Evaluate(big.NewInt(0)); err == nil {
		t.Fatal("zero input accepted")
	}
	if _, err := v.Evaluate(big.NewInt(-2)); err == nil {
		t.Fatal("negative input accepted")
	}
	if _, err := v.Evaluate(new(big.Int).Add(defaultModulus, big.NewInt(1))); err == nil {
		t.Fatal("input above modulus accepted")
	}
}

func TestVerifyRejectsCorruption(t *testing.T) {
	v := testPietrzak(t, 64)
	x := big.NewInt(5)
	proof, err := v.Evaluate(x)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	corruptOutput := *proof
	corruptOutput.Output = new(big.Int).Add(proof.Output, big.NewInt(1))
	if v.Verify(&corruptOutput) {
		t.Fatal("corrupted output accepted")
	}

	if len(proof.Intermediates) > 0 {
		corruptMid := *proof
		corruptMid.Intermediates = append([]*big.Int(nil), proof.Intermediates...)
		corruptMid.Intermediates[0] = new(big.Int).Add(proof.Intermediates[0], big.NewInt(1))
		if v.Verify(&corruptMid) {
			t.Fatal("corrupted intermediate accepted")
		}
	}

	if v.Verify(nil) {
		t.Fatal("nil proof accepted")
	}
	if v.Verify(&PietrzakProof{T: 64}) {
		t.Fatal("proof with nil fields accepted")
	}
}

func TestProofIsSuccinct(t *testing.T) {
	v := testPietrzak(t, 1024)
	proof, err := v.Evaluate(big.NewInt(7))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// log2(1024) = 10 halving levels, one midpoint each.
	if got := len(proof.Intermediates); got > 11 {
		t.Fatalf("%d intermediates for T=1024, want <= 11", got)
	}
	if ops := proof.VerificationOps(); ops != 2*len(proof.Intermediates) {
		t.Fatalf("VerificationOps = %d, want %d", ops, 2*len(proof.Intermediates))
	}
	if size := proof.PietrzakProofSize(); size == 0 {
		t.Fatal("PietrzakProofSize returned 0 for a valid proof")
	}
}

func TestPietrzakEncodeDecodeRoundTrip(t *testing.T) {
	v := testPietrzak(t, 128)
	proof, err := v.Evaluate(big.NewInt(11))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	buf, err := proof.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := DecodePietrzakProof(buf)
	if err != nil {
		t.Fatalf("DecodePietrzakProof: %v", err)
	}

	if back.T != proof.T ||
		back.Input.Cmp(proof.Input) != 0 ||
		back.Output.Cmp(proof.Output) != 0 ||
		len(back.Intermediates) != len(proof.Intermediates) {
		t.Fatal("round trip changed proof fields")
	}
	if !v.Verify(back) {
		t.Fatal("decoded proof rejected")
	}
}

func TestDecodePietrzakProofRejectsTruncation(t *testing.T) {
	v := testPietrzak(t, 32)
	proof, _ := v.Evaluate(big.NewInt(9))
	buf, _ := proof.Encode()

	if _, err := DecodePietrzakProof(nil); err == nil {
		t.Fatal("nil input accepted")
	}
	for _, cut := range []int{5, 12, len(buf) / 2, len(buf) - 1} {
		if _, err := DecodePietrzakProof(buf[:cut]); err == nil {
			t.Fatalf("truncation at %d accepted", cut)
		}
	}
}

func TestGenerateRandomInputInRange(t *testing.T) {
	v := testPietrzak(t, 8)
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		x, err := v.GenerateRandomInput()
		if err != nil {
			t.Fatalf("GenerateRandomInput: %v", err)
		}
		if x.Cmp(big.NewInt(2)) < 0 || x.Cmp(defaultModulus) >= 0 {
			t.Fatal("random input out of [2, N)")
		}
		seen[x.String()] = true
	}
	if len(seen) < 2 {
		t.Fatal("random inputs suspiciously repetitive")
	}
}

func TestInputFromBytesDeterministicAndBound(t *testing.T) {
	v := testPietrzak(t, 8)
	a := v.InputFromBytes([]byte("document content"))
	b := v.InputFromBytes([]byte("document content"))
	c := v.InputFromBytes([]byte("other content"))

	if a.Cmp(b) != 0 {
		t.Fatal("InputFromBytes is not deterministic")
	}
	if a.Cmp(c) == 0 {
		t.Fatal("different content mapped to the same input")
	}
	if a.Cmp(big.NewInt(2)) < 0 || a.Cmp(defaultModulus) >= 0 {
		t.Fatal("derived input out of [2, N)")
	}
}

func TestPietrzakMinElapsedTime(t *testing.T) {
	p := &PietrzakProof{T: 2_000_000}
	if got := p.MinElapsedTime(1_000_000); got != 2*time.Second {
		t.Fatalf("MinElapsedTime = %v, want 2s", got)
	}
	// Zero rate falls back to the 1M/s default.
	if got := p.MinElapsedTime(0); got != 2*time.Second {
		t.Fatalf("zero-rate MinElapsedTime = %v, want 2s", got)
	}
}

func TestVerifyMinDuration(t *testing.T) {
	v := testPietrzak(t, 1024)
	proof, err := v.Evaluate(big.NewInt(13))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// At one squaring per second, T=1024 represents ~17 minutes.
	if err := v.VerifyMinDuration(proof, time.Minute, 1); err != nil {
		t.Fatalf("sufficient duration rejected: %v", err)
	}
	if err := v.VerifyMinDuration(proof, time.Hour, 1); err != ErrInvalidParameters {
		t.Fatalf("insufficient duration: got %v, want ErrInvalidParameters", err)
	}

	bad := *proof
	bad.Output = new(big.Int).Add(proof.Output, big.NewInt(1))
	if err := v.VerifyMinDuration(&bad, time.Minute, 1); err != ErrInvalidProof {
		t.Fatalf("invalid proof: got %v, want ErrInvalidProof", err)
	}
}

func TestComputeWithDuration(t *testing.T) {
	v := testPietrzak(t, 8)
	proof, err := v.ComputeWithDuration(big.NewInt(3), 10*time.Millisecond, 10_000)
	if err != nil {
		t.Fatalf("ComputeWithDuration: %v", err)
	}
	if proof.T == 0 {
		t.Fatal("scaled T is zero")
	}
	if !v.Verify(proof) {
		t.Fatal("duration-scaled proof rejected")
	}
}

func TestCalibrateSquaringsPerSecond(t *testing.T) {
	rate, err := CalibrateSquaringsPerSecond(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("CalibrateSquaringsPerSecond: %v", err)
	}
	if rate == 0 {
		t.Fatal("calibrated rate is zero")
	}
	if _, err := CalibrateSquaringsPerSecond(100 * time.Microsecond); err == nil {
		t.Fatal("sub-millisecond calibration accepted")
	}
}

func TestPietrzakDeterministicProofs(t *testing.T) {
	v := testPietrzak(t, 64)
	x := big.NewInt(21)

	a, err := v.Evaluate(x)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	b, err := v.Evaluate(x)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if a.Output.Cmp(b.Output) != 0 {
		t.Fatal("same input gave different outputs")
	}
	for i := range a.Intermediates {
		if a.Intermediates[i].Cmp(b.Intermediates[i]) != 0 {
			t.Fatal("same input gave different intermediates")
		}
	}
}

func TestBitLength(t *testing.T) {
	cases := map[uint64]int{0: 0, 1: 1, 2: 2, 3: 2, 4: 3, 1023: 10, 1024: 11}
	for n, want := range cases {
		if got := bitLength(n); got != want {
			t.Fatalf("bitLength(%d) = %d, want %d", n, got, want)
		}
	}
}
