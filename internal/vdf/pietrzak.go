// This file implements the Pietrzak VDF: repeated squaring in an RSA group
// with a recursive halving proof, giving O(log T) verification instead of
// the O(T) recomputation the hash-based VDF in vdf.go requires.
//
// The construction follows Pietrzak's "Simple Verifiable Delay Functions"
// (2018): to prove y = x^(2^T) mod N, the prover sends the midpoint
// mu = x^(2^(T/2)) mod N, a Fiat-Shamir challenge r is derived from
// (x, mu, y), and the claim is reduced to x' = x^r*mu, y' = mu^r*y,
// T' = ceil(T/2). Recursing down to T=1 yields a proof of O(log T)
// group elements, each checked with two modular exponentiations by a
// small (Lambda-bit) exponent.
package vdf

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"math/bits"
	"time"
)

// ErrInvalidProof is returned when a VDF proof fails verification.
var ErrInvalidProof = errors.New("vdf: invalid proof")

// ErrInvalidParameters is returned when a proof does not meet the
// requested minimum duration or other parameter constraints.
var ErrInvalidParameters = errors.New("vdf: invalid parameters")

// rsaChallenge2048 is the RSA-2048 factoring challenge modulus. Nobody
// knows its factorization (or the challenge would have been claimed),
// which is exactly the "group of unknown order" the VDF needs.
var rsaChallenge2048, _ = new(big.Int).SetString(
	"25195908475657893494027183240048398571429282126204032027777137836043662020707595556264018525880784406918290641249515082189298559149176184502808489120072844992687392807287776735971418347270261896375014971824691165077613379859095700097330459748808428401797429100642458691817195118746121515172654632282216869987549182422433637259085141865462043576798423387184774447920739934236584823824281198163815010674810451660377306056201619676256133844143603833904414952634432190114657544454178424020924616515723350778707749817125772467962926386356373289912154831438167899885040445364023527381951378636564391212010397122822120720357",
	10)

// defaultModulus is the modulus used when no other is configured.
// Known-safe moduli are RSA challenge numbers: their factorization is
// unknown, so nobody can use the group's order to forge a proof.
var defaultModulus = rsaChallenge2048

// PietrzakParams configures a Pietrzak VDF instance.
type PietrzakParams struct {
	// N is the RSA modulus defining the group Z/NZ. Must be one of the
	// known-safe moduli unless AllowUntrustedModulus is set.
	N *big.Int

	// T is the number of sequential squarings (the delay parameter).
	T uint64

	// Lambda is the security parameter in bits for the Fiat-Shamir
	// challenge. 128 is the conventional choice.
	Lambda uint64

	// AllowUntrustedModulus bypasses the known-safe-modulus check.
	// Only use this for testing: a modulus whose factorization is
	// known to the prover lets them forge proofs for any T.
	AllowUntrustedModulus bool
}

// DefaultPietrzakParams returns parameters suitable for general use:
// the RSA-2048 challenge modulus, 1,000,000 squarings (~1 second at
// 1M squarings/sec), and a 128-bit challenge.
func DefaultPietrzakParams() PietrzakParams {
	return PietrzakParams{
		N:      defaultModulus,
		T:      1_000_000,
		Lambda: 128,
	}
}

// PietrzakVDF evaluates and verifies proofs for a fixed modulus.
type PietrzakVDF struct {
	params PietrzakParams
}

// NewPietrzakVDF constructs a VDF instance, validating the modulus.
func NewPietrzakVDF(params PietrzakParams) (*PietrzakVDF, error) {
	if params.N == nil {
		return nil, errors.New("vdf: modulus must not be nil")
	}
	if params.N.Sign() <= 0 {
		return nil, errors.New("vdf: modulus must be positive")
	}
	if params.T == 0 {
		return nil, errors.New("vdf: T must be greater than 0")
	}
	if params.Lambda == 0 {
		params.Lambda = 128
	}
	if !params.AllowUntrustedModulus && !IsKnownSafeModulus(params.N) {
		return nil, errors.New("vdf: modulus is not a known-safe RSA challenge number; " +
			"set AllowUntrustedModulus to use an arbitrary modulus")
	}

	return &PietrzakVDF{params: params}, nil
}

// KnownSafeModuli returns the RSA challenge numbers trusted to have an
// unknown factorization.
func KnownSafeModuli() []*big.Int {
	return []*big.Int{rsaChallenge2048}
}

// IsKnownSafeModulus reports whether n is one of the known-safe moduli.
func IsKnownSafeModulus(n *big.Int) bool {
	if n == nil {
		return false
	}
	for _, known := range KnownSafeModuli() {
		if n.Cmp(known) == 0 {
			return true
		}
	}
	return false
}

// PietrzakProof is a succinct proof that Output = Input^(2^T) mod N.
type PietrzakProof struct {
	Input  *big.Int
	Output *big.Int
	T      uint64

	// Intermediates holds the recursive halving proof: one midpoint
	// value per level, from T down to 1.
	Intermediates []*big.Int

	ComputeTime time.Duration
}

// Evaluate computes y = x^(2^T) mod N and generates the accompanying
// halving proof. This is the sequential, non-parallelizable delay.
func (v *PietrzakVDF) Evaluate(x *big.Int) (*PietrzakProof, error) {
	if x == nil || x.Sign() <= 0 {
		return nil, errors.New("vdf: input must be positive")
	}
	if x.Cmp(v.params.N) >= 0 {
		return nil, errors.New("vdf: input must be less than the modulus")
	}

	start := time.Now()
	N := v.params.N
	T := v.params.T

	y := repeatedSquare(x, N, T)

	intermediates := make([]*big.Int, 0, bitLength(T)+1)
	xi := new(big.Int).Set(x)
	yi := new(big.Int).Set(y)
	ti := T

	for ti > 1 {
		half := ti / 2
		mu := repeatedSquare(xi, N, half)
		intermediates = append(intermediates, mu)

		r := pietrzakChallenge(xi, mu, yi, v.params.Lambda)

		nextX := new(big.Int).Mod(new(big.Int).Mul(new(big.Int).Exp(xi, r, N), mu), N)
		nextY := new(big.Int).Mod(new(big.Int).Mul(new(big.Int).Exp(mu, r, N), yi), N)

		xi, yi = nextX, nextY
		ti -= half
	}

	return &PietrzakProof{
		Input:         x,
		Output:        y,
		T:             T,
		Intermediates: intermediates,
		ComputeTime:   time.Since(start),
	}, nil
}

// Verify checks a Pietrzak proof by replaying the halving reduction
// using the supplied intermediates: O(log T) modular exponentiations
// rather than the O(T) sequential squarings Evaluate performed.
func (v *PietrzakVDF) Verify(proof *PietrzakProof) bool {
	if proof == nil || proof.Input == nil || proof.Output == nil {
		return false
	}

	N := v.params.N
	xi := proof.Input
	yi := proof.Output
	ti := proof.T

	for _, mu := range proof.Intermediates {
		if mu == nil || ti <= 1 {
			return false
		}
		half := ti / 2
		r := pietrzakChallenge(xi, mu, yi, v.params.Lambda)

		xi = new(big.Int).Mod(new(big.Int).Mul(new(big.Int).Exp(xi, r, N), mu), N)
		yi = new(big.Int).Mod(new(big.Int).Mul(new(big.Int).Exp(mu, r, N), yi), N)
		ti -= half
	}

	if ti != 1 {
		return false
	}

	expected := new(big.Int).Mod(new(big.Int).Mul(xi, xi), N)
	return expected.Cmp(yi) == 0
}

// VerifyMinDuration verifies the proof and checks it represents at
// least minDuration of sequential work at squaringsPerSecond.
func (v *PietrzakVDF) VerifyMinDuration(proof *PietrzakProof, minDuration time.Duration, squaringsPerSecond uint64) error {
	if !v.Verify(proof) {
		return ErrInvalidProof
	}
	if proof.MinElapsedTime(squaringsPerSecond) < minDuration {
		return ErrInvalidParameters
	}
	return nil
}

// ComputeWithDuration evaluates the VDF for approximately the given
// duration at the supplied calibrated rate, overriding the instance's
// configured T.
func (v *PietrzakVDF) ComputeWithDuration(x *big.Int, duration time.Duration, squaringsPerSecond uint64) (*PietrzakProof, error) {
	if squaringsPerSecond == 0 {
		squaringsPerSecond = 1_000_000
	}

	t := uint64(duration.Seconds() * float64(squaringsPerSecond))
	if t == 0 {
		t = 1
	}

	scaled := &PietrzakVDF{params: PietrzakParams{
		N:                     v.params.N,
		T:                     t,
		Lambda:                v.params.Lambda,
		AllowUntrustedModulus: true,
	}}
	return scaled.Evaluate(x)
}

// GenerateRandomInput produces a uniformly random input in [2, N).
func (v *PietrzakVDF) GenerateRandomInput() (*big.Int, error) {
	upper := new(big.Int).Sub(v.params.N, big.NewInt(2))
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return nil, err
	}
	return n.Add(n, big.NewInt(2)), nil
}

// InputFromBytes deterministically derives a VDF input in [2, N) from
// arbitrary bytes, binding the VDF to specific content.
func (v *PietrzakVDF) InputFromBytes(data []byte) *big.Int {
	hash := sha256.Sum256(data)
	n := new(big.Int).SetBytes(hash[:])
	upper := new(big.Int).Sub(v.params.N, big.NewInt(2))
	n.Mod(n, upper)
	return n.Add(n, big.NewInt(2))
}

// PietrzakProofSize returns the encoded proof size in bytes.
func (p *PietrzakProof) PietrzakProofSize() int {
	encoded, err := p.Encode()
	if err != nil {
		return 0
	}
	return len(encoded)
}

// VerificationOps returns the number of modular exponentiations
// Verify performs: two per halving level.
func (p *PietrzakProof) VerificationOps() int {
	return 2 * len(p.Intermediates)
}

// MinElapsedTime returns the minimum wall-clock time this proof
// represents at the given squarings-per-second rate. A zero rate
// falls back to 1,000,000 squarings/sec.
func (p *PietrzakProof) MinElapsedTime(squaringsPerSecond uint64) time.Duration {
	if squaringsPerSecond == 0 {
		squaringsPerSecond = 1_000_000
	}
	seconds := float64(p.T) / float64(squaringsPerSecond)
	return time.Duration(seconds * float64(time.Second))
}

// Encode serializes the proof to bytes.
func (p *PietrzakProof) Encode() ([]byte, error) {
	inputBytes := p.Input.Bytes()
	outputBytes := p.Output.Bytes()

	size := 8 + 4 + len(inputBytes) + 4 + len(outputBytes) + 4
	for _, m := range p.Intermediates {
		size += 4 + len(m.Bytes())
	}
	size += 8

	buf := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint64(buf[off:], p.T)
	off += 8

	binary.BigEndian.PutUint32(buf[off:], uint32(len(inputBytes)))
	off += 4
	off += copy(buf[off:], inputBytes)

	binary.BigEndian.PutUint32(buf[off:], uint32(len(outputBytes)))
	off += 4
	off += copy(buf[off:], outputBytes)

	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Intermediates)))
	off += 4
	for _, m := range p.Intermediates {
		mb := m.Bytes()
		binary.BigEndian.PutUint32(buf[off:], uint32(len(mb)))
		off += 4
		off += copy(buf[off:], mb)
	}

	binary.BigEndian.PutUint64(buf[off:], uint64(p.ComputeTime))
	off += 8

	return buf[:off], nil
}

// DecodePietrzakProof deserializes a proof from bytes.
func DecodePietrzakProof(data []byte) (*PietrzakProof, error) {
	const minLen = 8 + 4 + 4 + 4 + 8
	if len(data) < minLen {
		return nil, errors.New("vdf: proof data too short")
	}

	off := 0
	readUint32 := func() (uint32, error) {
		if off+4 > len(data) {
			return 0, errors.New("vdf: proof data truncated")
		}
		v := binary.BigEndian.Uint32(data[off:])
		off += 4
		return v, nil
	}
	readBytes := func(n uint32) ([]byte, error) {
		if off+int(n) > len(data) {
			return nil, errors.New("vdf: proof data truncated")
		}
		b := data[off : off+int(n)]
		off += int(n)
		return b, nil
	}

	if off+8 > len(data) {
		return nil, errors.New("vdf: proof data truncated")
	}
	t := binary.BigEndian.Uint64(data[off:])
	off += 8

	inputLen, err := readUint32()
	if err != nil {
		return nil, err
	}
	inputBytes, err := readBytes(inputLen)
	if err != nil {
		return nil, err
	}

	outputLen, err := readUint32()
	if err != nil {
		return nil, err
	}
	outputBytes, err := readBytes(outputLen)
	if err != nil {
		return nil, err
	}

	count, err := readUint32()
	if err != nil {
		return nil, err
	}

	intermediates := make([]*big.Int, 0, count)
	for i := uint32(0); i < count; i++ {
		l, err := readUint32()
		if err != nil {
			return nil, err
		}
		b, err := readBytes(l)
		if err != nil {
			return nil, err
		}
		intermediates = append(intermediates, new(big.Int).SetBytes(b))
	}

	if off+8 > len(data) {
		return nil, errors.New("vdf: proof data truncated")
	}
	computeTime := binary.BigEndian.Uint64(data[off:])
	off += 8

	return &PietrzakProof{
		Input:         new(big.Int).SetBytes(inputBytes),
		Output:        new(big.Int).SetBytes(outputBytes),
		T:             t,
		Intermediates: intermediates,
		ComputeTime:   time.Duration(computeTime),
	}, nil
}

// CalibrateSquaringsPerSecond measures this machine's modular squaring
// throughput against the default modulus, for converting wall-clock
// durations into a T parameter.
func CalibrateSquaringsPerSecond(duration time.Duration) (uint64, error) {
	if duration < time.Millisecond {
		return 0, errors.New("vdf: calibration duration too short")
	}

	N := defaultModulus
	x := big.NewInt(2)

	count := uint64(0)
	start := time.Now()
	deadline := start.Add(duration)

	for time.Now().Before(deadline) {
		for i := 0; i < 100; i++ {
			x.Mod(x.Mul(x, x), N)
			count++
		}
	}

	elapsed := time.Since(start)
	return uint64(float64(count) / elapsed.Seconds()), nil
}

// repeatedSquare computes x^(2^iterations) mod N via sequential
// squaring. This is the actual delay: it cannot be parallelized or
// shortcut without knowing the group's order.
func repeatedSquare(x, N *big.Int, iterations uint64) *big.Int {
	result := new(big.Int).Set(x)
	for i := uint64(0); i < iterations; i++ {
		result.Mod(result.Mul(result, result), N)
	}
	return result
}

// pietrzakChallenge derives the Fiat-Shamir challenge r for a halving
// step from (xi, mu, yi), reduced to Lambda bits.
func pietrzakChallenge(xi, mu, yi *big.Int, lambda uint64) *big.Int {
	if lambda == 0 {
		lambda = 128
	}
	needed := (lambda + 7) / 8

	var buf []byte
	for counter := uint32(0); uint64(len(buf)) < needed; counter++ {
		h := sha256.New()
		h.Write(xi.Bytes())
		h.Write(mu.Bytes())
		h.Write(yi.Bytes())
		var ctrBytes [4]byte
		binary.BigEndian.PutUint32(ctrBytes[:], counter)
		h.Write(ctrBytes[:])
		buf = append(buf, h.Sum(nil)...)
	}
	buf = buf[:needed]

	r := new(big.Int).SetBytes(buf)
	if uint64(r.BitLen()) > lambda {
		r.Rsh(r, uint(uint64(r.BitLen())-lambda))
	}
	if r.Sign() == 0 {
		r.SetInt64(1)
	}
	return r
}

// bitLength returns the number of bits required to represent n.
func bitLength(n uint64) int {
	return bits.Len64(n)
}
