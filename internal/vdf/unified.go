package vdf

import (
	"math/big"
	"time"
)

// VDF abstracts over the two delay-function backends: the Pietrzak
// construction with O(log T) verification and the sequential-hash
// chain whose verification is O(T).
type VDF interface {
	Compute(input *big.Int) (UnifiedProof, error)
	ComputeForDuration(input *big.Int, duration time.Duration) (UnifiedProof, error)
	Verify(proof UnifiedProof) bool
	VerifyMinDuration(proof UnifiedProof, minDuration time.Duration) error
}

// UnifiedProof is what either backend hands back: a proof that knows
// its own time floor, wire size, and verification cost.
type UnifiedProof interface {
	MinElapsedTime() time.Duration
	ProofSize() int
	VerificationOps() int
	Encode() ([]byte, error)
	// Type reports the backend: "pietrzak" or "hash".
	Type() string
}

// Config selects and calibrates the backend.
type Config struct {
	// UsePietrzak picks the succinct backend; false falls back to the
	// hash chain.
	UsePietrzak bool

	// SquaringsPerSecond calibrates the Pietrzak backend to this
	// machine; CalibrateSquaringsPerSecond measures it.
	SquaringsPerSecond uint64

	// DefaultT is the sequential-squaring count used by Compute.
	DefaultT uint64

	// HashIterationsPerSecond calibrates the hash backend.
	HashIterationsPerSecond uint64
}

// DefaultConfig uses Pietrzak with ~1-second defaults.
func DefaultConfig() Config {
	return Config{
		UsePietrzak:             true,
		SquaringsPerSecond:      1_000_000,
		DefaultT:                1_000_000,
		HashIterationsPerSecond: 1_000_000,
	}
}

// UnifiedVDF routes the VDF interface onto the configured backend.
type UnifiedVDF struct {
	config     Config
	pietrzak   *PietrzakVDF
	hashParams Parameters
}

// NewDefault builds a UnifiedVDF from DefaultConfig.
func NewDefault() (*UnifiedVDF, error) {
	return New(DefaultConfig())
}

// New builds a UnifiedVDF from the given configuration.
func New(config Config) (*UnifiedVDF, error) {
	u := &UnifiedVDF{config: config}

	if config.UsePietrzak {
		p, err := NewPietrzakVDF(PietrzakParams{
			N:      defaultModulus,
			T:      config.DefaultT,
			Lambda: 128,
		})
		if err != nil {
			return nil, err
		}
		u.pietrzak = p
	}

	u.hashParams = Parameters{
		IterationsPerSecond: config.HashIterationsPerSecond,
		MinIterations:       config.HashIterationsPerSecond / 10,
		MaxIterations:       config.HashIterationsPerSecond * 3600,
	}
	return u, nil
}

// Compute evaluates the backend at its default time parameter.
func (u *UnifiedVDF) Compute(input *big.Int) (UnifiedProof, error) {
	if u.config.UsePietrzak {
		proof, err := u.pietrzak.Evaluate(input)
		if err != nil {
			return nil, err
		}
		return &pietrzakProofWrapper{proof: proof, sqPerSecond: u.config.SquaringsPerSecond}, nil
	}

	var inputHash [32]byte
	copy(inputHash[:], input.Bytes())
	return &hashProofWrapper{
		proof:  ComputeIterations(inputHash, u.hashParams.MinIterations),
		params: u.hashParams,
	}, nil
}

// ComputeForDuration evaluates for roughly the given wall-clock target.
func (u *UnifiedVDF) ComputeForDuration(input *big.Int, duration time.Duration) (UnifiedProof, error) {
	if u.config.UsePietrzak {
		proof, err := u.pietrzak.ComputeWithDuration(input, duration, u.config.SquaringsPerSecond)
		if err != nil {
			return nil, err
		}
		return &pietrzakProofWrapper{proof: proof, sqPerSecond: u.config.SquaringsPerSecond}, nil
	}

	var inputHash [32]byte
	copy(inputHash[:], input.Bytes())
	proof, err := Compute(inputHash, duration, u.hashParams)
	if err != nil {
		return nil, err
	}
	return &hashProofWrapper{proof: proof, params: u.hashParams}, nil
}

// Verify dispatches to the backend that produced the proof.
func (u *UnifiedVDF) Verify(proof UnifiedProof) bool {
	switch p := proof.(type) {
	case *pietrzakProofWrapper:
		return u.pietrzak.Verify(p.proof)
	case *hashProofWrapper:
		return Verify(p.proof)
	default:
		return false
	}
}

// VerifyMinDuration verifies the proof and then checks its time floor
// against the required minimum.
func (u *UnifiedVDF) VerifyMinDuration(proof UnifiedProof, minDuration time.Duration) error {
	if !u.Verify(proof) {
		return ErrInvalidProof
	}
	if proof.MinElapsedTime() < minDuration {
		return ErrInvalidParameters
	}
	return nil
}

// InputFromBytes maps arbitrary bytes into the backend's input domain.
func (u *UnifiedVDF) InputFromBytes(data []byte) *big.Int {
	if u.config.UsePietrzak {
		return u.pietrzak.InputFromBytes(data)
	}
	return new(big.Int).SetBytes(data)
}

type pietrzakProofWrapper struct {
	proof       *PietrzakProof
	sqPerSecond uint64
}

func (p *pietrzakProofWrapper) MinElapsedTime() time.Duration {
	return p.proof.MinElapsedTime(p.sqPerSecond)
}

func (p *pietrzakProofWrapper) ProofSize() int { return p.proof.PietrzakProofSize() }

func (p *pietrzakProofWrapper) VerificationOps() int { return p.proof.VerificationOps() }

func (p *pietrzakProofWrapper) Encode() ([]byte, error) { return p.proof.Encode() }

func (p *pietrzakProofWrapper) Type() string { return "pietrzak" }

type hashProofWrapper struct {
	proof  *Proof
	params Parameters
}

func (p *hashProofWrapper) MinElapsedTime() time.Duration {
	return p.proof.MinElapsedTime(p.params)
}

func (p *hashProofWrapper) ProofSize() int { return 80 }

func (p *hashProofWrapper) VerificationOps() int { return int(p.proof.Iterations) }

func (p *hashProofWrapper) Encode() ([]byte, error) { return p.proof.Encode(), nil }

func (p *hashProofWrapper) Type() string { return "hash" }

// CompareVerificationEfficiency returns (pietrzakOps, hashOps) for a
// time parameter t: two group exponentiations per halving level versus
// the full t hashes.
func CompareVerificationEfficiency(t uint64) (int, int) {
	return 2 * bitLength(t), int(t)
}
