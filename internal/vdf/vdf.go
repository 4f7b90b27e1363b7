// Package vdf implements verifiable delay functions for proving that
// real wall-clock time passed between checkpoints.
//
// The core construction is iterated SHA-256: output = SHA256^n(input).
// The chain cannot be parallelized, so n iterations put a hard floor
// under the elapsed time of any honest prover. Verification re-runs
// the chain; the Pietrzak variant in this package trades that linear
// cost for O(log n) at the price of an RSA group assumption.
package vdf

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"
)

// Proof records one completed delay computation.
type Proof struct {
	Input      [32]byte
	Output     [32]byte
	Iterations uint64
	Duration   time.Duration
}

// Parameters maps wall-clock targets onto iteration counts.
type Parameters struct {
	// IterationsPerSecond is the calibrated sequential hash rate.
	IterationsPerSecond uint64

	// MinIterations floors every proof.
	MinIterations uint64

	// MaxIterations caps the computation; exceeding it is a
	// parameter error, not a clamp.
	MaxIterations uint64
}

// DefaultParameters suits modern hardware; Calibrate per machine.
func DefaultParameters() Parameters {
	return Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100_000,
		MaxIterations:       3_600_000_000,
	}
}

// Calibrate measures this machine's sequential SHA-256 rate and derives
// parameters from it. Run once during setup.
func Calibrate(duration time.Duration) (Parameters, error) {
	if duration < 100*time.Millisecond {
		return Parameters{}, errors.New("calibration duration too short")
	}

	var hash [32]byte
	copy(hash[:], "witnessd-calibration-input-v1")

	iterations := uint64(0)
	start := time.Now()
	deadline := start.Add(duration)
	for time.Now().Before(deadline) {
		// Batches keep the time.Now() overhead out of the measurement.
		for i := 0; i < 1000; i++ {
			hash = sha256.Sum256(hash[:])
		}
		iterations += 1000
	}

	rate := uint64(float64(iterations) / time.Since(start).Seconds())
	return Parameters{
		IterationsPerSecond: rate,
		MinIterations:       rate / 10,
		MaxIterations:       rate * 3600,
	}, nil
}

// targetIterations converts a duration target into an iteration count:
// ceil(target-seconds * iterations-per-second), clamped to the floor
// and rejected above the maximum.
func targetIterations(targetDuration time.Duration, params Parameters) (uint64, error) {
	iterations := uint64(math.Ceil(targetDuration.Seconds() * float64(params.IterationsPerSecond)))
	if iterations < params.MinIterations {
		iterations = params.MinIterations
	}
	if iterations > params.MaxIterations {
		return 0, fmt.Errorf("target duration exceeds maximum (%d iterations)", params.MaxIterations)
	}
	return iterations, nil
}

// computeChain runs the sequential hash chain.
func computeChain(input [32]byte, iterations uint64) [32]byte {
	hash := input
	for i := uint64(0); i < iterations; i++ {
		hash = sha256.Sum256(hash[:])
	}
	return hash
}

// Compute produces a proof whose computation takes roughly targetDuration.
func Compute(input [32]byte, targetDuration time.Duration, params Parameters) (*Proof, error) {
	iterations, err := targetIterations(targetDuration, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	output := computeChain(input, iterations)
	return &Proof{
		Input:      input,
		Output:     output,
		Iterations: iterations,
		Duration:   time.Since(start),
	}, nil
}

// computeChainCancellable observes ctx every 10,000 iterations.
// Cancellation lands only at iteration boundaries, never mid-hash.
func computeChainCancellable(ctx context.Context, input [32]byte, iterations uint64) ([32]byte, uint64, error) {
	const checkEvery = 10_000
	hash := input
	var i uint64
	for ; i < iterations; i++ {
		if i%checkEvery == 0 {
			select {
			case <-ctx.Done():
				return hash, i, ctx.Err()
			default:
			}
		}
		hash = sha256.Sum256(hash[:])
	}
	return hash, i, nil
}

// ComputeContext is Compute with cooperative cancellation. On
// cancellation the partial proof comes back alongside the context
// error, with Iterations reflecting how many hashes actually ran.
func ComputeContext(ctx context.Context, input [32]byte, targetDuration time.Duration, params Parameters) (*Proof, error) {
	iterations, err := targetIterations(targetDuration, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	output, ran, cerr := computeChainCancellable(ctx, input, iterations)
	proof := &Proof{
		Input:      input,
		Output:     output,
		Iterations: ran,
		Duration:   time.Since(start),
	}
	return proof, cerr
}

// ComputeIterations produces a proof with exactly the given iteration count.
func ComputeIterations(input [32]byte, iterations uint64) *Proof {
	start := time.Now()
	output := computeChain(input, iterations)
	return &Proof{
		Input:      input,
		Output:     output,
		Iterations: iterations,
		Duration:   time.Since(start),
	}
}

// Verify re-runs the chain and compares the output. Takes as long as
// the original computation.
func Verify(proof *Proof) bool {
	return computeChain(proof.Input, proof.Iterations) == proof.Output
}

// VerifyWithProgress is Verify with percentage reports on a channel,
// for long verifications that drive a UI. The channel is closed when
// verification completes.
func VerifyWithProgress(proof *Proof, progress chan<- float64) bool {
	hash := proof.Input
	reportInterval := proof.Iterations / 100
	if reportInterval == 0 {
		reportInterval = 1
	}

	for i := uint64(0); i < proof.Iterations; i++ {
		hash = sha256.Sum256(hash[:])
		if progress != nil && i%reportInterval == 0 {
			select {
			case progress <- float64(i) / float64(proof.Iterations):
			default:
			}
		}
	}
	if progress != nil {
		close(progress)
	}
	return hash == proof.Output
}

// MinElapsedTime is the wall-clock floor this proof places under any
// honest prover: iterations divided by the calibrated rate.
func (p *Proof) MinElapsedTime(params Parameters) time.Duration {
	seconds := float64(p.Iterations) / float64(params.IterationsPerSecond)
	return time.Duration(seconds * float64(time.Second))
}

// Encode renders the fixed 80-byte wire form:
// input[32] || output[32] || iterations_be[8] || duration_nanos_be[8].
func (p *Proof) Encode() []byte {
	buf := make([]byte, 80)
	copy(buf[:32], p.Input[:])
	copy(buf[32:64], p.Output[:])
	binary.BigEndian.PutUint64(buf[64:72], p.Iterations)
	binary.BigEndian.PutUint64(buf[72:80], uint64(p.Duration))
	return buf
}

// DecodeProof parses the 80-byte wire form.
func DecodeProof(data []byte) (*Proof, error) {
	if len(data) < 80 {
		return nil, errors.New("proof data too short")
	}
	p := &Proof{
		Iterations: binary.BigEndian.Uint64(data[64:72]),
		Duration:   time.Duration(binary.BigEndian.Uint64(data[72:80])),
	}
	copy(p.Input[:], data[:32])
	copy(p.Output[:], data[32:64])
	return p, nil
}

// BatchVerifier verifies many proofs concurrently. Each individual
// chain is inherently sequential; the parallelism is across proofs.
type BatchVerifier struct {
	workers int
}

// NewBatchVerifier sizes the worker pool; 0 means GOMAXPROCS.
func NewBatchVerifier(workers int) *BatchVerifier {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &BatchVerifier{workers: workers}
}

// VerifyResult is the outcome for one proof in a batch.
type VerifyResult struct {
	Index int
	Valid bool
	Error error
}

// VerifyAll verifies the proofs on the pool and returns per-proof results.
func (bv *BatchVerifier) VerifyAll(proofs []*Proof) []VerifyResult {
	results := make([]VerifyResult, len(proofs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, bv.workers)
	for i, proof := range proofs {
		wg.Add(1)
		go func(idx int, p *Proof) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if p == nil {
				results[idx] = VerifyResult{Index: idx, Error: errors.New("nil proof")}
				return
			}
			results[idx] = VerifyResult{Index: idx, Valid: Verify(p)}
		}(i, proof)
	}
	wg.Wait()
	return results
}

// ContinuationInput derives the first checkpoint's VDF input for a
// continuation packet: H(prev-chain-hash || content-hash || series-id
// || le32(sequence)). The binding chains packet N to packet N-1's
// final state.
func ContinuationInput(prevChainHash, contentHash [32]byte, seriesID [16]byte, sequence uint32) [32]byte {
	h := sha256.New()
	h.Write(prevChainHash[:])
	h.Write(contentHash[:])
	h.Write(seriesID[:])
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], sequence)
	h.Write(buf[:])

	var out [32]byte
	h.Sum(out[:0])
	return out
}
