// This file implements VDF proof aggregation: replacing
// per-checkpoint VDF proofs with a single aggregate that supports
// cheaper-than-O(n) verification of an entire checkpoint chain.
//
// MerkleVdfTree is the only method implemented end-to-end here: a
// binary Merkle tree over leaf hashes H(input‖output‖iterations),
// built and walked with the same HashLeaf/HashInternal primitives
// internal/mmr uses for its own append-only log, so sampled inclusion
// proofs verify in O(log n) instead of recomputing every VDF. The
// SNARK/STARK methods are recognized as aggregate proof kinds (their
// wire format round-trips) but their proving/verification requires an
// external circuit backend this module does not vendor; constructing
// one here returns ErrAggregationUnsupported rather than faking a
// proof.
package vdf

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"witnessd/internal/mmr"
)

// AggregationMethod identifies how a VdfAggregateProof was produced.
type AggregationMethod string

const (
	AggregationMerkleTree   AggregationMethod = "merkle_vdf_tree"
	AggregationSnarkGroth16 AggregationMethod = "snark_groth16"
	AggregationSnarkPlonk   AggregationMethod = "snark_plonk"
	AggregationStark        AggregationMethod = "stark"
)

// ErrAggregationUnsupported is returned by aggregation methods this
// module cannot produce or verify without an external proving backend.
var ErrAggregationUnsupported = errors.New("vdf: aggregation method requires an external circuit backend")

// MerkleSample is one sampled-and-verified leaf in a MerkleVdfTree
// aggregate, used for probabilistic ("Sampled") verification.
type MerkleSample struct {
	CheckpointIndex uint32
	MerklePath      []MerklePathStep
	VDFVerified     bool
}

// MerklePathStep is one sibling hash on the path from a leaf to the
// aggregate root.
type MerklePathStep struct {
	Hash    [32]byte
	IsRight bool // true if Hash is the right sibling at this level
}

// AggregateProof is a VDF aggregate covering a contiguous run of
// checkpoints.
type AggregateProof struct {
	CheckpointsCovered uint32
	Method             AggregationMethod
	RootHash           [32]byte
	TotalIterations    uint64
	SampledProofs      []MerkleSample
}

// MerkleAggregator accumulates per-checkpoint VDF proofs into a
// MerkleVdfTree aggregate.
type MerkleAggregator struct {
	leaves          [][32]byte
	totalIterations uint64
}

// NewMerkleAggregator creates an empty aggregator.
func NewMerkleAggregator() *MerkleAggregator {
	return &MerkleAggregator{}
}

// leafHash computes H(input‖output‖iterations) for one VDF proof.
func leafHash(proof *Proof) [32]byte {
	buf := make([]byte, 32+32+8)
	copy(buf[0:32], proof.Input[:])
	copy(buf[32:64], proof.Output[:])
	binary.BigEndian.PutUint64(buf[64:72], proof.Iterations)
	return mmr.HashLeaf(buf)
}

// AddProof appends a checkpoint's VDF proof to the aggregate.
func (a *MerkleAggregator) AddProof(proof *Proof) {
	a.leaves = append(a.leaves, leafHash(proof))
	a.totalIterations += proof.Iterations
}

// Build finalizes the aggregate, computing the Merkle root over all
// added proofs.
func (a *MerkleAggregator) Build() (*AggregateProof, error) {
	if len(a.leaves) == 0 {
		return nil, errors.New("vdf: no proofs added to aggregator")
	}

	levels := buildMerkleLevels(a.leaves)
	root := levels[len(levels)-1][0]

	return &AggregateProof{
		CheckpointsCovered: uint32(len(a.leaves)),
		Method:             AggregationMerkleTree,
		RootHash:           root,
		TotalIterations:    a.totalIterations,
	}, nil
}

// Sample adds a sampled inclusion proof for the checkpoint at index,
// for probabilistic ("Sampled") verification without recomputing every
// VDF in the chain.
func (a *MerkleAggregator) Sample(index int, verified bool) (MerkleSample, error) {
	if index < 0 || index >= len(a.leaves) {
		return MerkleSample{}, errors.New("vdf: sample index out of range")
	}

	levels := buildMerkleLevels(a.leaves)
	path := merklePathFor(levels, index)

	return MerkleSample{
		CheckpointIndex: uint32(index),
		MerklePath:      path,
		VDFVerified:     verified,
	}, nil
}

// VerifySample checks that a sampled VDF proof's leaf is included
// under the aggregate root, and that it was itself verified.
func VerifySample(agg *AggregateProof, proof *Proof, sample MerkleSample) bool {
	if agg == nil || agg.Method != AggregationMerkleTree {
		return false
	}
	if !sample.VDFVerified {
		return false
	}

	current := leafHash(proof)
	for _, step := range sample.MerklePath {
		if step.IsRight {
			current = mmr.HashInternal(current, step.Hash)
		} else {
			current = mmr.HashInternal(step.Hash, current)
		}
	}

	return current == agg.RootHash
}

// buildMerkleLevels builds a bottom-up Merkle tree over leaves. A
// level with an odd node out promotes it unchanged to the next level
// rather than duplicating it.
func buildMerkleLevels(leaves [][32]byte) [][][32]byte {
	levels := [][][32]byte{leaves}
	current := leaves

	for len(current) > 1 {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, mmr.HashInternal(current[i], current[i+1]))
			} else {
				next = append(next, current[i])
			}
		}
		levels = append(levels, next)
		current = next
	}

	return levels
}

// merklePathFor collects the sibling hashes from leaf index up to the
// root across the given levels.
func merklePathFor(levels [][][32]byte, index int) []MerklePathStep {
	var path []MerklePathStep
	idx := index

	for level := 0; level < len(levels)-1; level++ {
		nodes := levels[level]
		sibling := idx ^ 1
		if sibling < len(nodes) {
			path = append(path, MerklePathStep{
				Hash:    nodes[sibling],
				IsRight: idx%2 == 0,
			})
		}
		idx /= 2
	}

	return path
}

// SampleIndices derives up to k distinct proof indices in [0, n) from
// an aggregate root. The derivation is deterministic so prover and
// verifier agree on the sample, and it depends on the root so the
// sample cannot be chosen before the proofs are fixed.
func SampleIndices(root [32]byte, k, n int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	seen := make(map[int]bool, k)
	indices := make([]int, 0, k)
	for counter := uint64(0); len(indices) < k; counter++ {
		buf := make([]byte, 40)
		copy(buf[:32], root[:])
		binary.BigEndian.PutUint64(buf[32:], counter)
		digest := sha256.Sum256(buf)
		idx := int(binary.BigEndian.Uint64(digest[:8]) % uint64(n))
		if !seen[idx] {
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	return indices
}

// VerificationComplexity describes the asymptotic verification cost
// of an aggregation method.
func (m AggregationMethod) VerificationComplexity() string {
	switch m {
	case AggregationMerkleTree:
		return "O(k log n) for k sampled checkpoints out of n"
	case AggregationSnarkGroth16, AggregationSnarkPlonk:
		return "O(1)"
	case AggregationStark:
		return "O(log n)"
	default:
		return "unknown"
	}
}

// RequiresTrustedSetup reports whether the method depends on a
// trusted-setup ceremony (SNARKs do; STARKs and Merkle trees don't).
func (m AggregationMethod) RequiresTrustedSetup() bool {
	return m == AggregationSnarkGroth16 || m == AggregationSnarkPlonk
}
