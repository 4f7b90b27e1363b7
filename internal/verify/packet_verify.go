// Package verify provides comprehensive evidence packet verification.
//
// This module implements the verifier pipeline that can independently
// verify evidence packets without requiring daemon access. It supports
// all evidence sections and produces a detailed report.
package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"witnessd/internal/anchors"
	"witnessd/internal/evidence"
	"witnessd/internal/mmr"
	"witnessd/internal/signer"
	"witnessd/internal/vdf"
)

// Common verification errors
var (
	ErrNilPacket                   = errors.New("verify: nil evidence packet")
	ErrInvalidVersion              = errors.New("verify: unsupported packet version")
	ErrChainBroken                 = errors.New("verify: checkpoint chain integrity violated")
	ErrVDFVerificationFailed       = errors.New("verify: VDF proof verification failed")
	ErrSignatureVerificationFailed = errors.New("verify: signature verification failed")
	ErrMMRProofInvalid             = errors.New("verify: MMR inclusion proof invalid")
	ErrAnchorInvalid               = errors.New("verify: external anchor verification failed")
	ErrTimestampAnomalous          = errors.New("verify: timestamp anomaly detected")
	ErrTamperDetected              = errors.New("verify: evidence tampering detected")
)

// VerificationLevel specifies depth of verification.
type VerificationLevel int

const (
	// LevelQuick performs fast structural checks only.
	LevelQuick VerificationLevel = iota

	// LevelStandard performs full cryptographic verification.
	LevelStandard

	// LevelForensic performs deep forensic analysis including timing checks.
	LevelForensic

	// LevelParanoid performs all checks including external anchor verification.
	LevelParanoid
)

func (l VerificationLevel) String() string {
	switch l {
	case LevelQuick:
		return "quick"
	case LevelStandard:
		return "standard"
	case LevelForensic:
		return "forensic"
	case LevelParanoid:
		return "paranoid"
	default:
		return "unknown"
	}
}

// ComponentStatus represents the verification status of a single component.
type ComponentStatus string

const (
	StatusPassed  ComponentStatus = "passed"
	StatusFailed  ComponentStatus = "failed"
	StatusSkipped ComponentStatus = "skipped"
	StatusWarning ComponentStatus = "warning"
	StatusPending ComponentStatus = "pending"
)

// ComponentResult contains the result of verifying a single component.
type ComponentResult struct {
	Component   string          `json:"component"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
	Duration    time.Duration   `json:"duration_ns"`
	Error       string          `json:"error,omitempty"`
	Remediation string          `json:"remediation,omitempty"`
}

// VerificationReport contains the complete verification results.
type VerificationReport struct {
	Valid      bool    `json:"valid"`
	Level      VerificationLevel `json:"level"`
	Confidence float64 `json:"confidence"` // 0.0 - 1.0

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`

	PacketVersion int       `json:"packet_version"`
	ExportedAt    time.Time `json:"exported_at"`
	Strength      string    `json:"strength"`

	DocumentTitle string `json:"document_title"`
	DocumentHash  string `json:"document_hash"`
	ChainHash     string `json:"chain_hash"`

	Components []ComponentResult `json:"components"`

	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Skipped  int `json:"skipped"`

	TamperIndicators []string `json:"tamper_indicators,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`

	EvidenceClass string `json:"evidence_class"` // A, B, C, D, X
	ClassReason   string `json:"class_reason"`
}

// VDF verification modes. Full re-runs every checkpoint's hash chain;
// Sampled checks the packet's VDF aggregate root and re-runs only a
// deterministic sample of the underlying chains.
const (
	VDFModeFull    = "full"
	VDFModeSampled = "sampled"
)

// PacketVerifier performs comprehensive evidence packet verification.
type PacketVerifier struct {
	level         VerificationLevel
	vdfParams     vdf.Parameters
	vdfMode       string
	vdfSampleSize int
	timeout       time.Duration
	parallelism   int

	anchorRegistry *anchors.Registry

	mu      sync.Mutex
	results []ComponentResult
}

// VerifierOption configures the verifier.
type VerifierOption func(*PacketVerifier)

// WithLevel sets the verification level.
func WithLevel(level VerificationLevel) VerifierOption {
	return func(v *PacketVerifier) { v.level = level }
}

// WithVDFParams sets VDF parameters for verification.
func WithVDFParams(params vdf.Parameters) VerifierOption {
	return func(v *PacketVerifier) { v.vdfParams = params }
}

// WithVDFMode selects full or sampled VDF verification. sampleSize is
// the number of checkpoints whose hash chains are re-run in sampled
// mode; values < 1 fall back to 3.
func WithVDFMode(mode string, sampleSize int) VerifierOption {
	return func(v *PacketVerifier) {
		v.vdfMode = mode
		if sampleSize > 0 {
			v.vdfSampleSize = sampleSize
		}
	}
}

// WithTimeout sets verification timeout.
func WithTimeout(timeout time.Duration) VerifierOption {
	return func(v *PacketVerifier) { v.timeout = timeout }
}

// WithAnchorRegistry sets the anchor registry for external verification.
func WithAnchorRegistry(registry *anchors.Registry) VerifierOption {
	return func(v *PacketVerifier) { v.anchorRegistry = registry }
}

// WithParallelism sets the number of parallel verification workers.
func WithParallelism(n int) VerifierOption {
	return func(v *PacketVerifier) {
		if n > 0 {
			v.parallelism = n
		}
	}
}

// NewPacketVerifier creates a new evidence packet verifier.
func NewPacketVerifier(opts ...VerifierOption) *PacketVerifier {
	v := &PacketVerifier{
		level:         LevelStandard,
		vdfParams:     vdf.DefaultParameters(),
		vdfMode:       VDFModeFull,
		vdfSampleSize: 3,
		timeout:       5 * time.Minute,
		parallelism:   4,
		results:       make([]ComponentResult, 0),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify performs complete verification of an evidence packet.
func (v *PacketVerifier) Verify(ctx context.Context, packet *evidence.Packet) (*VerificationReport, error) {
	if packet == nil {
		return nil, ErrNilPacket
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	report := &VerificationReport{
		StartedAt:     time.Now(),
		Level:         v.level,
		PacketVersion: packet.Version,
		ExportedAt:    packet.ExportedAt,
		Strength:      packet.Strength.String(),
		DocumentTitle: packet.Document.Title,
		DocumentHash:  packet.Document.FinalHash,
		ChainHash:     packet.ChainHash,
		Components:    make([]ComponentResult, 0),
	}

	v.mu.Lock()
	v.results = make([]ComponentResult, 0)
	v.mu.Unlock()

	v.verifyStructure(ctx, packet)
	v.verifyChainIntegrity(ctx, packet)

	if v.level >= LevelStandard {
		v.verifyVDFProofs(ctx, packet)
		v.verifyMMRRoot(ctx, packet)
		v.verifyKeyHierarchy(ctx, packet)
		v.verifyCollaborationCoverage(ctx, packet)
		v.verifyContinuation(ctx, packet)
		v.verifyProvenance(ctx, packet)
		v.verifyPolicy(ctx, packet)
	}

	if v.level >= LevelForensic {
		v.verifyTimestampConsistency(ctx, packet)
		v.verifyForensicPatterns(ctx, packet)
	}

	if v.level >= LevelParanoid {
		v.verifyExternalAnchors(ctx, packet)
	}

	v.mu.Lock()
	report.Components = make([]ComponentResult, len(v.results))
	copy(report.Components, v.results)
	v.mu.Unlock()

	v.calculateSummary(report)

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	return report, nil
}

func (v *PacketVerifier) addResult(result ComponentResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = append(v.results, result)
}

// verifyStructure checks packet structure and metadata.
func (v *PacketVerifier) verifyStructure(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "structure", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.Version < 1 || packet.Version > 2 {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("unsupported version: %d", packet.Version)
		result.Remediation = "Ensure packet was created with a compatible version"
		return
	}
	result.Details["version"] = packet.Version

	if packet.Document.Title == "" {
		result.Status = StatusFailed
		result.Error = "missing document title"
		return
	}

	if packet.Document.FinalHash == "" {
		result.Status = StatusFailed
		result.Error = "missing document hash"
		return
	}

	if len(packet.Checkpoints) == 0 {
		result.Status = StatusFailed
		result.Error = "no checkpoints in packet"
		return
	}

	now := time.Now()
	if packet.ExportedAt.After(now.Add(time.Hour)) {
		result.Status = StatusWarning
		result.Message = "packet export time is in the future"
	}

	result.Details["checkpoints"] = len(packet.Checkpoints)
	result.Details["strength"] = packet.Strength.String()
	result.Message = fmt.Sprintf("structure valid with %d checkpoints", len(packet.Checkpoints))
}

// verifyChainIntegrity verifies the checkpoint chain is unbroken.
func (v *PacketVerifier) verifyChainIntegrity(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "chain_integrity", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	var prevHash string
	zeroHash := hex.EncodeToString(make([]byte, 32))

	for i, cp := range packet.Checkpoints {
		select {
		case <-ctx.Done():
			result.Status = StatusSkipped
			result.Message = "verification cancelled"
			return
		default:
		}

		if i == 0 {
			if cp.PreviousHash != zeroHash {
				result.Status = StatusFailed
				result.Error = fmt.Sprintf("checkpoint 0: non-zero previous hash: %s", cp.PreviousHash)
				result.Remediation = "First checkpoint must have zero previous hash"
				return
			}
		} else {
			if cp.PreviousHash != prevHash {
				result.Status = StatusFailed
				result.Error = fmt.Sprintf("checkpoint %d: broken chain link (expected %s, got %s)",
					i, prevHash, cp.PreviousHash)
				result.Remediation = "Chain has been tampered with or corrupted"
				return
			}
		}

		if cp.Ordinal != uint64(i) {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: ordinal mismatch (expected %d, got %d)", i, i, cp.Ordinal)
			return
		}

		prevHash = cp.CheckpointHash
	}

	if len(packet.Checkpoints) > 0 {
		lastHash := packet.Checkpoints[len(packet.Checkpoints)-1].CheckpointHash
		if lastHash != packet.ChainHash {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("chain hash mismatch: final checkpoint %s != chain hash %s", lastHash, packet.ChainHash)
			return
		}
	}

	result.Details["chain_length"] = len(packet.Checkpoints)
	result.Details["final_hash"] = prevHash
	result.Message = fmt.Sprintf("chain integrity verified for %d checkpoints", len(packet.Checkpoints))
}

// verifyVDFProofs verifies all VDF proofs in the checkpoints.
func (v *PacketVerifier) verifyVDFProofs(ctx context.Context, packet *evidence.Packet) {
	if v.vdfMode == VDFModeSampled && packet.VDFAggregate != nil {
		v.verifyVDFSampled(ctx, packet)
		return
	}

	start := time.Now()
	result := ComponentResult{Component: "vdf_proofs", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	verified := 0
	skipped := 0
	totalTime := time.Duration(0)

	for i, cp := range packet.Checkpoints {
		select {
		case <-ctx.Done():
			result.Status = StatusSkipped
			result.Message = "verification cancelled"
			return
		default:
		}

		if cp.VDFIterations == 0 || cp.VDFInput == "" || cp.VDFOutput == "" {
			skipped++
			continue
		}

		inputBytes, err := hex.DecodeString(cp.VDFInput)
		if err != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: invalid VDF input hex: %v", i, err)
			return
		}

		outputBytes, err := hex.DecodeString(cp.VDFOutput)
		if err != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: invalid VDF output hex: %v", i, err)
			return
		}

		var input, output [32]byte
		copy(input[:], inputBytes)
		copy(output[:], outputBytes)

		proof := &vdf.Proof{Input: input, Output: output, Iterations: cp.VDFIterations}

		if !vdf.Verify(proof) {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: VDF verification failed", i)
			result.Remediation = "VDF proof is invalid - possible tampering or computation error"
			return
		}

		verified++
		totalTime += cp.ElapsedTime
	}

	result.Details["verified"] = verified
	result.Details["skipped"] = skipped
	result.Details["total_elapsed"] = totalTime.String()

	if verified == 0 && skipped > 0 {
		result.Status = StatusWarning
		result.Message = "no VDF proofs to verify"
	} else {
		result.Message = fmt.Sprintf("verified %d VDF proofs, total elapsed: %s", verified, totalTime.Round(time.Second))
	}
}

// verifyVDFSampled checks the packet's VDF aggregate: every checkpoint's
// proof must hash into the aggregate's Merkle root, and a deterministic
// sample of the underlying hash chains is re-run in full. The sample
// indices are derived from the root itself, so a prover cannot predict
// which checkpoints a verifier will re-run any better than the verifier
// can be steered away from a forged one.
func (v *PacketVerifier) verifyVDFSampled(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "vdf_proofs", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	rootBytes, err := hex.DecodeString(packet.VDFAggregate.RootHash)
	if err != nil || len(rootBytes) != 32 {
		result.Status = StatusFailed
		result.Error = "invalid VDF aggregate root hash"
		return
	}
	var root [32]byte
	copy(root[:], rootBytes)

	proofs := make([]*vdf.Proof, 0, len(packet.Checkpoints))
	for i, cp := range packet.Checkpoints {
		if cp.VDFIterations == 0 || cp.VDFInput == "" || cp.VDFOutput == "" {
			continue
		}
		inBytes, errIn := hex.DecodeString(cp.VDFInput)
		outBytes, errOut := hex.DecodeString(cp.VDFOutput)
		if errIn != nil || errOut != nil || len(inBytes) != 32 || len(outBytes) != 32 {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: malformed VDF proof encoding", i)
			return
		}
		var input, output [32]byte
		copy(input[:], inBytes)
		copy(output[:], outBytes)
		proofs = append(proofs, &vdf.Proof{Input: input, Output: output, Iterations: cp.VDFIterations})
	}

	if len(proofs) == 0 {
		result.Status = StatusWarning
		result.Message = "no VDF proofs to verify against aggregate"
		return
	}

	if uint32(len(proofs)) != packet.VDFAggregate.CheckpointsCovered {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("aggregate covers %d checkpoints, packet has %d proofs",
			packet.VDFAggregate.CheckpointsCovered, len(proofs))
		return
	}

	agg := vdf.NewMerkleAggregator()
	for _, p := range proofs {
		agg.AddProof(p)
	}
	rebuilt, err := agg.Build()
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("rebuild VDF aggregate: %v", err)
		return
	}
	if rebuilt.RootHash != root {
		result.Status = StatusFailed
		result.Error = "VDF aggregate root mismatch"
		result.Remediation = "the packet's VDF proofs do not match its aggregate - possible tampering"
		return
	}

	sampled := 0
	for _, idx := range vdf.SampleIndices(root, v.vdfSampleSize, len(proofs)) {
		select {
		case <-ctx.Done():
			result.Status = StatusSkipped
			result.Message = "verification cancelled"
			return
		default:
		}

		if !vdf.Verify(proofs[idx]) {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("sampled checkpoint %d: VDF verification failed", idx)
			return
		}
		sampled++
	}

	result.Details["mode"] = VDFModeSampled
	result.Details["aggregate_root"] = packet.VDFAggregate.RootHash
	result.Details["sampled"] = sampled
	result.Message = fmt.Sprintf("aggregate root matches; re-ran %d of %d VDF chains", sampled, len(proofs))
}

// verifyMMRRoot replays the checkpoint hashes through a fresh, in-memory
// MMR in append order and checks the recomputed root against the
// packet's stored root.
// A packet built without a live MMR log attached (MMRRoot empty) skips
// this check rather than failing it.
func (v *PacketVerifier) verifyMMRRoot(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "mmr_root", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.MMRRoot == "" {
		result.Status = StatusSkipped
		result.Message = "packet carries no MMR root"
		return
	}

	log, err := mmr.New(mmr.NewMemoryStore())
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("failed to initialize replay MMR: %v", err)
		return
	}

	for i, cp := range packet.Checkpoints {
		select {
		case <-ctx.Done():
			result.Status = StatusSkipped
			result.Message = "verification cancelled"
			return
		default:
		}

		hashBytes, err := hex.DecodeString(cp.CheckpointHash)
		if err != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: invalid checkpoint hash hex: %v", i, err)
			return
		}
		if _, err := log.Append(hashBytes); err != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("checkpoint %d: MMR replay append failed: %v", i, err)
			return
		}
	}

	root, err := log.GetRoot()
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("failed to compute replayed MMR root: %v", err)
		return
	}

	computedRoot := hex.EncodeToString(root[:])
	result.Details["computed_root"] = computedRoot
	result.Details["expected_root"] = packet.MMRRoot

	if computedRoot != packet.MMRRoot {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("MMR root mismatch: replayed %s != packet %s", computedRoot, packet.MMRRoot)
		result.Remediation = "MMR log is inconsistent with the checkpoint chain - possible tampering"
		return
	}

	result.Message = fmt.Sprintf("MMR root verified over %d checkpoints", len(packet.Checkpoints))
}

// verifyKeyHierarchy verifies the key hierarchy identity chain, if present.
func (v *PacketVerifier) verifyKeyHierarchy(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "key_hierarchy", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.KeyHierarchy == nil {
		result.Status = StatusSkipped
		result.Message = "no key hierarchy evidence present"
		return
	}

	if err := packet.Verify(v.vdfParams); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Remediation = "Key hierarchy signatures or certificate are invalid"
		return
	}

	result.Details["device_id"] = packet.KeyHierarchy.DeviceID
	result.Details["ratchet_count"] = packet.KeyHierarchy.RatchetCount
	result.Details["checkpoint_signatures"] = len(packet.KeyHierarchy.CheckpointSignatures)
	result.Message = "key hierarchy signatures verified"
}

// verifyCollaborationCoverage checks that collaboration ranges cover every
// checkpoint, if a collaboration section is present.
func (v *PacketVerifier) verifyCollaborationCoverage(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "collaboration", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.Collaboration == nil {
		result.Status = StatusSkipped
		result.Message = "no collaboration evidence present"
		return
	}

	var n uint64
	if len(packet.Checkpoints) > 0 {
		n = packet.Checkpoints[len(packet.Checkpoints)-1].Ordinal + 1
	}

	if err := packet.Collaboration.ValidateCoverage(n); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Remediation = "Collaboration ranges must jointly cover every checkpoint"
		return
	}

	result.Details["participants"] = len(packet.Collaboration.Participants)
	result.Details["mode"] = string(packet.Collaboration.Mode)
	result.Message = fmt.Sprintf("%d participants, full checkpoint coverage", len(packet.Collaboration.Participants))
}

// verifyContinuation checks the series invariants of a continuation
// section, if present.
func (v *PacketVerifier) verifyContinuation(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "continuation", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.Continuation == nil {
		result.Status = StatusSkipped
		result.Message = "no continuation evidence present"
		return
	}

	if err := packet.Continuation.Validate(); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Remediation = "Continuation metadata is inconsistent with its position in the series"
		return
	}

	result.Details["series_id"] = packet.Continuation.SeriesID
	result.Details["sequence"] = packet.Continuation.PacketSequence
	result.Message = fmt.Sprintf("packet %d of series %s",
		packet.Continuation.PacketSequence+1, packet.Continuation.SeriesID)
}

// verifyProvenance checks a provenance section's shape and, when the
// packet carries the master public key, its cross-attestation over the
// parent chain hash.
func (v *PacketVerifier) verifyProvenance(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "provenance", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.Provenance == nil {
		result.Status = StatusSkipped
		result.Message = "no provenance evidence present"
		return
	}

	p := packet.Provenance
	if p.ParentPacketID == "" || p.ParentChainHash == "" || p.DerivationType == "" {
		result.Status = StatusFailed
		result.Error = "provenance missing parent packet id, parent chain hash, or derivation type"
		return
	}

	result.Details["derivation"] = string(p.DerivationType)

	if p.CrossAttestation == "" {
		result.Message = fmt.Sprintf("derived from %s (%s), no cross-attestation", p.ParentPacketID, p.DerivationType)
		return
	}

	if packet.KeyHierarchy == nil || packet.KeyHierarchy.MasterPublicKey == "" {
		result.Status = StatusWarning
		result.Message = "cross-attestation present but packet carries no master public key to check it against"
		return
	}

	pubBytes, err := hex.DecodeString(packet.KeyHierarchy.MasterPublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		result.Status = StatusFailed
		result.Error = "invalid master public key encoding"
		return
	}
	parentBytes, err := hex.DecodeString(p.ParentChainHash)
	if err != nil || len(parentBytes) != 32 {
		result.Status = StatusFailed
		result.Error = "invalid parent chain hash encoding"
		return
	}
	sigBytes, err := hex.DecodeString(p.CrossAttestation)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		result.Status = StatusFailed
		result.Error = "invalid cross-attestation encoding"
		return
	}

	var parentHash [32]byte
	copy(parentHash[:], parentBytes)
	var sig [64]byte
	copy(sig[:], sigBytes)

	if !signer.VerifyParentChainHash(ed25519.PublicKey(pubBytes), parentHash, sig) {
		result.Status = StatusFailed
		result.Error = "cross-attestation signature does not verify under the master key"
		return
	}

	result.Message = fmt.Sprintf("derived from %s (%s), cross-attestation verified", p.ParentPacketID, p.DerivationType)
}

// verifyPolicy recomputes the appraisal policy's score and threshold
// outcome, if a policy section is present.
func (v *PacketVerifier) verifyPolicy(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "policy", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.Policy == nil {
		result.Status = StatusSkipped
		result.Message = "no appraisal policy present"
		return
	}

	score, err := packet.Policy.ComputeScore()
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return
	}

	result.Details["score"] = score
	result.Details["model"] = string(packet.Policy.Model)

	if !packet.Policy.CheckThresholds(score, len(packet.Limitations)) {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("appraisal score %.3f does not clear the policy thresholds", score)
		result.Remediation = "the evidence does not meet the policy named by the packet"
		return
	}

	result.Message = fmt.Sprintf("score %.3f clears policy thresholds", score)
}

// verifyTimestampConsistency checks for timestamp anomalies.
func (v *PacketVerifier) verifyTimestampConsistency(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "timestamp_consistency", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	var anomalies []string

	for i := 1; i < len(packet.Checkpoints); i++ {
		prev := packet.Checkpoints[i-1]
		curr := packet.Checkpoints[i]

		if curr.Timestamp.Before(prev.Timestamp) {
			anomalies = append(anomalies, fmt.Sprintf(
				"checkpoint %d timestamp (%s) before checkpoint %d (%s)",
				i, curr.Timestamp.Format(time.RFC3339), i-1, prev.Timestamp.Format(time.RFC3339)))
		}

		interval := curr.Timestamp.Sub(prev.Timestamp)
		if interval < time.Millisecond && curr.VDFIterations > 0 {
			anomalies = append(anomalies, fmt.Sprintf("checkpoint %d: suspiciously fast interval (%v) with VDF", i, interval))
		}
	}

	if packet.External != nil {
		for i, record := range packet.External.Records {
			if record == nil {
				continue
			}
			if record.Status == anchors.StatusConfirmed && record.ConfirmedAt != nil {
				if record.ConfirmedAt.Before(packet.ExportedAt.Add(-24 * time.Hour)) {
					anomalies = append(anomalies, fmt.Sprintf("anchor %d: confirmation timestamp suspiciously before export", i))
				}
			}
		}
	}

	if len(anomalies) > 0 {
		result.Status = StatusWarning
		result.Details["anomalies"] = anomalies
		result.Message = fmt.Sprintf("%d timestamp anomalies detected", len(anomalies))
	} else {
		result.Message = "timestamps consistent"
	}
}

// verifyForensicPatterns runs the forensic analyzer over the packet:
// timing anomalies, synthetic regularity, keystroke plausibility, the
// advisory behavioral fingerprint, and chain-level oddities. Findings
// attach as warnings, never hard failures.
func (v *PacketVerifier) verifyForensicPatterns(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "forensic_patterns", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	analysis, err := NewForensicVerifier().AnalyzeEvidence(packet)
	if err != nil {
		result.Status = StatusWarning
		result.Error = fmt.Sprintf("forensic analysis failed: %v", err)
		return
	}

	indicators := make([]string, 0, len(analysis.Indicators))
	for _, ind := range analysis.Indicators {
		indicators = append(indicators, fmt.Sprintf("[%s] %s", ind.Severity, ind.Description))
	}

	result.Details["indicators_count"] = len(indicators)
	result.Details["forensic_score"] = analysis.Score
	result.Details["assessment"] = analysis.Assessment
	if analysis.Statistics != nil {
		result.Details["mean_interval"] = analysis.Statistics.MeanInterval.String()
		result.Details["coefficient_of_variation"] = analysis.Statistics.CoefficientOfVariation
	}

	if len(indicators) > 0 {
		result.Status = StatusWarning
		result.Details["indicators"] = indicators
		result.Message = fmt.Sprintf("%d forensic indicators found: %s", len(indicators), analysis.Assessment)
	} else {
		result.Message = "no forensic anomalies detected"
	}
}

// verifyExternalAnchors verifies external timestamp proofs.
func (v *PacketVerifier) verifyExternalAnchors(ctx context.Context, packet *evidence.Packet) {
	start := time.Now()
	result := ComponentResult{Component: "external_anchors", Status: StatusPassed, Details: make(map[string]any)}
	defer func() {
		result.Duration = time.Since(start)
		v.addResult(result)
	}()

	if packet.External == nil {
		result.Status = StatusSkipped
		result.Message = "no external anchors present"
		return
	}

	chainHashBytes, err := hex.DecodeString(packet.ChainHash)
	if err != nil || len(chainHashBytes) != 32 {
		result.Status = StatusFailed
		result.Error = "invalid chain hash"
		return
	}
	var chainHash [32]byte
	copy(chainHash[:], chainHashBytes)

	verifier := NewAnchorVerifier(v.anchorRegistry)
	batch := verifier.VerifyAllAnchors(packet.External, chainHash)

	result.Details["verified"] = batch.Verified
	result.Details["failed"] = batch.Failed
	result.Details["pending"] = batch.Pending
	result.Details["total"] = batch.Total

	switch {
	case batch.Failed > 0:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d of %d anchors verified, %d failed", batch.Verified, batch.Total, batch.Failed)
	case batch.Pending > 0:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d verified, %d pending", batch.Verified, batch.Pending)
	default:
		result.Message = fmt.Sprintf("all %d external anchors verified", batch.Verified)
	}
}

// calculateSummary computes the summary statistics for the report.
func (v *PacketVerifier) calculateSummary(report *VerificationReport) {
	report.Valid = true
	totalWeight := 0.0
	passedWeight := 0.0

	weights := map[string]float64{
		"structure":             1.0,
		"chain_integrity":       2.0,
		"vdf_proofs":            1.5,
		"mmr_root":              1.5,
		"key_hierarchy":         1.0,
		"collaboration":         1.0,
		"continuation":          0.5,
		"provenance":            1.0,
		"policy":                1.0,
		"timestamp_consistency": 0.5,
		"forensic_patterns":     0.5,
		"external_anchors":      1.0,
	}

	for _, comp := range report.Components {
		weight := weights[comp.Component]
		if weight == 0 {
			weight = 1.0
		}
		totalWeight += weight

		switch comp.Status {
		case StatusPassed:
			report.Passed++
			passedWeight += weight
		case StatusFailed:
			report.Failed++
			report.Valid = false
		case StatusWarning:
			report.Warnings++
			passedWeight += weight * 0.8
		case StatusSkipped:
			report.Skipped++
			totalWeight -= weight
		}
	}

	if totalWeight > 0 {
		report.Confidence = passedWeight / totalWeight
	}

	report.EvidenceClass, report.ClassReason = v.classifyEvidence(report)
	report.Recommendations = v.generateRecommendations(report)
}

// classifyEvidence determines the evidence class based on verification results.
func (v *PacketVerifier) classifyEvidence(report *VerificationReport) (string, string) {
	if report.Failed > 0 {
		return "X", "Verification failed - evidence rejected"
	}

	if report.Confidence >= 0.95 && report.Warnings == 0 {
		return "A", "Full integrity, all checks passed"
	}

	if report.Confidence >= 0.85 {
		return "B", "Minor warnings, no critical issues"
	}

	if report.Confidence >= 0.7 {
		return "C", "Suspicious patterns detected, review required"
	}

	return "D", "Significant issues detected, not suitable for forensic reliance"
}

// generateRecommendations creates remediation suggestions.
func (v *PacketVerifier) generateRecommendations(report *VerificationReport) []string {
	var recs []string

	for _, comp := range report.Components {
		if comp.Status == StatusFailed && comp.Remediation != "" {
			recs = append(recs, fmt.Sprintf("%s: %s", comp.Component, comp.Remediation))
		}
	}

	if report.EvidenceClass == "C" || report.EvidenceClass == "D" {
		recs = append(recs, "Consider re-witnessing the document with enhanced monitoring")
	}

	if report.Skipped > 0 {
		recs = append(recs, "Some verifications were skipped - run with higher verification level")
	}

	return recs
}

// QuickVerify performs fast structural verification only.
func QuickVerify(packet *evidence.Packet) (*VerificationReport, error) {
	v := NewPacketVerifier(WithLevel(LevelQuick))
	return v.Verify(context.Background(), packet)
}

// StandardVerify performs full cryptographic verification.
func StandardVerify(packet *evidence.Packet) (*VerificationReport, error) {
	v := NewPacketVerifier(WithLevel(LevelStandard))
	return v.Verify(context.Background(), packet)
}

// ForensicVerify performs deep forensic analysis.
func ForensicVerify(packet *evidence.Packet) (*VerificationReport, error) {
	v := NewPacketVerifier(WithLevel(LevelForensic))
	return v.Verify(context.Background(), packet)
}
