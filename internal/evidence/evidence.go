// Package evidence implements the unified Evidence Packet format: a
// self-contained export of a checkpoint chain plus whatever
// optional sections the author chose to attach (keystroke timing, external
// anchors, key hierarchy, collaboration, provenance, continuation, and
// appraisal policy).
//
// Evidence Strength Tiers:
//   - Basic: checkpoint chain only (minimum viable evidence)
//   - Standard: + keystroke timing and/or key hierarchy identity
//   - Enhanced: + external anchors
//   - Maximum: + collaboration and/or appraisal policy
package evidence

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"witnessd/internal/anchors"
	"witnessd/internal/checkpoint"
	"witnessd/internal/fingerprint"
	"witnessd/internal/jitter"
	"witnessd/internal/keyhierarchy"
	"witnessd/internal/vdf"
)

// Strength indicates the evidence tier.
type Strength int

const (
	Basic    Strength = 1 // checkpoint chain only
	Standard Strength = 2 // + keystroke timing / key hierarchy identity
	Enhanced Strength = 3 // + external anchors
	Maximum  Strength = 4 // + collaboration / appraisal policy
)

func (s Strength) String() string {
	switch s {
	case Basic:
		return "basic"
	case Standard:
		return "standard"
	case Enhanced:
		return "enhanced"
	case Maximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// Packet is a self-contained evidence export.
type Packet struct {
	// Metadata
	PacketID   string    `json:"packet_id"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Strength   Strength  `json:"strength"`

	// Origin documents who initiated the record and where it was generated.
	Origin *RecordOrigin `json:"origin,omitempty"`

	// The document
	Document DocumentInfo `json:"document"`

	// Layer 0: Checkpoint chain
	Checkpoints []CheckpointProof `json:"checkpoints"`
	VDFParams   vdf.Parameters    `json:"vdf_params"`
	ChainHash   string            `json:"chain_hash"`

	// MMR root over the checkpoint hashes, in append order. Omitted if
	// the chain was built without a live MMR log attached.
	MMRRoot string `json:"mmr_root,omitempty"`
	MMRSize uint64 `json:"mmr_size,omitempty"`

	// Merkle aggregate over the per-checkpoint VDF proofs, letting a
	// verifier check the chain's delay claims against one root and
	// re-run only a sample of the underlying hash chains.
	VDFAggregate *VDFAggregateEvidence `json:"vdf_aggregate,omitempty"`

	// Layer 1: Keystroke evidence (jitter timing chain)
	// Proves real keystrokes occurred without capturing content.
	Keystroke *KeystrokeEvidence `json:"keystroke,omitempty"`

	// Layer 2: Behavioral fingerprint (advisory forgery indicators)
	Behavioral *BehavioralEvidence `json:"behavioral,omitempty"`

	// Layer 3: External anchors
	External *ExternalAnchors `json:"external,omitempty"`

	// Layer 4: Key hierarchy (cryptographic identity chain)
	KeyHierarchy *KeyHierarchyEvidencePacket `json:"key_hierarchy,omitempty"`

	// Optional sections
	Continuation *Continuation    `json:"continuation,omitempty"`
	Provenance   *Provenance      `json:"provenance,omitempty"`
	Collaboration *Collaboration  `json:"collaboration,omitempty"`
	Policy       *AppraisalPolicy `json:"policy,omitempty"`

	// What this evidence claims
	Claims      []Claim  `json:"claims"`
	Limitations []string `json:"limitations"`
}

// CumulativeSummary aggregates the whole series up to and including
// this packet.
type CumulativeSummary struct {
	PacketsInSeries  uint32        `json:"packets_in_series"`
	TotalCheckpoints uint64        `json:"total_checkpoints,omitempty"`
	TotalElapsed     time.Duration `json:"total_elapsed,omitempty"`
}

// Continuation binds this packet into a series of packets exported over
// time for the same document.
type Continuation struct {
	SeriesID               string            `json:"series_id"`
	PacketSequence         uint32            `json:"packet_sequence"`
	PrevPacketChainHash    string            `json:"prev_packet_chain_hash,omitempty"`
	PrevPacketID           string            `json:"prev_packet_id,omitempty"`
	CumulativeSummary      CumulativeSummary `json:"cumulative_summary"`
	SeriesBindingSignature string            `json:"series_binding_signature,omitempty"`
}

// Validate enforces the series invariants: the first packet of a series
// must not reference a predecessor, every later packet must, and the
// cumulative summary counts exactly sequence+1 packets.
func (c *Continuation) Validate() error {
	if c.PacketSequence == 0 {
		if c.PrevPacketChainHash != "" {
			return errors.New("continuation: first packet of a series cannot reference a previous chain hash")
		}
	} else if c.PrevPacketChainHash == "" {
		return errors.New("continuation: non-first packet must reference the previous chain hash")
	}
	if c.CumulativeSummary.PacketsInSeries != c.PacketSequence+1 {
		return fmt.Errorf("continuation: summary counts %d packets in series, expected %d",
			c.CumulativeSummary.PacketsInSeries, c.PacketSequence+1)
	}
	return nil
}

// DerivationType categorizes how a packet's document relates to a parent.
type DerivationType string

const (
	DerivationContinuation DerivationType = "continuation"
	DerivationMerge        DerivationType = "merge"
	DerivationSplit        DerivationType = "split"
	DerivationRewrite      DerivationType = "rewrite"
	DerivationTranslation  DerivationType = "translation"
	DerivationFork         DerivationType = "fork"
	DerivationCitationOnly DerivationType = "citation_only"
)

// Provenance documents the packet's derivation from a parent packet, e.g.
// when this document is an excerpt or revision of a previously witnessed one.
type Provenance struct {
	ParentPacketID   string         `json:"parent_packet_id"`
	ParentChainHash  string         `json:"parent_chain_hash"`
	DerivationType   DerivationType `json:"derivation_type"`
	Timestamp        time.Time      `json:"timestamp"`
	CrossAttestation string         `json:"cross_attestation,omitempty"`
}

// CollaborationMode describes how participants contributed.
type CollaborationMode string

const (
	CollaborationSolo       CollaborationMode = "solo"
	CollaborationSequential CollaborationMode = "sequential"
	CollaborationConcurrent CollaborationMode = "concurrent"
)

// Interval is a half-open time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CheckpointRange is a half-open ordinal range [From, To).
type CheckpointRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Participant documents one contributor's share of a collaborative document.
type Participant struct {
	PublicKey             string            `json:"public_key"`
	Role                  string            `json:"role"`
	ActiveIntervals       []Interval        `json:"active_intervals,omitempty"`
	CheckpointRanges      []CheckpointRange `json:"checkpoint_ranges"`
	AttestationSignature  string            `json:"attestation_signature,omitempty"`
}

// Collaboration documents multi-author contribution to a single chain.
type Collaboration struct {
	Mode         CollaborationMode `json:"mode"`
	Participants []Participant     `json:"participants"`
}

// ValidateCoverage checks that the participants' checkpoint ranges jointly
// cover every ordinal in [0, n) without gaps. It does not require the ranges
// to be disjoint: overlapping contribution (e.g. concurrent review) is valid.
func (c *Collaboration) ValidateCoverage(n uint64) error {
	if n == 0 {
		return nil
	}
	covered := make([]bool, n)
	for _, p := range c.Participants {
		for _, r := range p.CheckpointRanges {
			from, to := r.From, r.To
			if to > n {
				to = n
			}
			for i := from; i < to; i++ {
				covered[i] = true
			}
		}
	}
	for i, ok := range covered {
		if !ok {
			return fmt.Errorf("collaboration: checkpoint %d not covered by any participant", i)
		}
	}
	return nil
}

// AppraisalModel selects how Factors combine into a single score.
type AppraisalModel string

const (
	WeightedAverage  AppraisalModel = "weighted_average"
	MinimumOfFactors AppraisalModel = "minimum_of_factors"
	GeometricMean    AppraisalModel = "geometric_mean"
	CustomFormula    AppraisalModel = "custom_formula"
)

// AppraisalFactor is one scored input to an appraisal policy.
type AppraisalFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"` // 0..1
}

// AppraisalPolicy names an externally-defined scoring rubric and the
// factors/thresholds it was evaluated against for this packet.
type AppraisalPolicy struct {
	URI        string             `json:"uri"`
	Version    string             `json:"version"`
	Model      AppraisalModel     `json:"model"`
	Factors    []AppraisalFactor  `json:"factors"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

// ComputeScore combines Factors according to Model. CustomFormula is not
// computable here and returns an error: callers supplying CustomFormula must
// have already computed the score out of band.
func (p *AppraisalPolicy) ComputeScore() (float64, error) {
	if len(p.Factors) == 0 {
		return 0, errors.New("appraisal policy: no factors")
	}
	switch p.Model {
	case WeightedAverage:
		var sumW, sumWS float64
		for _, f := range p.Factors {
			sumW += f.Weight
			sumWS += f.Weight * f.Score
		}
		if sumW == 0 {
			return 0, errors.New("appraisal policy: weights sum to zero")
		}
		return sumWS / sumW, nil
	case MinimumOfFactors:
		min := p.Factors[0].Score
		for _, f := range p.Factors[1:] {
			if f.Score < min {
				min = f.Score
			}
		}
		return min, nil
	case GeometricMean:
		product := 1.0
		for _, f := range p.Factors {
			product *= f.Score
		}
		return nthRoot(product, len(p.Factors)), nil
	case CustomFormula:
		return 0, errors.New("appraisal policy: custom formula requires an externally supplied score")
	default:
		return 0, fmt.Errorf("appraisal policy: unknown model %q", p.Model)
	}
}

func nthRoot(x float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	if x <= 0 {
		return 0
	}
	// Newton's method; n factors is always small so a handful of
	// iterations from a reasonable seed converges comfortably.
	guess := x
	for i := 0; i < 50; i++ {
		var pow float64 = 1
		for j := 0; j < n-1; j++ {
			pow *= guess
		}
		if pow == 0 {
			break
		}
		guess = guess - (guess-x/pow)/float64(n)
	}
	return guess
}

// Threshold keys recognized by CheckThresholds. A required-factor
// threshold names its factor after the prefix, e.g.
// "required_factor:anchors".
const (
	ThresholdMinimumScore   = "minimum_score"
	ThresholdMinimumFactor  = "minimum_factor"
	ThresholdMaximumCaveats = "maximum_caveats"
	RequiredFactorPrefix    = "required_factor:"
)

// CheckThresholds reports whether the computed score, the individual
// factors, and the packet's caveat count clear every threshold the
// policy names. An unrecognized key is treated as a minimum overall
// score, so a policy written against a newer vocabulary fails closed
// rather than being ignored.
func (p *AppraisalPolicy) CheckThresholds(score float64, caveats int) bool {
	for key, value := range p.Thresholds {
		switch {
		case key == ThresholdMinimumScore:
			if score < value {
				return false
			}
		case key == ThresholdMinimumFactor:
			for _, f := range p.Factors {
				if f.Score < value {
					return false
				}
			}
		case key == ThresholdMaximumCaveats:
			if float64(caveats) > value {
				return false
			}
		case strings.HasPrefix(key, RequiredFactorPrefix):
			name := strings.TrimPrefix(key, RequiredFactorPrefix)
			found := false
			for _, f := range p.Factors {
				if f.Name == name {
					found = true
					if f.Score < value {
						return false
					}
				}
			}
			if !found {
				return false
			}
		default:
			if score < value {
				return false
			}
		}
	}
	return true
}

// KeyHierarchyEvidencePacket contains the key hierarchy evidence for an
// evidence packet: persistent identity and forward secrecy through
// ratcheting keys.
type KeyHierarchyEvidencePacket struct {
	Version int `json:"version"`

	MasterFingerprint string `json:"master_fingerprint"`
	MasterPublicKey   string `json:"master_public_key"`
	DeviceID          string `json:"device_id"`

	SessionID        string    `json:"session_id"`
	SessionPublicKey string    `json:"session_public_key"`
	SessionStarted   time.Time `json:"session_started"`

	// SessionDocumentHash is the document hash the session was started
	// against; part of the bytes the master key signed.
	SessionDocumentHash string `json:"session_document_hash"`

	SessionCertificate string `json:"session_certificate"`

	RatchetCount      int      `json:"ratchet_count"`
	RatchetPublicKeys []string `json:"ratchet_public_keys,omitempty"`

	CheckpointSignatures []CheckpointSignature `json:"checkpoint_signatures,omitempty"`
}

// CheckpointSignature links a checkpoint to a ratcheting key.
type CheckpointSignature struct {
	Ordinal        uint64 `json:"ordinal"`
	CheckpointHash string `json:"checkpoint_hash"`
	RatchetIndex   int    `json:"ratchet_index"`
	Signature      string `json:"signature"`
}

// DocumentInfo describes the witnessed document.
type DocumentInfo struct {
	Title     string `json:"title"`
	Path      string `json:"path"`
	FinalHash string `json:"final_hash"`
	FinalSize int64  `json:"final_size"`
}

// RecordOrigin documents who initiated the record and where it was generated.
type RecordOrigin struct {
	DeviceID      string `json:"device_id"`
	SigningPubkey string `json:"signing_pubkey"`

	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	OSVersion    string `json:"os_version,omitempty"`
	Architecture string `json:"architecture"`

	SessionID      string    `json:"session_id"`
	SessionStarted time.Time `json:"session_started"`
}

// CheckpointProof is a checkpoint with verification data.
type CheckpointProof struct {
	Ordinal       uint64    `json:"ordinal"`
	DocumentHash  string    `json:"document_hash"`
	Timestamp     time.Time `json:"timestamp"`
	TriggerReason string    `json:"trigger_reason,omitempty"`

	VDFInput      string        `json:"vdf_input,omitempty"`
	VDFOutput     string        `json:"vdf_output,omitempty"`
	VDFIterations uint64        `json:"vdf_iterations,omitempty"`
	ElapsedTime   time.Duration `json:"elapsed_time,omitempty"`

	PreviousHash   string `json:"previous_hash"`
	CheckpointHash string `json:"checkpoint_hash"`

	Signature string `json:"signature,omitempty"`
}

// VDFAggregateEvidence is the packet-resident form of a VDF aggregate
// proof.
type VDFAggregateEvidence struct {
	Method             string `json:"method"`
	CheckpointsCovered uint32 `json:"checkpoints_covered"`
	TotalIterations    uint64 `json:"total_iterations"`
	RootHash           string `json:"root_hash"`
}

// KeystrokeEvidence carries the session's jitter steganography chain:
// the recorded HMAC-chain elements plus whether they replay cleanly
// against the session seed and document hash. It is a self-consistency
// record, not a forgery signal; BehavioralEvidence covers that.
type KeystrokeEvidence struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Mode      string    `json:"mode"`

	ChainValid bool `json:"chain_valid"`

	Elements []jitter.Element `json:"elements,omitempty"`
}

// BehavioralEvidence carries the advisory forgery-detector fingerprint.
// It never fails verification on its own.
type BehavioralEvidence struct {
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
}

// ExternalAnchors contains third-party timestamp proofs.
type ExternalAnchors struct {
	Records []*anchors.AnchorRecord `json:"records,omitempty"`
}

// Claim describes what the evidence proves.
type Claim struct {
	Type        ClaimType `json:"type"`
	Description string    `json:"description"`
	Confidence  string    `json:"confidence"` // "cryptographic", "attestation", "statistical"
}

// ClaimType categorizes claims.
type ClaimType string

const (
	ClaimChainIntegrity     ClaimType = "chain_integrity"
	ClaimTimeElapsed        ClaimType = "time_elapsed"
	ClaimKeystrokesVerified ClaimType = "keystrokes_verified"
	ClaimBehaviorAnalyzed   ClaimType = "behavior_analyzed"
	ClaimExternalAnchored   ClaimType = "external_anchored"
	ClaimKeyHierarchy       ClaimType = "key_hierarchy"
	ClaimCollaboration      ClaimType = "collaboration"
	ClaimAppraisal          ClaimType = "appraisal"
)

// Builder constructs evidence packets.
type Builder struct {
	packet Packet
	errors []error
}

// NewBuilder starts building an evidence packet.
func NewBuilder(title string, chain *checkpoint.Chain) *Builder {
	b := &Builder{
		packet: Packet{
			PacketID:   uuid.NewString(),
			Version:    1,
			ExportedAt: time.Now(),
			Strength:   Basic,
			VDFParams:  chain.VDFParams,
		},
	}

	if latest := chain.Latest(); latest != nil {
		content, err := os.ReadFile(chain.DocumentPath)
		var size int64
		if err == nil {
			size = int64(len(content))
		}
		b.packet.Document = DocumentInfo{
			Title:     title,
			Path:      chain.DocumentPath,
			FinalHash: hex.EncodeToString(latest.DocumentHash[:]),
			FinalSize: size,
		}
	}

	for _, cp := range chain.Checkpoints {
		proof := CheckpointProof{
			Ordinal:        cp.Ordinal,
			DocumentHash:   hex.EncodeToString(cp.DocumentHash[:]),
			Timestamp:      cp.Timestamp,
			TriggerReason:  cp.TriggerReason.String(),
			PreviousHash:   hex.EncodeToString(cp.PreviousHash[:]),
			CheckpointHash: hex.EncodeToString(cp.CheckpointHash[:]),
			VDFInput:       hex.EncodeToString(cp.VDFInput[:]),
			VDFOutput:      hex.EncodeToString(cp.VDFOutput[:]),
			VDFIterations:  cp.VDFIterations,
		}

		if cp.Signature != ([64]byte{}) {
			proof.Signature = hex.EncodeToString(cp.Signature[:])
		}

		proof.ElapsedTime = (&vdf.Proof{Iterations: cp.VDFIterations}).MinElapsedTime(chain.VDFParams)

		b.packet.Checkpoints = append(b.packet.Checkpoints, proof)
	}

	if latest := chain.Latest(); latest != nil {
		b.packet.ChainHash = hex.EncodeToString(latest.CheckpointHash[:])
	}

	if root, err := chain.MMRRoot(); err == nil {
		b.packet.MMRRoot = hex.EncodeToString(root[:])
		b.packet.MMRSize = uint64(len(b.packet.Checkpoints))
	}

	return b
}

// WithJitter attaches the session's jitter chain record, if the
// session ever enabled jitter steganography (it is opt-in; an empty
// elements slice is a no-op). seed and docHash must be the same values
// the chain was constructed with (jitter.NewChain); the seed itself is
// never persisted on the packet, only used here to run the replay
// check before the builder lets it go out of scope.
func (b *Builder) WithJitter(sessionID string, startedAt, endedAt time.Time, mode jitter.Mode, seed, docHash [32]byte, minUs, maxUs uint32, elements []jitter.Element) *Builder {
	if len(elements) == 0 {
		return b
	}

	valid := jitter.ReplayWithParams(seed, docHash, minUs, maxUs, elements) == nil
	if !valid {
		b.errors = append(b.errors, errors.New("jitter chain evidence failed replay verification"))
	}

	b.packet.Keystroke = &KeystrokeEvidence{
		SessionID:  sessionID,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		Mode:       mode.String(),
		ChainValid: valid,
		Elements:   elements,
	}

	if b.packet.Strength < Standard {
		b.packet.Strength = Standard
	}
	return b
}

// WithBehavioral attaches the advisory forgery-detector fingerprint.
func (b *Builder) WithBehavioral(fp *fingerprint.Fingerprint) *Builder {
	if fp == nil {
		return b
	}
	b.packet.Behavioral = &BehavioralEvidence{Fingerprint: fp}
	return b
}

// WithOrigin adds record origin information (who/where/when).
func (b *Builder) WithOrigin(origin *RecordOrigin) *Builder {
	if origin == nil {
		return b
	}
	b.packet.Origin = origin
	return b
}

// WithAnchors adds external anchor records from the anchors package.
func (b *Builder) WithAnchors(records []*anchors.AnchorRecord) *Builder {
	if len(records) == 0 {
		return b
	}
	if b.packet.External == nil {
		b.packet.External = &ExternalAnchors{}
	}
	b.packet.External.Records = append(b.packet.External.Records, records...)

	if b.packet.Strength < Enhanced {
		b.packet.Strength = Enhanced
	}
	return b
}

// WithKeyHierarchy adds key hierarchy evidence to the packet.
func (b *Builder) WithKeyHierarchy(evidence *keyhierarchy.KeyHierarchyEvidence) *Builder {
	if evidence == nil {
		return b
	}

	packet := &KeyHierarchyEvidencePacket{
		Version:            evidence.Version,
		MasterFingerprint:  evidence.MasterFingerprint,
		MasterPublicKey:    hex.EncodeToString(evidence.MasterPublicKey),
		DeviceID:           evidence.DeviceID,
		SessionID:          evidence.SessionID,
		SessionPublicKey:   hex.EncodeToString(evidence.SessionPublicKey),
		SessionStarted:     evidence.SessionStarted,
		SessionCertificate: base64.StdEncoding.EncodeToString(evidence.SessionCertificateRaw),
		RatchetCount:       evidence.RatchetCount,
	}

	if evidence.SessionCertificate != nil {
		packet.SessionDocumentHash = hex.EncodeToString(evidence.SessionCertificate.DocumentHash[:])
	}

	for _, key := range evidence.RatchetPublicKeys {
		packet.RatchetPublicKeys = append(packet.RatchetPublicKeys, hex.EncodeToString(key))
	}

	for i, sig := range evidence.CheckpointSignatures {
		packet.CheckpointSignatures = append(packet.CheckpointSignatures, CheckpointSignature{
			Ordinal:        sig.Ordinal,
			CheckpointHash: hex.EncodeToString(sig.CheckpointHash[:]),
			RatchetIndex:   i,
			Signature:      base64.StdEncoding.EncodeToString(sig.Signature[:]),
		})
	}

	b.packet.KeyHierarchy = packet

	if b.packet.Strength < Standard {
		b.packet.Strength = Standard
	}

	return b
}

// WithVDFAggregate condenses the packet's per-checkpoint VDF proofs
// into a single Merkle aggregate. A no-op if no checkpoint carries a
// usable proof.
func (b *Builder) WithVDFAggregate() *Builder {
	agg := vdf.NewMerkleAggregator()
	added := 0
	for _, cp := range b.packet.Checkpoints {
		if cp.VDFIterations == 0 || cp.VDFInput == "" || cp.VDFOutput == "" {
			continue
		}
		in, errIn := hex.DecodeString(cp.VDFInput)
		out, errOut := hex.DecodeString(cp.VDFOutput)
		if errIn != nil || errOut != nil || len(in) != 32 || len(out) != 32 {
			continue
		}
		var input, output [32]byte
		copy(input[:], in)
		copy(output[:], out)
		agg.AddProof(&vdf.Proof{Input: input, Output: output, Iterations: cp.VDFIterations})
		added++
	}
	if added == 0 {
		return b
	}

	proof, err := agg.Build()
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}

	b.packet.VDFAggregate = &VDFAggregateEvidence{
		Method:             string(proof.Method),
		CheckpointsCovered: proof.CheckpointsCovered,
		TotalIterations:    proof.TotalIterations,
		RootHash:           hex.EncodeToString(proof.RootHash[:]),
	}
	return b
}

// WithContinuation binds this packet into a series of packets for the same
// document exported over time. The continuation's series invariants are
// checked at build time.
func (b *Builder) WithContinuation(c *Continuation) *Builder {
	if c == nil {
		return b
	}
	if err := c.Validate(); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.packet.Continuation = c
	return b
}

// WithProvenance records this packet's derivation from a parent packet.
func (b *Builder) WithProvenance(p *Provenance) *Builder {
	if p == nil {
		return b
	}
	b.packet.Provenance = p
	return b
}

// WithCollaboration adds multi-author contribution evidence. coverage is
// the number of checkpoints (chain.Latest().Ordinal + 1) the participants'
// ranges must jointly cover; an error is recorded if they don't.
func (b *Builder) WithCollaboration(c *Collaboration, coverage uint64) *Builder {
	if c == nil {
		return b
	}
	if err := c.ValidateCoverage(coverage); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.packet.Collaboration = c
	if b.packet.Strength < Maximum {
		b.packet.Strength = Maximum
	}
	return b
}

// WithPolicy attaches an appraisal policy and its computed score.
func (b *Builder) WithPolicy(p *AppraisalPolicy) *Builder {
	if p == nil {
		return b
	}
	b.packet.Policy = p
	if b.packet.Strength < Maximum {
		b.packet.Strength = Maximum
	}
	return b
}

// Build finalizes the evidence packet.
func (b *Builder) Build() (*Packet, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("build errors: %v", b.errors)
	}

	b.generateClaims()
	b.generateLimitations()

	return &b.packet, nil
}

func (b *Builder) generateClaims() {
	b.packet.Claims = append(b.packet.Claims, Claim{
		Type:        ClaimChainIntegrity,
		Description: "Content states form an unbroken cryptographic chain",
		Confidence:  "cryptographic",
	})

	var totalTime time.Duration
	for _, cp := range b.packet.Checkpoints {
		totalTime += cp.ElapsedTime
	}
	if totalTime > 0 {
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimTimeElapsed,
			Description: fmt.Sprintf("At least %s elapsed during documented composition", totalTime.Round(time.Second)),
			Confidence:  "cryptographic",
		})
	}

	if b.packet.Keystroke != nil {
		desc := fmt.Sprintf("%d keystrokes recorded over %s (%.0f/min)",
			b.packet.Keystroke.TotalKeystrokes,
			b.packet.Keystroke.Duration.Round(time.Second),
			b.packet.Keystroke.KeystrokesPerMin)
		if b.packet.Keystroke.PlausibleHumanRate {
			desc += ", consistent with human typing"
		}
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimKeystrokesVerified,
			Description: desc,
			Confidence:  "cryptographic",
		})
	}

	if b.packet.Behavioral != nil && b.packet.Behavioral.Fingerprint != nil {
		desc := "Typing rhythm analyzed for forgery indicators"
		if b.packet.Behavioral.Fingerprint.IsSuspicious {
			desc += fmt.Sprintf(" (flagged: %v)", b.packet.Behavioral.Fingerprint.Flags)
		} else {
			desc += " (no anomalies flagged)"
		}
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimBehaviorAnalyzed,
			Description: desc,
			Confidence:  "statistical",
		})
	}

	if b.packet.External != nil {
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimExternalAnchored,
			Description: fmt.Sprintf("Chain anchored to %d external timestamp authorities", len(b.packet.External.Records)),
			Confidence:  "cryptographic",
		})
	}

	if b.packet.KeyHierarchy != nil {
		desc := fmt.Sprintf("Identity %s with %d ratchet generations",
			shortFingerprint(b.packet.KeyHierarchy.MasterFingerprint),
			b.packet.KeyHierarchy.RatchetCount)
		if len(b.packet.KeyHierarchy.CheckpointSignatures) > 0 {
			desc += fmt.Sprintf(", %d checkpoint signatures", len(b.packet.KeyHierarchy.CheckpointSignatures))
		}
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimKeyHierarchy,
			Description: desc,
			Confidence:  "cryptographic",
		})
	}

	if b.packet.Collaboration != nil {
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimCollaboration,
			Description: fmt.Sprintf("%d participants contributed in %s mode, full checkpoint coverage", len(b.packet.Collaboration.Participants), b.packet.Collaboration.Mode),
			Confidence:  "cryptographic",
		})
	}

	if b.packet.Policy != nil {
		score, err := b.packet.Policy.ComputeScore()
		desc := fmt.Sprintf("Appraised under policy %s@%s", b.packet.Policy.URI, b.packet.Policy.Version)
		if err == nil {
			desc += fmt.Sprintf(", score %.2f", score)
		}
		b.packet.Claims = append(b.packet.Claims, Claim{
			Type:        ClaimAppraisal,
			Description: desc,
			Confidence:  "statistical",
		})
	}
}

func shortFingerprint(fp string) string {
	if len(fp) <= 16 {
		return fp
	}
	return fp[:16] + "..."
}

func (b *Builder) generateLimitations() {
	b.packet.Limitations = append(b.packet.Limitations,
		"Cannot prove cognitive origin of ideas",
		"Cannot prove absence of AI involvement in ideation",
	)

	if b.packet.Keystroke == nil {
		b.packet.Limitations = append(b.packet.Limitations,
			"No keystroke evidence - cannot verify real typing occurred")
	}

	if b.packet.External == nil {
		b.packet.Limitations = append(b.packet.Limitations,
			"No external anchors - timestamps rely solely on local clock and VDF elapsed-time proof")
	}

	if b.packet.Behavioral != nil && b.packet.Behavioral.Fingerprint != nil && b.packet.Behavioral.Fingerprint.IsSuspicious {
		b.packet.Limitations = append(b.packet.Limitations,
			"Behavioral fingerprint flagged one or more forgery indicators - advisory only, not a verification failure")
	}
}

// Verify checks the evidence packet integrity.
func (p *Packet) Verify(vdfParams vdf.Parameters) error {
	var prevHash string
	for i, cp := range p.Checkpoints {
		if i == 0 {
			if cp.PreviousHash != hex.EncodeToString(make([]byte, 32)) {
				return fmt.Errorf("checkpoint 0: non-zero previous hash")
			}
		} else {
			if cp.PreviousHash != prevHash {
				return fmt.Errorf("checkpoint %d: broken chain link", i)
			}
		}
		prevHash = cp.CheckpointHash

		if cp.VDFIterations > 0 {
			var input, output [32]byte
			inputBytes, _ := hex.DecodeString(cp.VDFInput)
			outputBytes, _ := hex.DecodeString(cp.VDFOutput)
			copy(input[:], inputBytes)
			copy(output[:], outputBytes)

			proof := &vdf.Proof{
				Input:      input,
				Output:     output,
				Iterations: cp.VDFIterations,
			}
			if !vdf.Verify(proof) {
				return fmt.Errorf("checkpoint %d: VDF verification failed", i)
			}
		}
	}

	if p.KeyHierarchy != nil {
		if err := p.verifyKeyHierarchy(); err != nil {
			return fmt.Errorf("key hierarchy verification failed: %w", err)
		}
	}

	if p.Collaboration != nil {
		var last uint64
		if len(p.Checkpoints) > 0 {
			last = p.Checkpoints[len(p.Checkpoints)-1].Ordinal + 1
		}
		if err := p.Collaboration.ValidateCoverage(last); err != nil {
			return fmt.Errorf("collaboration verification failed: %w", err)
		}
	}

	return nil
}

func (p *Packet) verifyKeyHierarchy() error {
	kh := p.KeyHierarchy

	masterPubKey, err := hex.DecodeString(kh.MasterPublicKey)
	if err != nil {
		return fmt.Errorf("invalid master public key: %w", err)
	}
	if len(masterPubKey) != 32 {
		return errors.New("master public key wrong length")
	}

	sessionPubKey, err := hex.DecodeString(kh.SessionPublicKey)
	if err != nil {
		return fmt.Errorf("invalid session public key: %w", err)
	}
	if len(sessionPubKey) != 32 {
		return errors.New("session public key wrong length")
	}

	sessionCert, err := base64.StdEncoding.DecodeString(kh.SessionCertificate)
	if err != nil {
		return fmt.Errorf("invalid session certificate: %w", err)
	}

	sessionIDBytes, err := hex.DecodeString(kh.SessionID)
	if err != nil || len(sessionIDBytes) != 32 {
		return errors.New("invalid session id")
	}
	var sessionID [32]byte
	copy(sessionID[:], sessionIDBytes)

	docHashBytes, err := hex.DecodeString(kh.SessionDocumentHash)
	if err != nil || len(docHashBytes) != 32 {
		return errors.New("invalid session document hash")
	}
	var sessionDocHash [32]byte
	copy(sessionDocHash[:], docHashBytes)

	if err := keyhierarchy.VerifySessionCertificateBytes(masterPubKey, sessionPubKey, sessionID, kh.SessionStarted, sessionDocHash, sessionCert); err != nil {
		return fmt.Errorf("session certificate invalid: %w", err)
	}

	for _, sig := range kh.CheckpointSignatures {
		if sig.RatchetIndex < 0 || sig.RatchetIndex >= len(kh.RatchetPublicKeys) {
			return fmt.Errorf("checkpoint %d: invalid ratchet index %d", sig.Ordinal, sig.RatchetIndex)
		}

		ratchetPubKey, err := hex.DecodeString(kh.RatchetPublicKeys[sig.RatchetIndex])
		if err != nil {
			return fmt.Errorf("checkpoint %d: invalid ratchet key: %w", sig.Ordinal, err)
		}

		checkpointHash, err := hex.DecodeString(sig.CheckpointHash)
		if err != nil {
			return fmt.Errorf("checkpoint %d: invalid hash: %w", sig.Ordinal, err)
		}

		signature, err := base64.StdEncoding.DecodeString(sig.Signature)
		if err != nil {
			return fmt.Errorf("checkpoint %d: invalid signature: %w", sig.Ordinal, err)
		}

		if err := keyhierarchy.VerifyRatchetSignature(ratchetPubKey, checkpointHash, signature); err != nil {
			return fmt.Errorf("checkpoint %d: signature verification failed: %w", sig.Ordinal, err)
		}
	}

	return nil
}

// TotalElapsedTime returns the sum of all VDF-proven elapsed times.
func (p *Packet) TotalElapsedTime() time.Duration {
	var total time.Duration
	for _, cp := range p.Checkpoints {
		total += cp.ElapsedTime
	}
	return total
}

// Encode serializes the packet to JSON.
func (p *Packet) Encode() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// EncodeYAML serializes the packet to YAML for human review. The JSON
// form produced by Encode is the canonical interchange format; the YAML
// form exists for reading, not for verification.
func (p *Packet) EncodeYAML() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// Decode deserializes a packet from JSON, validating it against the packet
// schema first so a verifier never sees a structurally malformed export.
func Decode(data []byte) (*Packet, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Hash returns a unique hash of the evidence packet.
func (p *Packet) Hash() [32]byte {
	data, _ := p.Encode()
	return sha256.Sum256(data)
}
