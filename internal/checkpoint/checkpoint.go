// Package checkpoint assembles and signs the checkpoints that make up
// an Evidence packet's hash chain. Each checkpoint
// binds document state, accumulated entropy, a VDF proof of elapsed
// time, and a ratchet signature into a single linked record.
package checkpoint

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"witnessd/internal/jitter"
	"witnessd/internal/keyhierarchy"
	"witnessd/internal/mmr"
	"witnessd/internal/store"
	"witnessd/internal/trigger"
	"witnessd/internal/vdf"
)

// Checkpoint is a single signed record in the chain.
type Checkpoint struct {
	Ordinal      uint64   `json:"ordinal"`
	Timestamp    time.Time `json:"timestamp"`
	DocumentHash [32]byte `json:"document_hash"`

	VDFInput      [32]byte `json:"vdf_input"`
	VDFOutput     [32]byte `json:"vdf_output"`
	VDFIterations uint64   `json:"vdf_iterations"`

	EntropyHash  [32]byte `json:"entropy_hash"`
	PreviousHash [32]byte `json:"previous_hash"`

	// CheckpointHash = H(ordinal || timestamp || document-hash ||
	// vdf-output || entropy-hash || previous-hash).
	CheckpointHash [32]byte `json:"checkpoint_hash"`

	Signature     [64]byte          `json:"signature"`
	SigningPubkey ed25519.PublicKey `json:"signing_pubkey"`

	TriggerReason trigger.Reason `json:"trigger_reason"`
}

// computeHash seals the checkpoint:
// H(ordinal ‖ timestamp ‖ document-hash ‖ vdf-output ‖ entropy-hash ‖
// previous-hash).
func (cp *Checkpoint) computeHash() [32]byte {
	h := sha256.New()

	var ordBuf [8]byte
	binary.BigEndian.PutUint64(ordBuf[:], cp.Ordinal)
	h.Write(ordBuf[:])

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(cp.Timestamp.UnixNano()))
	h.Write(tsBuf[:])

	h.Write(cp.DocumentHash[:])
	h.Write(cp.VDFOutput[:])
	h.Write(cp.EntropyHash[:])
	h.Write(cp.PreviousHash[:])

	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

// Chain manages the sequence of checkpoints for one authoring session,
// wiring together the trigger manager, the key hierarchy session, and
// the MMR log.
type Chain struct {
	DocumentPath string    `json:"document_path"`
	CreatedAt    time.Time `json:"created_at"`

	Checkpoints []*Checkpoint `json:"checkpoints"`

	VDFParams vdf.Parameters `json:"vdf_params"`

	session *keyhierarchy.Session
	trig    *trigger.Manager
	log     *mmr.MMR

	storagePath string

	// eventStore and deviceID are optional: when set, Commit also
	// records a durable event row (and edit-topology regions against
	// the previous revision) in the SQLite event log. prevContent
	// tracks the last committed revision in memory only.
	eventStore  *store.Store
	secureStore *store.SecureStore
	deviceID    [16]byte
	prevContent []byte

	// Continuation binding: when set, the first checkpoint's VDF input
	// mixes in the previous packet's final chain hash instead of the
	// zero previous-hash a fresh chain starts from.
	contPrevChainHash [32]byte
	contSeriesID      [16]byte
	contSequence      uint32
	contSet           bool

	// jitterChain is the per-session jitter steganography chain. It is
	// nil until EnableJitter is called; callers that never enable it
	// never pay for it. Jitter injection is opt-in end to end.
	jitterChain    *jitter.Chain
	jitterElements []jitter.Element
	jitterMinUs    uint32
	jitterMaxUs    uint32
}

// ContinueSeries marks this chain as a continuation of a previous
// packet's chain. Must be called before the first Commit; the first
// checkpoint's VDF input then binds to the previous chain's final hash,
// the series identity, and this packet's position in the series.
func (c *Chain) ContinueSeries(prevChainHash [32]byte, seriesID [16]byte, sequence uint32) error {
	if len(c.Checkpoints) > 0 {
		return errors.New("checkpoint: cannot bind a continuation after the first commit")
	}
	if sequence == 0 {
		return errors.New("checkpoint: continuation sequence must be greater than zero")
	}
	c.contPrevChainHash = prevChainHash
	c.contSeriesID = seriesID
	c.contSequence = sequence
	c.contSet = true
	return nil
}

// EnableJitter turns on jitter steganography for this chain, binding the
// chain to the session's signing-key-derived seed and the document hash
// observed at the time of the call. It is a no-op if the chain has no
// live session attached.
func (c *Chain) EnableJitter(docHash [32]byte, mode jitter.Mode, minUs, maxUs uint32) error {
	if c.session == nil {
		return errors.New("checkpoint: cannot enable jitter without a live session")
	}
	c.jitterChain = jitter.NewChain(c.session.JitterSeed(), docHash, mode, true)
	c.jitterMinUs = minUs
	c.jitterMaxUs = maxUs
	return nil
}

// RecordEvent folds one capture-loop event into both the checkpoint
// trigger and, if enabled, the jitter chain.
// The jitter value actually injected (not the raw caller-supplied
// measurement) is what feeds the trigger's entropy accumulator, so the
// rolling entropy-hash and the steganographic chain are bound to the
// same sequence of values.
func (c *Chain) RecordEvent(ch jitter.Channel, measuredJitterUs uint32, docSize int64) *trigger.TriggerEvent {
	jitterUs := measuredJitterUs
	if c.jitterChain != nil {
		if injected, ok := c.jitterChain.Inject(ch, c.jitterMinUs, c.jitterMaxUs); ok {
			jitterUs = injected
			c.jitterElements = append(c.jitterElements, jitter.Element{
				EventCount: uint64(len(c.jitterElements)),
				JitterUs:   injected,
				Channel:    ch,
			})
		}
	}
	return c.trig.Record(trigger.Event{
		JitterMicros: jitterUs,
		DocSize:      docSize,
		At:           time.Now(),
	})
}

// JitterElements returns the recorded jitter chain elements for this
// session, suitable for the Evidence packet's jitter-replay self-test.
// Returns nil if jitter was never enabled.
func (c *Chain) JitterElements() []jitter.Element {
	return c.jitterElements
}

// VerifyJitterChain replays this chain's recorded elements against the
// session seed and bounds used to produce them.
func (c *Chain) VerifyJitterChain(seed [32]byte, docHash [32]byte) error {
	if len(c.jitterElements) == 0 {
		return nil
	}
	return jitter.ReplayWithParams(seed, docHash, c.jitterMinUs, c.jitterMaxUs, c.jitterElements)
}

// NewChain creates a fresh checkpoint chain bound to a document path, a
// live key-hierarchy session, a trigger manager, and an MMR log.
func NewChain(documentPath string, vdfParams vdf.Parameters, session *keyhierarchy.Session, trig *trigger.Manager, log *mmr.MMR) (*Chain, error) {
	absPath, err := filepath.Abs(documentPath)
	if err != nil {
		return nil, fmt.Errorf("invalid document path: %w", err)
	}

	return &Chain{
		DocumentPath: absPath,
		CreatedAt:    time.Now(),
		Checkpoints:  make([]*Checkpoint, 0),
		VDFParams:    vdfParams,
		session:      session,
		trig:         trig,
		log:          log,
	}, nil
}

// Commit assembles, signs, and appends a new checkpoint to the chain
// and the MMR log. vdfDuration controls how much sequential delay the
// embedded VDF proof demands.
func (c *Chain) Commit(reason trigger.Reason, vdfDuration time.Duration) (*Checkpoint, error) {
	content, err := os.ReadFile(c.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	docHash := sha256.Sum256(content)

	ordinal := uint64(len(c.Checkpoints))
	if c.session != nil && c.session.CurrentOrdinal() != ordinal {
		return nil, fmt.Errorf("checkpoint: ordinal mismatch: chain has %d, session expects %d", ordinal, c.session.CurrentOrdinal())
	}

	var previousHash [32]byte
	if ordinal > 0 {
		previousHash = c.Checkpoints[ordinal-1].CheckpointHash
	}

	entropyHash := c.trig.EntropyHash()

	var vdfInput [32]byte
	if ordinal == 0 && c.contSet {
		vdfInput = vdf.ContinuationInput(c.contPrevChainHash, docHash, c.contSeriesID, c.contSequence)
	} else {
		vdfInput = sha256.Sum256(concatHashes(previousHash, docHash, entropyHash))
	}

	vdfProof, err := vdf.Compute(vdfInput, vdfDuration, c.VDFParams)
	if err != nil {
		return nil, fmt.Errorf("failed to compute VDF: %w", err)
	}

	cp := &Checkpoint{
		Ordinal:       ordinal,
		Timestamp:     time.Now(),
		DocumentHash:  docHash,
		VDFInput:      vdfProof.Input,
		VDFOutput:     vdfProof.Output,
		VDFIterations: vdfProof.Iterations,
		EntropyHash:   entropyHash,
		PreviousHash:  previousHash,
		TriggerReason: reason,
	}
	cp.CheckpointHash = cp.computeHash()

	sig, err := c.session.SignCheckpoint(cp.CheckpointHash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign checkpoint: %w", err)
	}
	copy(cp.Signature[:], sig.Signature[:])
	cp.SigningPubkey = sig.PublicKey

	mmrIndex := ordinal
	if c.log != nil {
		idx, err := c.log.AppendCheckpoint(cp.CheckpointHash)
		if err != nil {
			return nil, fmt.Errorf("failed to append to MMR: %w", err)
		}
		mmrIndex = idx
	}

	if err := c.recordEvent(c.prevContent, content, cp, mmrIndex); err != nil {
		return nil, err
	}
	if err := c.recordSecureEvent(content, cp); err != nil {
		return nil, err
	}
	c.prevContent = content

	c.Checkpoints = append(c.Checkpoints, cp)
	return cp, nil
}

// vdfDurationForTrigger derives the VDF duration to request for a
// checkpoint, based on the reason it fired and time elapsed since the
// previous one. Manual/SessionEnd triggers use the elapsed wall time
// directly; the others use the configured target unchanged.
func vdfDurationForTrigger(reason trigger.Reason, sinceLast time.Duration, target time.Duration) time.Duration {
	switch reason {
	case trigger.Manual, trigger.SessionEnd:
		if sinceLast > 0 {
			return sinceLast
		}
	}
	return target
}

func concatHashes(hashes ...[32]byte) []byte {
	out := make([]byte, 0, 32*len(hashes))
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

// Verify checks the integrity of the entire chain:
// ordinal sequencing, previous-hash linkage, checkpoint-hash
// recomputation, VDF validity, and signature validity under the
// ratchet-derived key for each ordinal.
func (c *Chain) Verify() error {
	signatures := make([]keyhierarchy.CheckpointSignature, 0, len(c.Checkpoints))

	for i, cp := range c.Checkpoints {
		if cp.Ordinal != uint64(i) {
			return fmt.Errorf("checkpoint %d: ordinal mismatch (got %d)", i, cp.Ordinal)
		}

		computed := cp.computeHash()
		if computed != cp.CheckpointHash {
			return fmt.Errorf("checkpoint %d: hash mismatch", i)
		}

		if i > 0 {
			if cp.PreviousHash != c.Checkpoints[i-1].CheckpointHash {
				return fmt.Errorf("checkpoint %d: broken chain link", i)
			}
		} else if cp.PreviousHash != ([32]byte{}) {
			return errors.New("checkpoint 0: non-zero previous hash")
		}

		proof := &vdf.Proof{Input: cp.VDFInput, Output: cp.VDFOutput, Iterations: cp.VDFIterations}
		if !vdf.Verify(proof) {
			return fmt.Errorf("checkpoint %d: VDF verification failed", i)
		}

		signatures = append(signatures, keyhierarchy.CheckpointSignature{
			Ordinal:        cp.Ordinal,
			PublicKey:      cp.SigningPubkey,
			Signature:      cp.Signature,
			CheckpointHash: cp.CheckpointHash,
		})
	}

	return keyhierarchy.VerifyCheckpointSignatures(signatures)
}

// TotalElapsedTime returns the sum of all VDF-proven minimum elapsed
// times across the chain.
func (c *Chain) TotalElapsedTime() time.Duration {
	var total time.Duration
	for _, cp := range c.Checkpoints {
		proof := &vdf.Proof{Iterations: cp.VDFIterations}
		total += proof.MinElapsedTime(c.VDFParams)
	}
	return total
}

// ChainSummary is a human-readable summary of the chain's state.
type ChainSummary struct {
	DocumentPath     string        `json:"document_path"`
	CheckpointCount  int           `json:"checkpoint_count"`
	FirstCommit      time.Time     `json:"first_commit"`
	LastCommit       time.Time     `json:"last_commit"`
	TotalElapsedTime time.Duration `json:"total_elapsed_time"`
	FinalDocumentHash string       `json:"final_document_hash"`
	ChainValid       bool          `json:"chain_valid"`
}

func (c *Chain) Summary() ChainSummary {
	s := ChainSummary{
		DocumentPath:    c.DocumentPath,
		CheckpointCount: len(c.Checkpoints),
	}

	if len(c.Checkpoints) > 0 {
		s.FirstCommit = c.Checkpoints[0].Timestamp
		s.LastCommit = c.Checkpoints[len(c.Checkpoints)-1].Timestamp
		s.FinalDocumentHash = hex.EncodeToString(c.Checkpoints[len(c.Checkpoints)-1].DocumentHash[:])
	}

	s.TotalElapsedTime = c.TotalElapsedTime()
	s.ChainValid = c.Verify() == nil

	return s
}

// Save persists the chain to disk. The live session/trigger/MMR handles
// are not serialized; they belong to the running process, not the
// sealed chain record.
func (c *Chain) Save(path string) error {
	c.storagePath = path

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write chain: %w", err)
	}

	return nil
}

// Load reads a sealed chain from disk. The returned chain has no live
// session/trigger/MMR attached; it is suitable for verification only.
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}

	var c Chain
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain: %w", err)
	}

	c.storagePath = path
	return &c, nil
}

// Latest returns the most recent checkpoint, or nil if empty.
func (c *Chain) Latest() *Checkpoint {
	if len(c.Checkpoints) == 0 {
		return nil
	}
	return c.Checkpoints[len(c.Checkpoints)-1]
}

// At returns the checkpoint at a specific ordinal.
func (c *Chain) At(ordinal uint64) (*Checkpoint, error) {
	if ordinal >= uint64(len(c.Checkpoints)) {
		return nil, errors.New("ordinal out of range")
	}
	return c.Checkpoints[ordinal], nil
}

// StoragePath returns where the chain is persisted.
func (c *Chain) StoragePath() string {
	return c.storagePath
}

// Close releases the chain's live resources. Safe to call on a chain
// with no event store attached.
func (c *Chain) Close() error {
	var firstErr error
	if c.eventStore != nil {
		if err := c.eventStore.Close(); err != nil {
			firstErr = err
		}
	}
	if c.secureStore != nil {
		if err := c.secureStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MMRRoot returns the current root of the MMR log backing this chain, or
// an error if the chain has no live log attached (e.g. loaded from disk
// for verification only).
func (c *Chain) MMRRoot() ([32]byte, error) {
	if c.log == nil {
		return [32]byte{}, errors.New("checkpoint: chain has no attached MMR log")
	}
	return c.log.GetRoot()
}

// FindChain locates the sealed chain file for a document under a
// witnessd data directory's "chains" subdirectory and returns its path
// for Load. It exists for the legacy JSON-chain workflow; chains
// committed through the SQLite event log do not use it.
func FindChain(documentPath, dataDir string) (string, error) {
	absPath, err := filepath.Abs(documentPath)
	if err != nil {
		return "", fmt.Errorf("invalid document path: %w", err)
	}

	chainsDir := filepath.Join(dataDir, "chains")
	matches, err := filepath.Glob(filepath.Join(chainsDir, "*.json"))
	if err != nil {
		return "", fmt.Errorf("failed to list chains: %w", err)
	}

	for _, path := range matches {
		chain, err := Load(path)
		if err != nil {
			continue
		}
		if chain.DocumentPath == absPath {
			return path, nil
		}
	}

	return "", fmt.Errorf("no chain found for %s", documentPath)
}
