// Package internal provides integration tests for the witnessd cryptographic core.
//
// These tests verify the complete evidence verification pipeline:
// 1. Create document checkpoints with VDF proofs
// 2. Append checkpoint hashes to an MMR
// 3. Generate and verify inclusion proofs
// 4. Verify the complete evidence chain
package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"witnessd/internal/checkpoint"
	"witnessd/internal/keyhierarchy"
	"witnessd/internal/mmr"
	"witnessd/internal/trigger"
	"witnessd/internal/vdf"
)

// newTestChain wires a checkpoint.Chain to a fresh software-PUF session,
// a default trigger manager, and an in-memory MMR log, the same
// assembly order used in production.
func newTestChain(t testing.TB, docPath string, vdfParams vdf.Parameters) (*checkpoint.Chain, *mmr.MMR) {
	t.Helper()

	content, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("failed to read document: %v", err)
	}
	docHash := sha256.Sum256(content)

	seed := sha256.Sum256([]byte(docPath))
	puf := keyhierarchy.NewSoftwarePUFFromSeed("test-device", seed[:])

	session, err := keyhierarchy.StartSession(puf, docHash)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	trig := trigger.NewManager(trigger.DefaultConfig(), int64(len(content)))

	store := mmr.NewMemoryStore()
	log, err := mmr.New(store)
	if err != nil {
		t.Fatalf("failed to create MMR: %v", err)
	}

	chain, err := checkpoint.NewChain(docPath, vdfParams, session, trig, log)
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}

	return chain, log
}

// =============================================================================
// INTEGRATION: Full Evidence Pipeline
// =============================================================================

// TestFullEvidencePipeline tests the complete flow from document creation
// through checkpoint commit, MMR storage, and proof verification.
func TestFullEvidencePipeline(t *testing.T) {
	tmpDir := t.TempDir()

	docPath := filepath.Join(tmpDir, "evidence.txt")
	initialContent := []byte("Initial document content - version 1")
	if err := os.WriteFile(docPath, initialContent, 0644); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	cp1, err := chain.Commit(trigger.Manual, 0)
	if err != nil {
		t.Fatalf("Failed to create first checkpoint: %v", err)
	}
	t.Logf("Checkpoint 1 added at MMR index %d", len(chain.Checkpoints)-1)

	updatedContent := []byte("Updated document content - version 2")
	if err := os.WriteFile(docPath, updatedContent, 0644); err != nil {
		t.Fatalf("Failed to update document: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	cp2, err := chain.Commit(trigger.Manual, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create second checkpoint: %v", err)
	}

	if err := chain.Verify(); err != nil {
		t.Fatalf("Checkpoint chain verification failed: %v", err)
	}
	t.Log("Checkpoint chain verified successfully")

	proof1, err := log.GenerateProof(0)
	if err != nil {
		t.Fatalf("Failed to generate proof for checkpoint 1: %v", err)
	}
	if err := proof1.Verify(cp1.CheckpointHash[:]); err != nil {
		t.Fatalf("Inclusion proof verification failed for checkpoint 1: %v", err)
	}
	t.Log("Checkpoint 1 inclusion proof verified")

	proof2, err := log.GenerateProof(1)
	if err != nil {
		t.Fatalf("Failed to generate proof for checkpoint 2: %v", err)
	}
	if err := proof2.Verify(cp2.CheckpointHash[:]); err != nil {
		t.Fatalf("Inclusion proof verification failed for checkpoint 2: %v", err)
	}
	t.Log("Checkpoint 2 inclusion proof verified")

	vdfProof := &vdf.Proof{Input: cp2.VDFInput, Output: cp2.VDFOutput, Iterations: cp2.VDFIterations}
	if !vdf.Verify(vdfProof) {
		t.Fatal("VDF proof verification failed")
	}
	t.Log("VDF proof verified")

	summary := chain.Summary()
	t.Logf("Chain Summary: %d checkpoints, valid=%v", summary.CheckpointCount, summary.ChainValid)
}

// TestMultiVersionDocumentEvidence tests creating evidence for multiple
// document versions and verifying the complete history.
func TestMultiVersionDocumentEvidence(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "manuscript.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	if err := os.WriteFile(docPath, []byte("Chapter 1: The Beginning"), 0644); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	versions := []string{
		"Chapter 1: The Beginning",
		"Chapter 1: The Beginning\nChapter 2: The Journey",
		"Chapter 1: The Beginning\nChapter 2: The Journey\nChapter 3: The End",
		"Chapter 1: The Beginning (Revised)\nChapter 2: The Journey\nChapter 3: The End",
	}

	checkpoints := make([]*checkpoint.Checkpoint, 0)

	for i, content := range versions {
		if err := os.WriteFile(docPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write version %d: %v", i+1, err)
		}

		dur := time.Duration(0)
		if i > 0 {
			dur = 50 * time.Millisecond
		}
		cp, err := chain.Commit(trigger.Manual, dur)
		if err != nil {
			t.Fatalf("Failed to commit version %d: %v", i+1, err)
		}
		checkpoints = append(checkpoints, cp)

		t.Logf("Version %d: hash=%s, ordinal=%d", i+1, hex.EncodeToString(cp.CheckpointHash[:8]), cp.Ordinal)
	}

	if err := chain.Verify(); err != nil {
		t.Fatalf("Chain verification failed: %v", err)
	}

	for i, cp := range checkpoints {
		proof, err := log.GenerateProof(uint64(i))
		if err != nil {
			t.Fatalf("Failed to generate proof for version %d: %v", i+1, err)
		}
		if err := proof.Verify(cp.CheckpointHash[:]); err != nil {
			t.Fatalf("Proof verification failed for version %d: %v", i+1, err)
		}
	}

	rangeProof, err := log.GenerateRangeProof(0, uint64(len(versions)-1))
	if err != nil {
		t.Fatalf("Failed to generate range proof: %v", err)
	}

	leafData := make([][]byte, len(checkpoints))
	for i, cp := range checkpoints {
		leafData[i] = cp.CheckpointHash[:]
	}

	if err := rangeProof.Verify(leafData); err != nil {
		t.Fatalf("Range proof verification failed: %v", err)
	}
	t.Log("Range proof for all versions verified")

	totalTime := chain.TotalElapsedTime()
	t.Logf("Total VDF-proven elapsed time: %v", totalTime)
}

// TestCrossVerification tests that proofs generated from one MMR state
// remain valid and can be verified later.
func TestCrossVerification(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "doc.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	if err := os.WriteFile(docPath, []byte("Content v1"), 0644); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	cp1, err := chain.Commit(trigger.Manual, 0)
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	proof1, err := log.GenerateProof(0)
	if err != nil {
		t.Fatalf("Failed to generate proof: %v", err)
	}

	root1, _ := log.GetRoot()

	for i := 2; i <= 5; i++ {
		content := fmt.Sprintf("Content v%d", i)
		if err := os.WriteFile(docPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		if _, err := chain.Commit(trigger.Manual, 50*time.Millisecond); err != nil {
			t.Fatalf("Failed to commit v%d: %v", i, err)
		}
	}

	if err := proof1.Verify(cp1.CheckpointHash[:]); err != nil {
		t.Fatalf("Old proof should still verify: %v", err)
	}

	if proof1.Root != root1 {
		t.Fatal("Proof root should match the MMR root at time of proof generation")
	}

	t.Log("Cross-verification successful: old proofs remain valid")
}

// =============================================================================
// INTEGRATION: Persistence and Recovery
// =============================================================================

// TestPersistenceAndRecovery tests saving and loading the sealed chain
// (verification-only) alongside its independently-recoverable MMR log.
func TestPersistenceAndRecovery(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "persistent.txt")
	chainPath := filepath.Join(tmpDir, "chain.json")
	mmrPath := filepath.Join(tmpDir, "mmr.dat")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	if err := os.WriteFile(docPath, []byte("Persistent content"), 0644); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	content, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("failed to read document: %v", err)
	}
	docHash := sha256.Sum256(content)
	seed := sha256.Sum256([]byte(docPath))
	puf := keyhierarchy.NewSoftwarePUFFromSeed("test-device", seed[:])
	session, err := keyhierarchy.StartSession(puf, docHash)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	trig := trigger.NewManager(trigger.DefaultConfig(), int64(len(content)))

	mmrStore1, err := mmr.OpenFileStore(mmrPath)
	if err != nil {
		t.Fatalf("Failed to create MMR store: %v", err)
	}
	defer mmrStore1.Close()

	mmrTree1, err := mmr.New(mmrStore1)
	if err != nil {
		t.Fatalf("Failed to create MMR: %v", err)
	}

	chain1, err := checkpoint.NewChain(docPath, vdfParams, session, trig, mmrTree1)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}

	cp1, err := chain1.Commit(trigger.Manual, 0)
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	originalProof, _ := mmrTree1.GenerateProof(0)
	originalRoot, _ := mmrTree1.GetRoot()

	if err := chain1.Save(chainPath); err != nil {
		t.Fatalf("Failed to save chain: %v", err)
	}

	if err := mmrStore1.Sync(); err != nil {
		t.Fatalf("Failed to sync MMR: %v", err)
	}
	mmrStore1.Close()

	chain2, err := checkpoint.Load(chainPath)
	if err != nil {
		t.Fatalf("Failed to load chain: %v", err)
	}

	if err := chain2.Verify(); err != nil {
		t.Fatalf("Loaded chain verification failed: %v", err)
	}

	mmrStore2, err := mmr.OpenFileStore(mmrPath)
	if err != nil {
		t.Fatalf("Failed to reopen MMR store: %v", err)
	}
	defer mmrStore2.Close()

	mmrTree2, err := mmr.New(mmrStore2)
	if err != nil {
		t.Fatalf("Failed to recreate MMR: %v", err)
	}

	recoveredRoot, err := mmrTree2.GetRoot()
	if err != nil {
		t.Fatalf("Failed to get recovered root: %v", err)
	}

	if recoveredRoot != originalRoot {
		t.Fatal("Recovered MMR root does not match original")
	}

	recoveredProof, err := mmrTree2.GenerateProof(0)
	if err != nil {
		t.Fatalf("Failed to generate proof from recovered MMR: %v", err)
	}

	if recoveredProof.Root != originalProof.Root {
		t.Fatal("Recovered proof root does not match original proof root")
	}

	loadedCP := chain2.Checkpoints[0]
	if loadedCP.CheckpointHash != cp1.CheckpointHash {
		t.Fatal("Loaded checkpoint hash does not match original")
	}
	if err := recoveredProof.Verify(loadedCP.CheckpointHash[:]); err != nil {
		t.Fatalf("Proof verification failed after recovery: %v", err)
	}

	t.Log("Persistence and recovery verified successfully")
}

// =============================================================================
// INTEGRATION: Tamper Detection
// =============================================================================

// TestTamperDetectionCheckpoint tests that checkpoint tampering is detected.
func TestTamperDetectionCheckpoint(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "doc.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	if err := os.WriteFile(docPath, []byte("Original"), 0644); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	chain, _ := newTestChain(t, docPath, vdfParams)
	if _, err := chain.Commit(trigger.Manual, 0); err != nil {
		t.Fatalf("Failed to commit first checkpoint: %v", err)
	}

	if err := os.WriteFile(docPath, []byte("Modified"), 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if _, err := chain.Commit(trigger.Manual, 50*time.Millisecond); err != nil {
		t.Fatalf("Failed to commit second checkpoint: %v", err)
	}

	original := chain.Checkpoints[1].CheckpointHash
	chain.Checkpoints[1].CheckpointHash[0] ^= 0xFF

	err := chain.Verify()
	if err == nil {
		t.Fatal("Tampering with checkpoint hash should be detected")
	}
	t.Logf("Tampered hash detected: %v", err)

	chain.Checkpoints[1].CheckpointHash = original
	chain.Checkpoints[1].DocumentHash[0] ^= 0xFF

	err = chain.Verify()
	if err == nil {
		t.Fatal("Tampering with document hash should be detected")
	}
	t.Logf("Tampered document hash detected: %v", err)
}

// TestTamperDetectionMMR tests that MMR proof tampering is detected.
func TestTamperDetectionMMR(t *testing.T) {
	mmrStore := mmr.NewMemoryStore()
	mmrTree, _ := mmr.New(mmrStore)

	data1 := []byte("checkpoint-hash-1")
	data2 := []byte("checkpoint-hash-2")
	data3 := []byte("checkpoint-hash-3")

	idx1, _ := mmrTree.Append(data1)
	mmrTree.Append(data2)
	mmrTree.Append(data3)

	proof, _ := mmrTree.GenerateProof(idx1)

	if err := proof.Verify(data1); err != nil {
		t.Fatalf("Original proof should verify: %v", err)
	}

	tamperedProof := *proof
	tamperedProof.LeafHash[0] ^= 0xFF
	if err := tamperedProof.Verify(data1); err == nil {
		t.Fatal("Tampered leaf hash should be detected")
	}

	if len(proof.MerklePath) > 0 {
		tamperedProof2 := *proof
		tamperedProof2.MerklePath = make([]mmr.ProofElement, len(proof.MerklePath))
		copy(tamperedProof2.MerklePath, proof.MerklePath)
		tamperedProof2.MerklePath[0].Hash[0] ^= 0xFF
		if err := tamperedProof2.Verify(data1); err == nil {
			t.Fatal("Tampered Merkle path should be detected")
		}
	}

	tamperedProof3 := *proof
	tamperedProof3.Root[0] ^= 0xFF
	if err := tamperedProof3.Verify(data1); err == nil {
		t.Fatal("Tampered root should be detected")
	}

	wrongData := []byte("wrong-checkpoint-hash")
	if err := proof.Verify(wrongData); err == nil {
		t.Fatal("Wrong data should fail verification")
	}

	t.Log("All MMR tampering attempts detected")
}

// TestTamperDetectionVDF tests that VDF proof tampering is detected.
func TestTamperDetectionVDF(t *testing.T) {
	var input [32]byte
	copy(input[:], "test-input-for-vdf-tamper")

	proof := vdf.ComputeIterations(input, 1000)

	if !vdf.Verify(proof) {
		t.Fatal("Original VDF proof should verify")
	}

	tamperedInput := *proof
	tamperedInput.Input[0] ^= 0xFF
	if vdf.Verify(&tamperedInput) {
		t.Fatal("Tampered input should be detected")
	}

	tamperedOutput := *proof
	tamperedOutput.Output[0] ^= 0xFF
	if vdf.Verify(&tamperedOutput) {
		t.Fatal("Tampered output should be detected")
	}

	tamperedIter := *proof
	tamperedIter.Iterations++
	if vdf.Verify(&tamperedIter) {
		t.Fatal("Tampered iterations should be detected")
	}

	t.Log("All VDF tampering attempts detected")
}

// =============================================================================
// INTEGRATION: Complete Evidence Bundle
// =============================================================================

// EvidenceBundle represents a complete evidence package that can be
// exported and verified independently.
type EvidenceBundle struct {
	DocumentHash   [32]byte                `json:"document_hash"`
	Checkpoint     *checkpoint.Checkpoint  `json:"checkpoint"`
	InclusionProof *mmr.InclusionProof     `json:"inclusion_proof"`
	MMRRoot        [32]byte                `json:"mmr_root"`
	ChainSummary   checkpoint.ChainSummary `json:"chain_summary"`
	GeneratedAt    time.Time               `json:"generated_at"`
}

// TestEvidenceBundleCreationAndVerification tests creating a complete
// evidence bundle and verifying it independently.
func TestEvidenceBundleCreationAndVerification(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "evidence-doc.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	content := []byte("This document needs timestamped evidence")
	if err := os.WriteFile(docPath, content, 0644); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	cp1, err := chain.Commit(trigger.Manual, 0)
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	if err := os.WriteFile(docPath, append(content, []byte(" - updated")...), 0644); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	cp2, err := chain.Commit(trigger.Manual, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to commit update: %v", err)
	}

	proof, _ := log.GenerateProof(1)
	root, _ := log.GetRoot()

	bundle := EvidenceBundle{
		DocumentHash:   cp2.DocumentHash,
		Checkpoint:     cp2,
		InclusionProof: proof,
		MMRRoot:        root,
		ChainSummary:   chain.Summary(),
		GeneratedAt:    time.Now(),
	}

	bundleJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		t.Fatalf("Failed to serialize bundle: %v", err)
	}
	t.Logf("Evidence bundle size: %d bytes", len(bundleJSON))

	var loadedBundle EvidenceBundle
	if err := json.Unmarshal(bundleJSON, &loadedBundle); err != nil {
		t.Fatalf("Failed to deserialize bundle: %v", err)
	}

	computedHash := loadedBundle.Checkpoint.CheckpointHash

	vdfProof := &vdf.Proof{
		Input:      loadedBundle.Checkpoint.VDFInput,
		Output:     loadedBundle.Checkpoint.VDFOutput,
		Iterations: loadedBundle.Checkpoint.VDFIterations,
	}
	if !vdf.Verify(vdfProof) {
		t.Fatal("VDF verification failed in bundle")
	}

	if err := loadedBundle.InclusionProof.Verify(computedHash[:]); err != nil {
		t.Fatalf("Inclusion proof verification failed: %v", err)
	}

	if loadedBundle.InclusionProof.Root != loadedBundle.MMRRoot {
		t.Fatal("Root mismatch in bundle")
	}

	t.Log("Evidence bundle verification complete")

	proof1, _ := log.GenerateProof(0)
	bundle1 := EvidenceBundle{
		DocumentHash:   cp1.DocumentHash,
		Checkpoint:     cp1,
		InclusionProof: proof1,
		MMRRoot:        root,
		ChainSummary:   chain.Summary(),
		GeneratedAt:    time.Now(),
	}

	if bundle1.Checkpoint.Ordinal != 0 {
		t.Fatal("First checkpoint should have ordinal 0")
	}

	if err := bundle1.InclusionProof.Verify(cp1.CheckpointHash[:]); err != nil {
		t.Fatalf("First checkpoint proof verification failed: %v", err)
	}

	t.Log("Both checkpoint bundles verified")
}

// =============================================================================
// INTEGRATION: Concurrent Operations
// =============================================================================

// TestConcurrentCheckpointsAndMMR tests thread-safety of the integration
// across independent document chains, each with its own MMR log.
func TestConcurrentCheckpointsAndMMR(t *testing.T) {
	tmpDir := t.TempDir()
	numDocs := 5
	checkpointsPerDoc := 10

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 10_000_000,
		MinIterations:       10,
		MaxIterations:       1_000,
	}

	type result struct {
		docID   int
		cpIndex int
		err     error
	}

	results := make(chan result, numDocs*checkpointsPerDoc)

	for d := 0; d < numDocs; d++ {
		go func(docID int) {
			docPath := filepath.Join(tmpDir, fmt.Sprintf("doc%d.txt", docID))
			if err := os.WriteFile(docPath, []byte(fmt.Sprintf("Doc %d initial", docID)), 0644); err != nil {
				results <- result{docID: docID, err: err}
				return
			}

			chain, _ := newTestChain(t, docPath, vdfParams)

			for i := 0; i < checkpointsPerDoc; i++ {
				content := fmt.Sprintf("Doc %d version %d", docID, i)
				if err := os.WriteFile(docPath, []byte(content), 0644); err != nil {
					results <- result{docID: docID, cpIndex: i, err: err}
					continue
				}

				dur := time.Duration(0)
				if i > 0 {
					dur = 10 * time.Millisecond
				}
				if _, err := chain.Commit(trigger.Manual, dur); err != nil {
					results <- result{docID: docID, cpIndex: i, err: err}
					continue
				}

				results <- result{docID: docID, cpIndex: i}
			}

			if err := chain.Verify(); err != nil {
				results <- result{docID: docID, err: fmt.Errorf("chain verify: %w", err)}
			}
		}(d)
	}

	successCount := 0
	for i := 0; i < numDocs*checkpointsPerDoc; i++ {
		r := <-results
		if r.err != nil {
			t.Errorf("Error for doc %d, cp %d: %v", r.docID, r.cpIndex, r.err)
			continue
		}
		successCount++
	}

	t.Logf("Concurrent operations: %d/%d succeeded", successCount, numDocs*checkpointsPerDoc)
}

// =============================================================================
// INTEGRATION: Edge Cases
// =============================================================================

// TestEmptyDocumentEvidence tests evidence creation for empty documents.
func TestEmptyDocumentEvidence(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "empty.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	if err := os.WriteFile(docPath, []byte{}, 0644); err != nil {
		t.Fatalf("Failed to create empty document: %v", err)
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	cp, err := chain.Commit(trigger.Manual, 0)
	if err != nil {
		t.Fatalf("Failed to commit empty document: %v", err)
	}

	if err := chain.Verify(); err != nil {
		t.Fatalf("Chain verification failed: %v", err)
	}

	proof, _ := log.GenerateProof(0)
	if err := proof.Verify(cp.CheckpointHash[:]); err != nil {
		t.Fatalf("Proof verification failed: %v", err)
	}

	expectedHash := sha256.Sum256([]byte{})
	if cp.DocumentHash != expectedHash {
		t.Fatal("Document hash mismatch for empty document")
	}

	t.Log("Empty document evidence verified")
}

// TestLargeDocumentEvidence tests evidence creation for large documents.
func TestLargeDocumentEvidence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large document test in short mode")
	}

	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "large.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	largeContent := make([]byte, 10*1024*1024)
	for i := range largeContent {
		largeContent[i] = byte(i % 256)
	}

	if err := os.WriteFile(docPath, largeContent, 0644); err != nil {
		t.Fatalf("Failed to create large document: %v", err)
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	cp, err := chain.Commit(trigger.Manual, 0)
	if err != nil {
		t.Fatalf("Failed to commit large document: %v", err)
	}

	if err := chain.Verify(); err != nil {
		t.Fatalf("Chain verification failed: %v", err)
	}

	proof, _ := log.GenerateProof(0)
	if err := proof.Verify(cp.CheckpointHash[:]); err != nil {
		t.Fatalf("Proof verification failed: %v", err)
	}

	expectedHash := sha256.Sum256(largeContent)
	if cp.DocumentHash != expectedHash {
		t.Fatal("Document hash mismatch for large document")
	}

	t.Logf("Large document (%d bytes) evidence verified", len(largeContent))
}

// TestBinaryDocumentEvidence tests evidence creation for binary documents.
func TestBinaryDocumentEvidence(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "binary.dat")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	binaryContent := make([]byte, 256)
	for i := range binaryContent {
		binaryContent[i] = byte(i)
	}

	if err := os.WriteFile(docPath, binaryContent, 0644); err != nil {
		t.Fatalf("Failed to create binary document: %v", err)
	}

	chain, log := newTestChain(t, docPath, vdfParams)

	cp, _ := chain.Commit(trigger.Manual, 0)

	proof, _ := log.GenerateProof(0)
	if err := proof.Verify(cp.CheckpointHash[:]); err != nil {
		t.Fatalf("Proof verification failed for binary document: %v", err)
	}

	t.Log("Binary document evidence verified")
}

// =============================================================================
// INTEGRATION: Test Vectors
// =============================================================================

// TestVectorIntegration provides deterministic test vectors for the
// complete integration pipeline.
func TestVectorIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	docPath := filepath.Join(tmpDir, "vector.txt")

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       10_000,
	}

	content := []byte("Test vector content for cross-implementation testing")
	if err := os.WriteFile(docPath, content, 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	expectedDocHash := sha256.Sum256(content)
	t.Logf("Document hash: %s", hex.EncodeToString(expectedDocHash[:]))

	chain, log := newTestChain(t, docPath, vdfParams)

	cp, _ := chain.Commit(trigger.Manual, 0)

	t.Logf("Checkpoint hash: %s", hex.EncodeToString(cp.CheckpointHash[:]))
	t.Logf("MMR leaf index: %d", 0)

	root, _ := log.GetRoot()
	t.Logf("MMR root: %s", hex.EncodeToString(root[:]))

	if cp.DocumentHash != expectedDocHash {
		t.Fatalf("Document hash mismatch")
	}

	proof, _ := log.GenerateProof(0)
	t.Logf("Proof peak position: %d", proof.PeakPosition)
	t.Logf("Proof path length: %d", len(proof.MerklePath))

	if err := proof.Verify(cp.CheckpointHash[:]); err != nil {
		t.Fatalf("Test vector proof verification failed: %v", err)
	}

	t.Log("Test vector integration verified")
}

// =============================================================================
// BENCHMARKS
// =============================================================================

// BenchmarkFullPipeline benchmarks the complete evidence creation pipeline.
func BenchmarkFullPipeline(b *testing.B) {
	tmpDir := b.TempDir()
	docPath := filepath.Join(tmpDir, "bench.txt")

	content := []byte("Benchmark content for evidence pipeline")
	if err := os.WriteFile(docPath, content, 0644); err != nil {
		b.Fatalf("Failed to write: %v", err)
	}

	vdfParams := vdf.Parameters{
		IterationsPerSecond: 10_000_000,
		MinIterations:       10,
		MaxIterations:       100,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chain, log := newTestChain(b, docPath, vdfParams)
		cp, _ := chain.Commit(trigger.Manual, 0)
		proof, _ := log.GenerateProof(0)
		proof.Verify(cp.CheckpointHash[:])
	}
}

// BenchmarkProofGeneration benchmarks proof generation for various MMR sizes.
func BenchmarkProofGeneration(b *testing.B) {
	sizes := []int{10, 100, 1000}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			mmrStore := mmr.NewMemoryStore()
			mmrTree, _ := mmr.New(mmrStore)

			var lastIdx uint64
			for i := 0; i < size; i++ {
				data := []byte(fmt.Sprintf("checkpoint-hash-%d", i))
				lastIdx, _ = mmrTree.Append(data)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				mmrTree.GenerateProof(lastIdx)
			}
		})
	}
}

// BenchmarkProofVerification benchmarks proof verification.
func BenchmarkProofVerification(b *testing.B) {
	mmrStore := mmr.NewMemoryStore()
	mmrTree, _ := mmr.New(mmrStore)

	data := []byte("test-checkpoint-hash")
	idx, _ := mmrTree.Append(data)

	for i := 0; i < 100; i++ {
		mmrTree.Append([]byte(fmt.Sprintf("entry-%d", i)))
	}

	proof, _ := mmrTree.GenerateProof(idx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		proof.Verify(data)
	}
}

// BenchmarkChainVerification benchmarks checkpoint chain verification.
func BenchmarkChainVerification(b *testing.B) {
	sizes := []int{5, 10, 20}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("checkpoints=%d", size), func(b *testing.B) {
			tmpDir := b.TempDir()
			docPath := filepath.Join(tmpDir, "bench.txt")

			vdfParams := vdf.Parameters{
				IterationsPerSecond: 100_000_000,
				MinIterations:       10,
				MaxIterations:       100,
			}

			os.WriteFile(docPath, []byte("initial"), 0644)
			chain, _ := newTestChain(b, docPath, vdfParams)
			chain.Commit(trigger.Manual, 0)

			for i := 1; i < size; i++ {
				os.WriteFile(docPath, []byte(fmt.Sprintf("v%d", i)), 0644)
				chain.Commit(trigger.Manual, time.Microsecond)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				chain.Verify()
			}
		})
	}
}
