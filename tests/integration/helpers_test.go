//go:build integration

// Package integration provides end-to-end tests for witnessd: document
// changes flowing through checkpoint sealing, MMR inclusion, evidence
// packet export, and independent verification.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"witnessd/internal/checkpoint"
	"witnessd/internal/keyhierarchy"
	"witnessd/internal/mmr"
	"witnessd/internal/trigger"
	"witnessd/internal/vdf"
)

// fastVDFParams returns VDF parameters calibrated for quick test runs
// rather than real wall-clock delay proofs.
func fastVDFParams() vdf.Parameters {
	return vdf.Parameters{
		IterationsPerSecond: 1_000_000,
		MinIterations:       100,
		MaxIterations:       100_000,
	}
}

// TestRig bundles a document, its checkpoint chain, and the key-hierarchy
// session signing it, the same assembly `cmd/witnessd` performs, wired
// directly for in-process testing.
type TestRig struct {
	t         *testing.T
	DocPath   string
	PUF       *keyhierarchy.SoftwarePUF
	Identity  *keyhierarchy.MasterIdentity
	Session   *keyhierarchy.Session
	Chain     *checkpoint.Chain
	Log       *mmr.MMR
	VDFParams vdf.Parameters
}

// NewTestRig creates a document at dir/name with the given initial content
// and wires a fresh checkpoint chain to it.
func NewTestRig(t *testing.T, dir, name, content string) *TestRig {
	t.Helper()

	docPath := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(docPath, []byte(content), 0600))

	seed := sha256.Sum256([]byte(docPath))
	puf := keyhierarchy.NewSoftwarePUFFromSeed("test-device", seed[:])

	identity, err := keyhierarchy.DeriveMasterIdentity(puf)
	require.NoError(t, err)

	docHash := sha256.Sum256([]byte(content))
	session, err := keyhierarchy.StartSession(puf, docHash)
	require.NoError(t, err)

	trig := trigger.NewManager(trigger.DefaultConfig(), int64(len(content)))

	store := mmr.NewMemoryStore()
	log, err := mmr.New(store)
	require.NoError(t, err)

	vdfParams := fastVDFParams()
	chain, err := checkpoint.NewChain(docPath, vdfParams, session, trig, log)
	require.NoError(t, err)

	return &TestRig{
		t:         t,
		DocPath:   docPath,
		PUF:       puf,
		Identity:  identity,
		Session:   session,
		Chain:     chain,
		Log:       log,
		VDFParams: vdfParams,
	}
}

// WriteContent overwrites the rig's document with new content.
func (r *TestRig) WriteContent(content string) {
	r.t.Helper()
	require.NoError(r.t, os.WriteFile(r.DocPath, []byte(content), 0600))
}

// Commit seals a checkpoint with the given trigger reason, refreshing the
// chain's view of the document from disk.
func (r *TestRig) Commit(reason trigger.Reason, dur time.Duration) *checkpoint.Checkpoint {
	r.t.Helper()
	cp, err := r.Chain.Commit(reason, dur)
	require.NoError(r.t, err)
	return cp
}

// DocumentHash returns the sha256 of the rig document's current contents.
func (r *TestRig) DocumentHash() [32]byte {
	r.t.Helper()
	content, err := os.ReadFile(r.DocPath)
	require.NoError(r.t, err)
	return sha256.Sum256(content)
}
