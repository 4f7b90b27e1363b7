// Package evidence integration with external anchors.

package evidence

import (
	"time"

	"witnessd/internal/anchors"
)

// AnchorManager handles external timestamp anchoring for evidence.
type AnchorManager struct {
	registry *anchors.Registry
	timeout  time.Duration
}

// NewAnchorManager creates an anchor manager with the given registry.
// If registry is nil, a default registry (OTS + RFC3161 enabled) is created.
func NewAnchorManager(registry *anchors.Registry) *AnchorManager {
	if registry == nil {
		registry = anchors.NewRegistry()
	}
	return &AnchorManager{
		registry: registry,
		timeout:  30 * time.Second,
	}
}

// SetTimeout sets the timeout for anchor operations.
func (m *AnchorManager) SetTimeout(d time.Duration) {
	m.timeout = d
}

// Enable enables an anchor type for submission.
func (m *AnchorManager) Enable(t anchors.AnchorType) error {
	return m.registry.Enable(t)
}

// EnabledTypes returns the anchor types currently enabled.
func (m *AnchorManager) EnabledTypes() []anchors.AnchorType {
	return m.registry.EnabledTypes()
}

// Provider returns the narrow capability view (submit, check status,
// verify, upgrade, availability) of one enabled anchor type, for callers
// that want a single provider rather than the registry's
// fan-out-to-all-enabled Commit.
func (m *AnchorManager) Provider(t anchors.AnchorType) anchors.AnchorProvider {
	return anchors.NewProvider(m.registry, t)
}

// AnchorChain submits the chain hash to all enabled anchors.
// Returns records for all successful submissions.
func (m *AnchorManager) AnchorChain(chainHash [32]byte) ([]*anchors.AnchorRecord, error) {
	return m.registry.Commit(chainHash[:])
}

// AnchorResult contains the result of an asynchronous anchor operation.
type AnchorResult struct {
	Records []*anchors.AnchorRecord
	Error   error
}

// AnchorChainAsync submits to anchors asynchronously and returns immediately.
func (m *AnchorManager) AnchorChainAsync(chainHash [32]byte) chan *AnchorResult {
	resultChan := make(chan *AnchorResult, 1)

	go func() {
		defer close(resultChan)
		records, err := m.registry.Commit(chainHash[:])
		resultChan <- &AnchorResult{Records: records, Error: err}
	}()

	return resultChan
}

// UpgradeAll attempts to upgrade all pending records to confirmed status.
func (m *AnchorManager) UpgradeAll() {
	m.registry.UpgradeAll()
}

// VerifyChain verifies a chain hash against its stored anchor records.
func (m *AnchorManager) VerifyChain(chainHash [32]byte) (*anchors.VerifyResult, error) {
	return m.registry.Verify(chainHash[:])
}

// AddAnchorsToBuilder adds anchor records to an evidence builder.
func AddAnchorsToBuilder(builder *Builder, records []*anchors.AnchorRecord) *Builder {
	return builder.WithAnchors(records)
}

// AnchorAndBuild anchors the chain hash and adds records to the evidence.
func AnchorAndBuild(builder *Builder, chainHash [32]byte, mgr *AnchorManager) (*Packet, error) {
	records, err := mgr.AnchorChain(chainHash)
	if err != nil {
		// Anchoring failed, but we can still build without anchors.
		return builder.Build()
	}
	return builder.WithAnchors(records).Build()
}
