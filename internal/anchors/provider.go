package anchors

import (
	"context"
	"fmt"
)

// AnchorProvider is the capability contract for an external timestamp
// anchor: submit, check status, verify, an optional upgrade, and an
// availability probe. Registry and the individual Anchor implementations
// predate this contract and keep their own Commit/Verify/UpgradeProof
// naming; Provider adapts one registered anchor type to this narrower
// surface without disturbing the existing one.
type AnchorProvider interface {
	// Submit anchors hash with this provider and returns a pending or
	// confirmed record.
	Submit(ctx context.Context, hash []byte) (*AnchorRecord, error)

	// CheckStatus reports the current status of a previously submitted
	// record by re-reading it from the registry.
	CheckStatus(ctx context.Context, recordID string) (AnchorStatus, error)

	// Verify checks proof against hash directly, independent of any
	// stored record.
	Verify(ctx context.Context, hash, proof []byte) error

	// Upgrade attempts to move a pending proof toward confirmation.
	// Providers whose underlying anchor is not upgradable (e.g. RFC 3161,
	// confirmed at submission time) report ErrNotUpgradable; the
	// capability is optional per anchor type.
	Upgrade(ctx context.Context, record *AnchorRecord) (*AnchorRecord, error)

	// IsAvailable reports whether this provider is enabled and reachable.
	IsAvailable() bool
}

// ErrNotUpgradable is returned by Upgrade for anchor types that confirm
// synchronously and have no pending-proof upgrade path.
var ErrNotUpgradable = fmt.Errorf("anchors: underlying anchor does not support upgrade")

// registryProvider adapts one AnchorType registered in a Registry to the
// AnchorProvider contract.
type registryProvider struct {
	registry   *Registry
	anchorType AnchorType
}

// NewProvider returns the AnchorProvider view of anchorType within
// registry. It does not itself enable the type; call Registry.Enable
// first, or IsAvailable will report false.
func NewProvider(registry *Registry, anchorType AnchorType) AnchorProvider {
	return &registryProvider{registry: registry, anchorType: anchorType}
}

func (p *registryProvider) Submit(_ context.Context, hash []byte) (*AnchorRecord, error) {
	record, err := p.registry.CommitSingle(p.anchorType, hash)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (p *registryProvider) CheckStatus(_ context.Context, recordID string) (AnchorStatus, error) {
	record := p.registry.GetRecord(recordID)
	if record == nil {
		return "", ErrAnchorNotFound
	}
	return record.Status, nil
}

func (p *registryProvider) Verify(_ context.Context, hash, proof []byte) error {
	return p.registry.VerifyProof(p.anchorType, hash, proof)
}

func (p *registryProvider) Upgrade(_ context.Context, record *AnchorRecord) (*AnchorRecord, error) {
	p.registry.mu.RLock()
	anchor, ok := p.registry.anchors[p.anchorType]
	p.registry.mu.RUnlock()
	if !ok {
		return nil, ErrAnchorNotFound
	}

	upgradable, ok := anchor.(UpgradableAnchor)
	if !ok {
		return record, ErrNotUpgradable
	}

	proof, confirmed, err := upgradable.UpgradeProof(record.Proof)
	if err != nil {
		return record, err
	}

	record.Proof = proof
	if confirmed {
		record.Status = StatusConfirmed
	}
	return record, nil
}

func (p *registryProvider) IsAvailable() bool {
	return p.registry.IsEnabled(p.anchorType)
}
