//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"witnessd/internal/evidence"
	"witnessd/internal/trigger"
)

// TestFullWitnessingFlow drives a document through repeated edits and
// checkpoints, exports a standard-tier evidence packet, and verifies it
// end to end, the same path cmd/witnessd's commit/export/verify
// commands take.
func TestFullWitnessingFlow(t *testing.T) {
	dir := t.TempDir()
	rig := NewTestRig(t, dir, "manuscript.md", "# Chapter One\n\nIt was a dark night.\n")

	rig.Commit(trigger.Manual, 0)

	rig.WriteContent("# Chapter One\n\nIt was a dark night. The rain fell.\n")
	rig.Commit(trigger.TypingPause, 20*time.Millisecond)

	rig.WriteContent("# Chapter One\n\nIt was a dark night. The rain fell.\n\n# Chapter Two\n")
	cpFinal := rig.Commit(trigger.Manual, 20*time.Millisecond)

	require.NoError(t, rig.Chain.Verify())
	require.Len(t, rig.Chain.Checkpoints, 3)
	require.Equal(t, uint64(2), cpFinal.Ordinal)

	builder := evidence.NewBuilder("manuscript.md", rig.Chain).
		WithKeyHierarchy(rig.Session.Export(rig.Identity))

	packet, err := builder.Build()
	require.NoError(t, err)
	require.Equal(t, evidence.Standard, packet.Strength)
	require.Len(t, packet.Checkpoints, 3)
	require.NotEmpty(t, packet.Claims)

	encoded, err := packet.Encode()
	require.NoError(t, err)

	decoded, err := evidence.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, packet.Hash(), decoded.Hash())

	require.NoError(t, decoded.Verify(rig.VDFParams))
}

// TestBasicTierExportHasNoIdentityClaims verifies that a basic-tier
// export contains only checkpoint-chain evidence, with no key hierarchy
// identity material leaked into the packet.
func TestBasicTierExportHasNoIdentityClaims(t *testing.T) {
	dir := t.TempDir()
	rig := NewTestRig(t, dir, "note.txt", "first draft")
	rig.Commit(trigger.Manual, 0)

	packet, err := evidence.NewBuilder("note.txt", rig.Chain).Build()
	require.NoError(t, err)
	require.Equal(t, evidence.Basic, packet.Strength)
	require.Nil(t, packet.KeyHierarchy)
}
