package jitter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainReplayReproducesWithinTolerance(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("a deterministic test seed 12345"))
	var docHash [32]byte
	copy(docHash[:], []byte("document-hash-fixture-bytes----"))

	c := NewChain(seed, docHash, TimingOnly, true)

	var elements []Element
	for i := 0; i < 10; i++ {
		j, ok := c.Inject(ChannelKey, 500, 3000)
		require.True(t, ok)
		elements = append(elements, Element{EventCount: uint64(i), JitterUs: j, Channel: ChannelKey})
	}

	require.NoError(t, ReplayWithParams(seed, docHash, 500, 3000, elements))
}

func TestChainReplayRejectsMutation(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("a deterministic test seed 12345"))
	var docHash [32]byte
	copy(docHash[:], []byte("document-hash-fixture-bytes----"))

	c := NewChain(seed, docHash, TimingOnly, true)
	var elements []Element
	for i := 0; i < 5; i++ {
		j, _ := c.Inject(ChannelKey, 500, 3000)
		elements = append(elements, Element{EventCount: uint64(i), JitterUs: j, Channel: ChannelKey})
	}

	elements[2].JitterUs += 1000
	require.Error(t, ReplayWithParams(seed, docHash, 500, 3000, elements))
}

func TestFirstMoveOnlyInjectsOnce(t *testing.T) {
	var seed, docHash [32]byte
	c := NewChain(seed, docHash, FirstMoveOnly, true)

	_, ok := c.Inject(ChannelMouse, 500, 3000)
	require.True(t, ok)

	_, ok = c.Inject(ChannelMouse, 500, 3000)
	require.False(t, ok)
}

func TestSubPixelOffsetRange(t *testing.T) {
	var seed, docHash [32]byte
	c := NewChain(seed, docHash, SubPixel, true)

	dx, dy, ok := c.SubPixelOffset(ChannelMouse)
	require.True(t, ok)
	require.Contains(t, subPixelStep[:], dx)
	require.Contains(t, subPixelStep[:], dy)

	_, ok = c.Inject(ChannelMouse, 500, 3000)
	require.False(t, ok, "SubPixel mode must no-op for timing injection")
}

func TestDisabledChainNeverInjects(t *testing.T) {
	var seed, docHash [32]byte
	c := NewChain(seed, docHash, TimingOnly, false)
	_, ok := c.Inject(ChannelKey, 500, 3000)
	require.False(t, ok)
}
