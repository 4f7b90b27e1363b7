package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestForgeryRobotic(t *testing.T) {
	fp, err := Compute(repeat(200, 20), DefaultThresholds())
	require.NoError(t, err)
	require.True(t, fp.IsSuspicious)
	require.Contains(t, fp.Flags, TooRegular)
}

func TestForgerySuperhuman(t *testing.T) {
	intervals := append(repeat(200, 15), 10, 5, 10, 5, 10)
	fp, err := Compute(intervals, DefaultThresholds())
	require.NoError(t, err)
	require.Contains(t, fp.Flags, SuperhumanSpeed)
}

func TestForgeryHuman(t *testing.T) {
	intervals := []float64{180, 220, 190, 450, 210, 170, 230, 200, 190, 210, 500, 180, 220, 200, 190}
	fp, err := Compute(intervals, DefaultThresholds())
	require.NoError(t, err)
	require.False(t, fp.IsSuspicious, "flags: %v", fp.Flags)
}

func TestInsufficientSamples(t *testing.T) {
	_, err := Compute(repeat(200, 5), DefaultThresholds())
	require.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestBurstMeanCountsRunLengths(t *testing.T) {
	// Three bursts of 3, 2, and 4 fast keystrokes, separated by >500ms
	// pauses. The pauses break the runs and belong to none of them.
	intervals := []float64{
		200, 200, 200,
		600,
		200, 200,
		600,
		200, 200, 200, 200,
	}

	fp, err := Compute(intervals, DefaultThresholds())
	require.NoError(t, err)
	require.InDelta(t, 3.0, fp.BurstMean, 0.001)
	require.NotEqual(t, fp.Mean, fp.BurstMean)
}

func TestBurstMeanAllOneBurst(t *testing.T) {
	// No interval exceeds the gap, so the whole sample is one burst.
	fp, err := Compute(repeat(200, 12), DefaultThresholds())
	require.NoError(t, err)
	require.InDelta(t, 12.0, fp.BurstMean, 0.001)
}
