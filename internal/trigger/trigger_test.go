package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaxKeystrokesFiresExactlyOnce(t *testing.T) {
	cfg := Config{
		MinKeystrokes:         5,
		MaxKeystrokes:         10,
		PauseThreshold:        time.Hour,
		EntropyThresholdBits:  1 << 20,
		SizeDeltaBytes:        1 << 30,
		MaxTimeInterval:       time.Hour,
	}
	m := NewManager(cfg, 100)

	now := time.Now()
	var fired int
	for i := 0; i < 10; i++ {
		te := m.Record(Event{JitterMicros: 10, DocSize: 100, At: now})
		if te != nil {
			fired++
			require.Equal(t, MaxKeystrokes, te.Reason)
			require.Equal(t, uint64(10), te.KeystrokesSince)
		}
	}
	require.Equal(t, 1, fired)
}

func TestEntropyHashPersistsAcrossFire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxKeystrokes = 2
	m := NewManager(cfg, 0)

	now := time.Now()
	te1 := m.Record(Event{JitterMicros: 50, DocSize: 0, At: now})
	te2 := m.Record(Event{JitterMicros: 60, DocSize: 0, At: now})
	require.Nil(t, te1)
	require.NotNil(t, te2)

	before := m.EntropyHash()
	te3 := m.Record(Event{JitterMicros: 70, DocSize: 0, At: now})
	require.Nil(t, te3)
	require.NotEqual(t, before, m.EntropyHash())
}

func TestTypingPauseRequiresMinKeystrokes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinKeystrokes = 5
	cfg.PauseThreshold = time.Millisecond
	m := NewManager(cfg, 0)

	now := time.Now()
	te := m.Record(Event{JitterMicros: 10, DocSize: 0, At: now.Add(time.Second)})
	require.Nil(t, te, "pause trigger must not fire before MinKeystrokes")
}
