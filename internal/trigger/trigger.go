// Package trigger decides when an authoring session has produced enough
// new work to justify sealing a checkpoint. It watches keystroke counts,
// typing pauses, accumulated entropy, document-size deltas, and wall
// time, and fires the first condition that fires.
package trigger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Reason identifies which condition fired a checkpoint.
type Reason int

const (
	// ReasonNone is the zero value; never reported on a fired TriggerEvent.
	ReasonNone Reason = iota
	MaxKeystrokes
	TypingPause
	EntropyThreshold
	SizeDelta
	MaxTimeInterval
	Manual
	SessionEnd
)

func (r Reason) String() string {
	switch r {
	case MaxKeystrokes:
		return "max_keystrokes"
	case TypingPause:
		return "typing_pause"
	case EntropyThreshold:
		return "entropy_threshold"
	case SizeDelta:
		return "size_delta"
	case MaxTimeInterval:
		return "max_time_interval"
	case Manual:
		return "manual"
	case SessionEnd:
		return "session_end"
	default:
		return "none"
	}
}

// Config parameterizes the checkpoint trigger.
type Config struct {
	MinKeystrokes      uint64
	MaxKeystrokes      uint64
	PauseThreshold     time.Duration
	EntropyThresholdBits float64
	SizeDeltaBytes     int64
	MaxTimeInterval    time.Duration
}

// DefaultConfig returns reasonable defaults for interactive authoring.
func DefaultConfig() Config {
	return Config{
		MinKeystrokes:        5,
		MaxKeystrokes:        200,
		PauseThreshold:       3 * time.Second,
		EntropyThresholdBits: 64,
		SizeDeltaBytes:       500,
		MaxTimeInterval:      5 * time.Minute,
	}
}

// Event is a single observed keystroke carrying the jitter microseconds
// measured for it (see internal/jitter) and the document size at the
// time of the keystroke.
type Event struct {
	JitterMicros uint32
	DocSize      int64
	At           time.Time
}

// TriggerEvent is emitted each time a checkpoint condition fires.
type TriggerEvent struct {
	Reason          Reason
	FiredAt         time.Time
	KeystrokesSince uint64
	EntropyHash     [32]byte
}

// Manager folds a stream of keystroke Events into rolling counters and
// decides when a checkpoint should fire. It is owned by a single
// authoring session and is not safe to share across sessions.
type Manager struct {
	mu sync.Mutex

	cfg Config

	keystrokesSince uint64
	entropyAccum    float64
	entropyHash     [32]byte
	lastDocSize     int64
	lastEventAt     time.Time
	lastCheckpoint  time.Time

	events chan TriggerEvent
}

// NewManager creates a trigger manager with the given config. initialDocSize
// is the document size observed at session start.
func NewManager(cfg Config, initialDocSize int64) *Manager {
	now := time.Now()
	return &Manager{
		cfg:            cfg,
		lastDocSize:    initialDocSize,
		lastEventAt:    now,
		lastCheckpoint: now,
		events:         make(chan TriggerEvent, 64),
	}
}

// Triggers returns the channel on which fired TriggerEvents are delivered.
func (m *Manager) Triggers() <-chan TriggerEvent {
	return m.events
}

// EntropyHash returns the current rolling entropy accumulator hash. It is
// never reset by a checkpoint fire; it persists for the life of the session
// and is consumed directly by the checkpoint chain.
func (m *Manager) EntropyHash() [32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entropyHash
}

// entropyBits clamps an estimate of the entropy contributed by one jitter
// sample to [0.5, 8.0] bits.
func entropyBits(jitterMicros uint32) float64 {
	if jitterMicros == 0 {
		return 0.5
	}
	bits := math.Log2(float64(jitterMicros))
	return clamp(bits, 0.5, 8.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Record folds one keystroke event into the rolling state and fires a
// checkpoint trigger if any condition is met. It returns the fired event,
// or nil if nothing fired.
func (m *Manager) Record(ev Event) *TriggerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keystrokesSince++
	m.entropyAccum += entropyBits(ev.JitterMicros)
	m.entropyHash = foldEntropy(m.entropyHash, ev.JitterMicros, m.keystrokesSince)

	pauseSince := ev.At.Sub(m.lastEventAt)
	m.lastEventAt = ev.At

	sizeDelta := ev.DocSize - m.lastDocSize
	if sizeDelta < 0 {
		sizeDelta = -sizeDelta
	}

	timeSinceCheckpoint := ev.At.Sub(m.lastCheckpoint)

	var reason Reason
	switch {
	case m.keystrokesSince >= m.cfg.MaxKeystrokes:
		reason = MaxKeystrokes
	case pauseSince >= m.cfg.PauseThreshold && m.keystrokesSince >= m.cfg.MinKeystrokes:
		reason = TypingPause
	case m.entropyAccum >= m.cfg.EntropyThresholdBits && m.keystrokesSince >= m.cfg.MinKeystrokes:
		reason = EntropyThreshold
	case sizeDelta >= m.cfg.SizeDeltaBytes && m.keystrokesSince >= m.cfg.MinKeystrokes:
		reason = SizeDelta
	case timeSinceCheckpoint >= m.cfg.MaxTimeInterval && m.keystrokesSince > 0:
		reason = MaxTimeInterval
	default:
		m.lastDocSize = ev.DocSize
		return nil
	}

	m.lastDocSize = ev.DocSize
	return m.fireLocked(reason, ev.At)
}

// Fire forces a checkpoint trigger, used for the always-available Manual
// and SessionEnd reasons.
func (m *Manager) Fire(reason Reason) TriggerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.fireLocked(reason, time.Now())
}

// fireLocked resets the counters that gate the *next* checkpoint. The
// rolling entropy hash itself is never reset.
func (m *Manager) fireLocked(reason Reason, at time.Time) *TriggerEvent {
	te := TriggerEvent{
		Reason:          reason,
		FiredAt:         at,
		KeystrokesSince: m.keystrokesSince,
		EntropyHash:     m.entropyHash,
	}

	m.keystrokesSince = 0
	m.entropyAccum = 0
	m.lastCheckpoint = at

	if m.events != nil {
		select {
		case m.events <- te:
		default:
			// Channel full: the consumer is behind. Drop oldest-style by
			// draining one slot rather than blocking the capture loop.
			select {
			case <-m.events:
			default:
			}
			select {
			case m.events <- te:
			default:
			}
		}
	}

	return &te
}

// foldEntropy advances the rolling entropy accumulator:
//
//	entropy-hash <- H(entropy-hash || jitter || total-keystrokes)
func foldEntropy(prev [32]byte, jitterMicros uint32, totalKeystrokes uint64) [32]byte {
	h := sha256.New()
	h.Write(prev[:])
	var jBuf [4]byte
	binary.BigEndian.PutUint32(jBuf[:], jitterMicros)
	h.Write(jBuf[:])
	var kBuf [8]byte
	binary.BigEndian.PutUint64(kBuf[:], totalKeystrokes)
	h.Write(kBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Close releases the trigger's event channel. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events != nil {
		close(m.events)
		m.events = nil
	}
}

func (r Reason) validate() error {
	switch r {
	case MaxKeystrokes, TypingPause, EntropyThreshold, SizeDelta, MaxTimeInterval, Manual, SessionEnd:
		return nil
	default:
		return fmt.Errorf("trigger: invalid reason %d", int(r))
	}
}
