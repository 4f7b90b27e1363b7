package jitter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Mode selects how jitter steganography injects into the input stream.
type Mode int

const (
	// FirstMoveOnly injects a single jitter value, once per session.
	FirstMoveOnly Mode = iota
	// TimingOnly injects on every event (mouse) or every keystroke (keyboard).
	TimingOnly
	// SubPixel encodes two two-bit offsets per event into coordinate
	// fractions instead of timing delay.
	SubPixel
)

func (m Mode) String() string {
	switch m {
	case FirstMoveOnly:
		return "first_move_only"
	case TimingOnly:
		return "timing_only"
	case SubPixel:
		return "sub_pixel"
	default:
		return "unknown"
	}
}

// Channel distinguishes the two domain-separated event sources the chain
// can be bound to.
type Channel byte

const (
	ChannelMouse Channel = iota
	ChannelKey
)

func (c Channel) label() []byte {
	if c == ChannelMouse {
		return []byte("mouse")
	}
	return []byte("key")
}

// toleranceMicros is the replay-verification slack allowed on each
// chain element (±100µs).
const toleranceMicros = 100

// Chain implements the reproducible micro-jitter HMAC chain bound to a
// document hash. The seed must never be persisted to disk; it is
// derived on demand from the session signing key via HKDF.
type Chain struct {
	seed    [32]byte
	docHash [32]byte
	mode    Mode
	enabled bool

	eventCount uint64
	prevHash   [32]byte
	firstDone  bool
}

// DeriveSeed derives the jitter chain seed from a session signing key
// via HKDF. The seed lives only in memory and is never stored on disk.
func DeriveSeed(sessionSigningKey []byte, sessionID [32]byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, sessionSigningKey, []byte("witnessd-jitter-seed-v1"), sessionID[:])
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("jitter: seed derivation failed: %w", err)
	}
	return out, nil
}

// NewChain starts a fresh jitter chain bound to a document hash.
func NewChain(seed [32]byte, docHash [32]byte, mode Mode, enabled bool) *Chain {
	return &Chain{seed: seed, docHash: docHash, mode: mode, enabled: enabled}
}

// Element is one step of a replayable jitter chain.
type Element struct {
	EventCount uint64  `json:"event_count"`
	JitterUs   uint32  `json:"jitter_us"`
	Channel    Channel `json:"channel"`
}

// Inject advances the chain for one event and returns the jitter value
// to apply (in microseconds), or false if this event does not receive
// an injection under the configured mode (for example, FirstMoveOnly
// after the first event has already fired, or SubPixel asked for a
// timing value rather than a coordinate offset).
func (c *Chain) Inject(ch Channel, minUs, maxUs uint32) (uint32, bool) {
	if !c.enabled {
		return 0, false
	}
	switch c.mode {
	case FirstMoveOnly:
		if c.firstDone {
			return 0, false
		}
	case SubPixel:
		// SubPixel mode degrades to a no-op for timing values; callers
		// must use SubPixelOffset for coordinate injection instead.
		return 0, false
	case TimingOnly:
		// injects every event
	}

	jitter := c.step(ch, minUs, maxUs)
	c.firstDone = true
	return jitter, true
}

// step computes the raw HMAC output, maps it into [min, max), and
// advances the chain's prev-hash.
func (c *Chain) step(ch Channel, minUs, maxUs uint32) uint32 {
	count := c.eventCount
	c.eventCount++

	raw := hmacRaw(c.seed[:], c.docHash, count, c.prevHash, ch)
	rng := maxUs - minUs
	var jitter uint32
	if rng == 0 {
		jitter = minUs
	} else {
		jitter = minUs + (raw % rng)
	}

	c.prevHash = advanceHash(c.seed[:], c.docHash, count, jitter, c.prevHash)
	return jitter
}

// hmacRaw computes jitter_raw = HMAC-SHA256(seed, doc-hash || be64(count) || prev-hash || "mouse"|"key")[0..4].
func hmacRaw(seed []byte, docHash [32]byte, count uint64, prevHash [32]byte, ch Channel) uint32 {
	h := hmac.New(sha256.New, seed)
	h.Write(docHash[:])
	var cbuf [8]byte
	binary.BigEndian.PutUint64(cbuf[:], count)
	h.Write(cbuf[:])
	h.Write(prevHash[:])
	h.Write(ch.label())
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// advanceHash computes prev-hash <- HMAC-SHA256(seed, doc-hash || be64(count) || be32(jitter) || prev-hash).
func advanceHash(seed []byte, docHash [32]byte, count uint64, jitter uint32, prevHash [32]byte) [32]byte {
	h := hmac.New(sha256.New, seed)
	h.Write(docHash[:])
	var cbuf [8]byte
	binary.BigEndian.PutUint64(cbuf[:], count)
	h.Write(cbuf[:])
	var jbuf [4]byte
	binary.BigEndian.PutUint32(jbuf[:], jitter)
	h.Write(jbuf[:])
	h.Write(prevHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// subPixelStep values are the four two-bit offsets SubPixel mode encodes,
// in 0.25-unit steps across [-0.375, 0.375].
var subPixelStep = [4]float64{-0.375, -0.125, 0.125, 0.375}

// SubPixelOffset encodes two two-bit offsets (x, y) for one event under
// SubPixel mode. It advances the chain like any other event but returns
// coordinate fractions instead of a timing delay.
func (c *Chain) SubPixelOffset(ch Channel) (dx, dy float64, ok bool) {
	if !c.enabled || c.mode != SubPixel {
		return 0, 0, false
	}
	count := c.eventCount
	c.eventCount++

	raw := hmacRaw(c.seed[:], c.docHash, count, c.prevHash, ch)
	xBits := (raw >> 2) & 0x3
	yBits := raw & 0x3

	dx = subPixelStep[xBits]
	dy = subPixelStep[yBits]

	// Advance prev-hash using the raw 32-bit value as the "jitter" folded
	// into the chain, keeping linkage uniform across modes.
	c.prevHash = advanceHash(c.seed[:], c.docHash, count, raw, c.prevHash)
	return dx, dy, true
}

// ReplayWithParams replays elements given the original [min,max) bounds
// used to generate them, verifying each jitter value is reproducible
// within ±100µs.
func ReplayWithParams(seed [32]byte, docHash [32]byte, minUs, maxUs uint32, elements []Element) error {
	var prevHash [32]byte
	for i, el := range elements {
		if el.EventCount != uint64(i) {
			return fmt.Errorf("jitter: element %d has out-of-order event count %d", i, el.EventCount)
		}
		raw := hmacRaw(seed[:], docHash, el.EventCount, prevHash, el.Channel)
		rng := maxUs - minUs
		var expected uint32
		if rng == 0 {
			expected = minUs
		} else {
			expected = minUs + (raw % rng)
		}
		diff := int64(expected) - int64(el.JitterUs)
		if diff < 0 {
			diff = -diff
		}
		if diff > toleranceMicros {
			return fmt.Errorf("jitter: element %d outside tolerance (expected %dus, got %dus)", i, expected, el.JitterUs)
		}
		prevHash = advanceHash(seed[:], docHash, el.EventCount, el.JitterUs, prevHash)
	}
	return nil
}
