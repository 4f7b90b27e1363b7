// This file is the software PUF fallback for machines without a TPM or
// secure enclave. The seed file can be copied off the device, so the
// binding it provides is weaker than hardware; it exists so the rest of
// the hierarchy works everywhere.

package keyhierarchy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

var ErrSoftwarePUFInit = errors.New("keyhierarchy: failed to initialize software PUF")

const softwarePUFSeedName = "puf_seed"

// SoftwarePUF answers PUF challenges from a random per-device seed file.
type SoftwarePUF struct {
	mu       sync.Mutex
	deviceID string
	seed     []byte
	seedPath string
}

// NewSoftwarePUF opens the software PUF at its default seed path.
func NewSoftwarePUF() (*SoftwarePUF, error) {
	return NewSoftwarePUFWithPath(filepath.Join(getWitnessdDir(), softwarePUFSeedName))
}

// NewSoftwarePUFWithPath opens or creates a software PUF at seedPath.
func NewSoftwarePUFWithPath(seedPath string) (*SoftwarePUF, error) {
	puf := &SoftwarePUF{seedPath: seedPath}
	if err := puf.loadOrCreateSeed(); err != nil {
		return nil, fmt.Errorf("failed to initialize software PUF: %w", err)
	}
	return puf, nil
}

// NewSoftwarePUFFromSeed builds a PUF around an in-memory seed. Used by
// tests and by callers that manage seed storage themselves.
func NewSoftwarePUFFromSeed(deviceID string, seed []byte) *SoftwarePUF {
	return &SoftwarePUF{
		deviceID: deviceID,
		seed:     append([]byte(nil), seed...),
	}
}

func (p *SoftwarePUF) loadOrCreateSeed() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.seedPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if data, err := os.ReadFile(p.seedPath); err == nil && len(data) == 32 {
		p.seed = data
		p.deviceID = p.computeDeviceID()
		return nil
	}

	seed, err := p.generateSeed()
	if err != nil {
		return fmt.Errorf("failed to generate seed: %w", err)
	}

	// Write-then-rename keeps a crash from leaving a torn seed.
	tmpPath := p.seedPath + ".tmp"
	if err := os.WriteFile(tmpPath, seed, 0600); err != nil {
		return fmt.Errorf("failed to write seed: %w", err)
	}
	if err := os.Rename(tmpPath, p.seedPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save seed: %w", err)
	}

	p.seed = seed
	p.deviceID = p.computeDeviceID()
	return nil
}

// generateSeed draws 32 random bytes, folded with host characteristics
// for uniqueness across machines that share an entropy-starved image.
func (p *SoftwarePUF) generateSeed() ([]byte, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("random generation failed: %w", err)
	}

	h := sha256.New()
	h.Write(randomBytes)
	h.Write([]byte("witnessd-software-puf-v1"))

	hostname, _ := os.Hostname()
	h.Write([]byte(hostname))
	home, _ := os.UserHomeDir()
	h.Write([]byte(home))
	exe, _ := os.Executable()
	h.Write([]byte(exe))
	h.Write([]byte(runtime.GOOS))
	h.Write([]byte(runtime.GOARCH))
	h.Write([]byte(time.Now().Format(time.RFC3339Nano)))

	return h.Sum(nil), nil
}

func (p *SoftwarePUF) computeDeviceID() string {
	h := sha256.Sum256(p.seed)
	return "swpuf-" + hex.EncodeToString(h[:4])
}

// GetResponse derives a deterministic 32-byte response from the seed
// and challenge via HKDF.
func (p *SoftwarePUF) GetResponse(challenge []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.seed) == 0 {
		return nil, ErrSoftwarePUFInit
	}

	reader := hkdf.New(sha256.New, p.seed, challenge, []byte("puf-response-v1"))
	response := make([]byte, 32)
	if _, err := io.ReadFull(reader, response); err != nil {
		return nil, fmt.Errorf("HKDF expand failed: %w", err)
	}
	return response, nil
}

func (p *SoftwarePUF) DeviceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceID
}

// Seed returns a copy of the seed. It is the device identity; handle
// accordingly.
func (p *SoftwarePUF) Seed() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.seed...)
}

// SeedPath returns where the seed lives on disk.
func (p *SoftwarePUF) SeedPath() string {
	return p.seedPath
}

func getWitnessdDir() string {
	// Sandboxed environments override the data directory.
	if envDir := os.Getenv("WITNESSD_DATA_DIR"); envDir != "" {
		return envDir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".witnessd")
}

// GetOrCreatePUF prefers a hardware backend and falls back to software.
func GetOrCreatePUF() (PUFProvider, error) {
	if hwPUF, err := DetectHardwarePUF(); err == nil {
		return hwPUF, nil
	}
	return NewSoftwarePUF()
}
