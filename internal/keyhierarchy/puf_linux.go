//go:build linux

// Linux TPM 2.0 backend for the PUF capability. The TPM holds the
// device-bound secret; challenges are answered by an HMAC keyed under a
// deterministic primary key that never leaves the chip.

package keyhierarchy

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// Resource-manager device first; direct access as fallback.
var tpmDevicePaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

var (
	ErrTPMNotAvailable = errors.New("keyhierarchy: TPM not available")
	ErrTPMOperation    = errors.New("keyhierarchy: TPM operation failed")
)

// TPMPUF implements PUFProvider over a Linux TPM 2.0 device.
type TPMPUF struct {
	mu         sync.Mutex
	devicePath string
	deviceID   string
	transport  transport.TPMCloser
	isOpen     bool
}

// NewTPMPUF opens the first usable TPM device.
func NewTPMPUF() (*TPMPUF, error) {
	var devicePath string
	for _, path := range tpmDevicePaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		f.Close()
		devicePath = path
		break
	}
	if devicePath == "" {
		return nil, ErrTPMNotAvailable
	}

	puf := &TPMPUF{devicePath: devicePath}
	if err := puf.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize TPM PUF: %w", err)
	}
	return puf, nil
}

func (p *TPMPUF) init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := transport.OpenTPM(p.devicePath)
	if err != nil {
		return fmt.Errorf("failed to open TPM: %w", err)
	}
	p.transport = t
	p.isOpen = true

	deviceID, err := p.endorsementKeyHash()
	if err != nil {
		p.transport.Close()
		p.isOpen = false
		return fmt.Errorf("failed to get device ID: %w", err)
	}
	p.deviceID = fmt.Sprintf("tpm-%x", deviceID[:8])
	return nil
}

// Close releases the TPM device.
func (p *TPMPUF) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isOpen && p.transport != nil {
		p.transport.Close()
		p.isOpen = false
	}
	return nil
}

// GetResponse answers a challenge with an HMAC under the TPM-resident
// primary key. The same challenge always yields the same response on
// the same chip, and the key cannot be extracted.
func (p *TPMPUF) GetResponse(challenge []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isOpen {
		return nil, ErrTPMNotAvailable
	}

	primaryKey, err := p.createPrimaryKey()
	if err != nil {
		return nil, fmt.Errorf("failed to create primary key: %w", err)
	}
	defer func() {
		flush := tpm2.FlushContext{FlushHandle: primaryKey}
		flush.Execute(p.transport)
	}()

	hmacCmd := tpm2.Hmac{
		Handle: tpm2.AuthHandle{
			Handle: primaryKey,
			Auth:   tpm2.PasswordAuth(nil),
		},
		Buffer:  tpm2.TPM2BMaxBuffer{Buffer: challenge},
		HashAlg: tpm2.TPMAlgSHA256,
	}
	rsp, err := hmacCmd.Execute(p.transport)
	if err != nil {
		return nil, fmt.Errorf("failed to derive response: %w", err)
	}
	return rsp.OutHMAC.Buffer, nil
}

// DeviceID returns the identifier derived from the endorsement key.
func (p *TPMPUF) DeviceID() string {
	return p.deviceID
}

// createPrimaryKey recreates the deterministic keyed-hash primary key.
// A fixed unique field makes the TPM derive the same key every call.
func (p *TPMPUF) createPrimaryKey() (tpm2.TPMHandle, error) {
	createCmd := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHOwner,
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				UserAuth: tpm2.TPM2BAuth{Buffer: nil},
			},
		},
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgKeyedHash,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				FixedTPM:            true,
				FixedParent:         true,
				SensitiveDataOrigin: true,
				UserWithAuth:        true,
				SignEncrypt:         true,
			},
			Parameters: tpm2.NewTPMUPublicParms(
				tpm2.TPMAlgKeyedHash,
				&tpm2.TPMSKeyedHashParms{
					Scheme: tpm2.TPMTKeyedHashScheme{
						Scheme: tpm2.TPMAlgHMAC,
						Details: tpm2.NewTPMUSchemeKeyedHash(
							tpm2.TPMAlgHMAC,
							&tpm2.TPMSSchemeHMAC{HashAlg: tpm2.TPMAlgSHA256},
						),
					},
				},
			),
			Unique: tpm2.NewTPMUPublicID(
				tpm2.TPMAlgKeyedHash,
				&tpm2.TPM2BDigest{Buffer: []byte("witnessd-puf-v1")},
			),
		}),
	}

	rsp, err := createCmd.Execute(p.transport)
	if err != nil {
		return 0, err
	}
	return rsp.ObjectHandle, nil
}

// endorsementKeyHash hashes the endorsement key public area into a
// stable device identifier.
func (p *TPMPUF) endorsementKeyHash() ([]byte, error) {
	createEK := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHEndorsement,
		InPublic:      tpm2.New2B(tpm2.RSAEKTemplate),
	}
	rsp, err := createEK.Execute(p.transport)
	if err != nil {
		return nil, err
	}
	defer func() {
		flush := tpm2.FlushContext{FlushHandle: rsp.ObjectHandle}
		flush.Execute(p.transport)
	}()

	hash := sha256.Sum256(tpm2.Marshal(rsp.OutPublic))
	return hash[:], nil
}

// DetectHardwarePUF returns the TPM backend when a device is present.
func DetectHardwarePUF() (PUFProvider, error) {
	if tpmPUF, err := NewTPMPUF(); err == nil {
		return tpmPUF, nil
	}
	return nil, ErrTPMNotAvailable
}
