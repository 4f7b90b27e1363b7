//go:build windows

// Windows TPM 2.0 backend for the PUF capability, reached through the
// TPM Base Services transport. Mirrors the Linux backend: challenges
// are HMACed under a deterministic TPM-resident keyed-hash primary.

package keyhierarchy

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

var (
	ErrTPMNotAvailable = errors.New("keyhierarchy: TPM not available")
	ErrTPMOperation    = errors.New("keyhierarchy: TPM operation failed")
)

// TPMPUF implements PUFProvider over Windows TBS.
type TPMPUF struct {
	mu        sync.Mutex
	deviceID  string
	transport transport.TPMCloser
	isOpen    bool
}

// NewTPMPUF opens the platform TPM through TBS.
func NewTPMPUF() (*TPMPUF, error) {
	tpmTransport, err := transport.OpenTPM()
	if err != nil {
		return nil, ErrTPMNotAvailable
	}

	puf := &TPMPUF{transport: tpmTransport, isOpen: true}
	deviceID, err := puf.endorsementKeyHash()
	if err != nil {
		tpmTransport.Close()
		return nil, fmt.Errorf("failed to get device ID: %w", err)
	}
	puf.deviceID = fmt.Sprintf("tpm-%x", deviceID[:8])
	return puf, nil
}

// Close releases the TBS connection.
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
// primary key.
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

	hmacCmd := tpm2.HMAC{
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

// createPrimaryKey recreates the deterministic keyed-hash primary key;
// the fixed unique field makes the TPM derive the same key every call.
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
				Sign:                true,
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

// DetectHardwarePUF returns the TPM backend when one is reachable.
func DetectHardwarePUF() (PUFProvider, error) {
	if tpmPUF, err := NewTPMPUF(); err == nil {
		return tpmPUF, nil
	}
	return nil, ErrTPMNotAvailable
}
