// Package keyhierarchy implements witnessd's three-tier signing keys:
//
//   - Tier 0: a master identity derived on demand from the device PUF,
//     never persisted.
//   - Tier 1: per-session Ed25519 keys certified by the master key.
//   - Tier 2: a forward-secure ratchet advanced after every checkpoint
//     signature, so compromising the live key cannot forge the past.
//
// Every derivation is a domain-separated HKDF-SHA256 expansion, and
// every intermediate secret is zeroized as soon as it has served.
package keyhierarchy

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"witnessd/internal/jitter"
	"witnessd/internal/security"
	"witnessd/internal/signer"
)

const (
	Version              = 1
	IdentityDomain       = "witnessd-identity-v1"
	SessionDomain        = "witnessd-session-v1"
	RatchetInitDomain    = "witnessd-ratchet-init-v1"
	RatchetAdvanceDomain = "witnessd-ratchet-advance-v1"
	SigningKeyDomain     = "witnessd-signing-key-v1"
)

var (
	ErrRatchetWiped    = errors.New("keyhierarchy: ratchet state has been wiped")
	ErrInvalidCert     = errors.New("keyhierarchy: invalid session certificate")
	ErrOrdinalMismatch = errors.New("keyhierarchy: checkpoint ordinal mismatch")
	ErrSignatureFailed = errors.New("keyhierarchy: signature verification failed")
	ErrHashMismatch    = errors.New("keyhierarchy: checkpoint hash mismatch")
)

// hkdf32 performs one domain-separated HKDF-SHA256 expansion to a
// 32-byte output. The caller owns wiping the result.
func hkdf32(ikm []byte, domain string, info []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, ikm, []byte(domain), info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("HKDF expand failed: %w", err)
	}
	return out, nil
}

// MasterIdentity is the public half of the device-bound author
// identity. The private half is re-derived from the PUF on demand and
// never stored.
type MasterIdentity struct {
	PublicKey   ed25519.PublicKey `json:"public_key"`
	Fingerprint string            `json:"fingerprint"` // hex of SHA256(pubkey)[0:8]
	DeviceID    string            `json:"device_id"`
	CreatedAt   time.Time         `json:"created_at"`
	Version     uint32            `json:"version"`
}

// SessionCertificate ties a session key to a master identity and to
// the document state the session opened on.
type SessionCertificate struct {
	SessionID     [32]byte          `json:"session_id"`
	SessionPubKey ed25519.PublicKey `json:"session_pubkey"`
	CreatedAt     time.Time         `json:"created_at"`
	DocumentHash  [32]byte          `json:"document_hash"`
	MasterPubKey  ed25519.PublicKey `json:"master_pubkey"`
	Signature     [64]byte          `json:"signature"`
	Version       uint32            `json:"version"`
}

// CheckpointSignature is one emitted ratchet signature.
type CheckpointSignature struct {
	Ordinal        uint64            `json:"ordinal"`
	PublicKey      ed25519.PublicKey `json:"public_key"`
	Signature      [64]byte          `json:"signature"`
	CheckpointHash [32]byte          `json:"checkpoint_hash"`
}

// RatchetState is the live tier-2 secret. It is owned exclusively by
// its Session and zeroized on End or export.
type RatchetState struct {
	current   [32]byte
	ordinal   uint64
	sessionID [32]byte
	wiped     bool
}

// Session is an active authoring session. The ratchet inside it is a
// linear resource: it must never be cloned or shared across sessions.
type Session struct {
	Certificate *SessionCertificate
	ratchet     *RatchetState
	signatures  []CheckpointSignature

	// jitterSeed seeds internal/jitter.Chain for this session. It is
	// derived from the session seed before that seed is wiped, lives
	// only in memory, and is zeroed by End().
	jitterSeed [32]byte
}

// PUFProvider is the device-bound secret capability. Backends include
// a TPM NV index and a software fallback; the core never assumes which.
type PUFProvider interface {
	GetResponse(challenge []byte) ([]byte, error)
	DeviceID() string
}

// identityChallenge is the fixed challenge the master derivation feeds
// the PUF.
func identityChallenge() [32]byte {
	return sha256.Sum256([]byte(IdentityDomain + "-challenge"))
}

// DeriveMasterIdentity derives the public master identity from the PUF.
// The private key exists only transiently inside this function.
func DeriveMasterIdentity(puf PUFProvider) (*MasterIdentity, error) {
	challenge := identityChallenge()
	pufResponse, err := puf.GetResponse(challenge[:])
	if err != nil {
		return nil, fmt.Errorf("PUF response failed: %w", err)
	}

	seed, err := hkdf32(pufResponse, IdentityDomain, []byte("master-seed"))
	if err != nil {
		secureWipe(pufResponse)
		return nil, err
	}

	privateKey := ed25519.NewKeyFromSeed(seed[:])
	publicKey := privateKey.Public().(ed25519.PublicKey)
	fingerprint := sha256.Sum256(publicKey)

	secureWipe(seed[:])
	secureWipe(privateKey)
	secureWipe(pufResponse)

	return &MasterIdentity{
		PublicKey:   publicKey,
		Fingerprint: hex.EncodeToString(fingerprint[:8]),
		DeviceID:    puf.DeviceID(),
		CreatedAt:   time.Now(),
		Version:     Version,
	}, nil
}

// deriveMasterPrivateKey re-derives the master private key. The caller
// must wipe the returned key.
func deriveMasterPrivateKey(puf PUFProvider) (ed25519.PrivateKey, error) {
	challenge := identityChallenge()
	pufResponse, err := puf.GetResponse(challenge[:])
	if err != nil {
		return nil, fmt.Errorf("PUF response failed: %w", err)
	}
	defer secureWipe(pufResponse)

	seed, err := hkdf32(pufResponse, IdentityDomain, []byte("master-seed"))
	if err != nil {
		return nil, err
	}
	defer secureWipe(seed[:])

	return ed25519.NewKeyFromSeed(seed[:]), nil
}

// AttestParentChain signs a parent packet's chain hash with the master
// key under the provenance domain, wiping the key before returning.
// This produces the cross-attestation a Provenance link carries.
func AttestParentChain(puf PUFProvider, parentChainHash [32]byte) ([64]byte, error) {
	masterPrivKey, err := deriveMasterPrivateKey(puf)
	if err != nil {
		return [64]byte{}, err
	}
	defer secureWipe(masterPrivKey)

	return signer.SignParentChainHash(masterPrivKey, parentChainHash), nil
}

// StartSession certifies a fresh session key under the master identity
// and initializes the ratchet at ordinal 0.
func StartSession(puf PUFProvider, documentHash [32]byte) (*Session, error) {
	masterPrivKey, err := deriveMasterPrivateKey(puf)
	if err != nil {
		return nil, err
	}
	defer secureWipe(masterPrivKey)
	masterPubKey := masterPrivKey.Public().(ed25519.PublicKey)

	var sessionID [32]byte
	if _, err := rand.Read(sessionID[:]); err != nil {
		return nil, fmt.Errorf("random generation failed: %w", err)
	}

	sessionInfo := append(sessionID[:], []byte(time.Now().Format(time.RFC3339Nano))...)
	sessionSeed, err := hkdf32(masterPrivKey[:32], SessionDomain, sessionInfo)
	if err != nil {
		return nil, fmt.Errorf("session key derivation failed: %w", err)
	}

	sessionPrivKey := ed25519.NewKeyFromSeed(sessionSeed[:])
	sessionPubKey := sessionPrivKey.Public().(ed25519.PublicKey)

	createdAt := time.Now()
	certData := buildCertData(sessionID, sessionPubKey, createdAt, documentHash)
	signature := ed25519.Sign(masterPrivKey, certData)

	cert := &SessionCertificate{
		SessionID:     sessionID,
		SessionPubKey: sessionPubKey,
		CreatedAt:     createdAt,
		DocumentHash:  documentHash,
		MasterPubKey:  masterPubKey,
		Version:       Version,
	}
	copy(cert.Signature[:], signature)

	ratchetInit, err := hkdf32(sessionSeed[:], RatchetInitDomain, nil)
	if err != nil {
		secureWipe(sessionSeed[:])
		return nil, fmt.Errorf("ratchet init failed: %w", err)
	}

	// The jitter seed comes off the session seed before it is wiped.
	// It never touches disk.
	jitterSeed, err := jitter.DeriveSeed(sessionSeed[:], sessionID)
	if err != nil {
		secureWipe(sessionSeed[:])
		return nil, fmt.Errorf("jitter seed derivation failed: %w", err)
	}
	secureWipe(sessionSeed[:])
	secureWipe(sessionPrivKey)

	return &Session{
		Certificate: cert,
		ratchet: &RatchetState{
			current:   ratchetInit,
			sessionID: sessionID,
		},
		signatures: make([]CheckpointSignature, 0),
		jitterSeed: jitterSeed,
	}, nil
}

// JitterSeed returns the session-bound seed for internal/jitter.Chain.
// Callers must not persist it; End() zeroes it.
func (s *Session) JitterSeed() [32]byte {
	return s.jitterSeed
}

// SignCheckpoint derives this ordinal's signing key, signs the
// checkpoint hash under the checkpoint domain, and advances the
// ratchet. The advance is the serializing operation: no two
// checkpoints can ever be signed at the same ordinal.
func (s *Session) SignCheckpoint(checkpointHash [32]byte) (*CheckpointSignature, error) {
	if s.ratchet == nil || s.ratchet.wiped {
		return nil, ErrRatchetWiped
	}

	signingSeed, err := hkdf32(s.ratchet.current[:], SigningKeyDomain, nil)
	if err != nil {
		return nil, fmt.Errorf("signing key derivation failed: %w", err)
	}
	signingKey := ed25519.NewKeyFromSeed(signingSeed[:])
	pubKey := signingKey.Public().(ed25519.PublicKey)

	// The domain tag keeps a ratchet key's checkpoint signature from
	// verifying as any other signature this key could produce.
	signature := signer.SignCheckpointHash(signingKey, checkpointHash)

	nextRatchet, err := hkdf32(s.ratchet.current[:], RatchetAdvanceDomain, checkpointHash[:])
	if err != nil {
		secureWipe(signingSeed[:])
		secureWipe(signingKey)
		return nil, fmt.Errorf("ratchet advance failed: %w", err)
	}

	// Forward secrecy: the old ratchet value dies here.
	secureWipe(s.ratchet.current[:])
	secureWipe(signingSeed[:])
	secureWipe(signingKey)

	ordinal := s.ratchet.ordinal
	s.ratchet.current = nextRatchet
	s.ratchet.ordinal++

	sig := &CheckpointSignature{
		Ordinal:        ordinal,
		PublicKey:      pubKey,
		CheckpointHash: checkpointHash,
		Signature:      signature,
	}
	s.signatures = append(s.signatures, *sig)
	return sig, nil
}

// SignAux signs auxiliary session artifacts (compact references,
// collaboration attestations) with the current ratchet-derived signing
// key without advancing the ratchet. The returned public key lets a
// verifier match the signature against the checkpoint stream.
func (s *Session) SignAux(data []byte) (pubKey ed25519.PublicKey, signature [64]byte, err error) {
	if s.ratchet == nil || s.ratchet.wiped {
		return nil, signature, ErrRatchetWiped
	}

	signingSeed, err := hkdf32(s.ratchet.current[:], SigningKeyDomain, nil)
	if err != nil {
		return nil, signature, fmt.Errorf("signing key derivation failed: %w", err)
	}
	defer secureWipe(signingSeed[:])

	signingKey := ed25519.NewKeyFromSeed(signingSeed[:])
	defer secureWipe(signingKey)
	pubKey = signingKey.Public().(ed25519.PublicKey)
	copy(signature[:], ed25519.Sign(signingKey, data))
	return pubKey, signature, nil
}

// End wipes the ratchet and the jitter seed. Signing afterwards fails
// with ErrRatchetWiped.
func (s *Session) End() {
	if s.ratchet != nil && !s.ratchet.wiped {
		secureWipe(s.ratchet.current[:])
		s.ratchet.wiped = true
	}
	secureWipe(s.jitterSeed[:])
}

// Signatures returns the checkpoint signatures emitted so far.
func (s *Session) Signatures() []CheckpointSignature {
	return s.signatures
}

// CurrentOrdinal returns the ordinal the next signature will carry.
func (s *Session) CurrentOrdinal() uint64 {
	if s.ratchet == nil {
		return 0
	}
	return s.ratchet.ordinal
}

// VerifySessionCertificate checks the master key's signature over the
// certificate data.
func VerifySessionCertificate(cert *SessionCertificate) error {
	if cert == nil {
		return ErrInvalidCert
	}
	certData := buildCertData(cert.SessionID, cert.SessionPubKey, cert.CreatedAt, cert.DocumentHash)
	if !ed25519.Verify(cert.MasterPubKey, certData, cert.Signature[:]) {
		return ErrInvalidCert
	}
	return nil
}

// VerifyCheckpointSignatures checks each signature under its stated
// public key and that ordinals run 0..n-1 without gaps. Ratchet
// derivation itself cannot be replayed here: doing so would require
// the secrets forward secrecy destroyed.
func VerifyCheckpointSignatures(signatures []CheckpointSignature) error {
	for i, sig := range signatures {
		if sig.Ordinal != uint64(i) {
			return fmt.Errorf("checkpoint %d: %w (got %d)", i, ErrOrdinalMismatch, sig.Ordinal)
		}
		if !signer.VerifyCheckpointHash(sig.PublicKey, sig.CheckpointHash, sig.Signature) {
			return fmt.Errorf("checkpoint %d: %w", i, ErrSignatureFailed)
		}
	}
	return nil
}

// buildCertData lays out the signed certificate bytes:
// session-id || session-pubkey || be64(created-at nanos) || document-hash.
func buildCertData(sessionID [32]byte, sessionPubKey ed25519.PublicKey, createdAt time.Time, documentHash [32]byte) []byte {
	data := make([]byte, 0, 32+32+8+32)
	data = append(data, sessionID[:]...)
	data = append(data, sessionPubKey...)

	var timestamp [8]byte
	binary.BigEndian.PutUint64(timestamp[:], uint64(createdAt.UnixNano()))
	data = append(data, timestamp[:]...)

	return append(data, documentHash[:]...)
}

// secureWipe zeroes the slice through the shared hardened wipe, which
// carries a barrier against the compiler eliding the writes.
func secureWipe(data []byte) {
	security.Wipe(data)
}

// KeyHierarchyEvidence bundles the hierarchy for an evidence packet.
type KeyHierarchyEvidence struct {
	Version              int                   `json:"version"`
	MasterIdentity       *MasterIdentity       `json:"master_identity"`
	SessionCertificate   *SessionCertificate   `json:"session_certificate"`
	CheckpointSignatures []CheckpointSignature `json:"checkpoint_signatures"`

	// Flattened fields for evidence packet serialization.
	MasterFingerprint     string              `json:"master_fingerprint"`
	MasterPublicKey       ed25519.PublicKey   `json:"master_public_key"`
	DeviceID              string              `json:"device_id"`
	SessionID             string              `json:"session_id"`
	SessionPublicKey      ed25519.PublicKey   `json:"session_public_key"`
	SessionStarted        time.Time           `json:"session_started"`
	SessionCertificateRaw []byte              `json:"session_certificate_raw"`
	RatchetCount          int                 `json:"ratchet_count"`
	RatchetPublicKeys     []ed25519.PublicKey `json:"ratchet_public_keys"`
}

// Export flattens the session for inclusion in an evidence packet.
func (s *Session) Export(identity *MasterIdentity) *KeyHierarchyEvidence {
	evidence := &KeyHierarchyEvidence{
		Version:              Version,
		MasterIdentity:       identity,
		SessionCertificate:   s.Certificate,
		CheckpointSignatures: s.signatures,

		MasterFingerprint: identity.Fingerprint,
		MasterPublicKey:   identity.PublicKey,
		DeviceID:          identity.DeviceID,
		SessionStarted:    s.Certificate.CreatedAt,
		RatchetCount:      len(s.signatures),
	}

	evidence.SessionID = hex.EncodeToString(s.Certificate.SessionID[:])
	evidence.SessionPublicKey = s.Certificate.SessionPubKey
	evidence.SessionCertificateRaw = s.Certificate.Signature[:]

	for _, sig := range s.signatures {
		evidence.RatchetPublicKeys = append(evidence.RatchetPublicKeys, sig.PublicKey)
	}
	return evidence
}

// VerifyKeyHierarchy re-checks everything the evidence claims: the
// certificate, the certificate's master key against the stated
// identity, and every checkpoint signature in ordinal order.
func VerifyKeyHierarchy(evidence *KeyHierarchyEvidence) error {
	if evidence == nil {
		return errors.New("nil evidence")
	}
	if err := VerifySessionCertificate(evidence.SessionCertificate); err != nil {
		return fmt.Errorf("session certificate: %w", err)
	}
	if evidence.MasterIdentity != nil {
		if !hmac.Equal(evidence.MasterIdentity.PublicKey, evidence.SessionCertificate.MasterPubKey) {
			return errors.New("master identity mismatch in certificate")
		}
	}
	if err := VerifyCheckpointSignatures(evidence.CheckpointSignatures); err != nil {
		return fmt.Errorf("checkpoint signatures: %w", err)
	}
	return nil
}

// SessionRecoveryState lets an uncleanly-ended session resume signing
// from its last ordinal. The ratchet value inside is XOR-sealed to the
// device PUF; without the device it is computationally uninvertible.
type SessionRecoveryState struct {
	Certificate      *SessionCertificate   `json:"certificate"`
	Signatures       []CheckpointSignature `json:"signatures"`
	LastRatchetState []byte                `json:"last_ratchet_state,omitempty"`
}

var (
	ErrSessionNotRecoverable = errors.New("keyhierarchy: session cannot be recovered")
	ErrSessionRecoveryFailed = errors.New("keyhierarchy: session recovery failed")
	ErrNoRecoveryData        = errors.New("keyhierarchy: no recovery data available")
)

const recoveryDomain = "witnessd-ratchet-recovery-v1"

// recoveryKey derives the PUF-sealed XOR key for ratchet export.
func recoveryKey(puf PUFProvider) ([32]byte, error) {
	challenge := sha256.Sum256([]byte(recoveryDomain))
	pufResponse, err := puf.GetResponse(challenge[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("PUF response failed: %w", err)
	}
	defer secureWipe(pufResponse)
	return hkdf32(pufResponse, "ratchet-recovery-key", nil)
}

// ExportRecoveryState seals the live ratchet to the device for later
// recovery: current XOR KDF(PUF) || be64(ordinal).
func (s *Session) ExportRecoveryState(puf PUFProvider) (*SessionRecoveryState, error) {
	if s.ratchet == nil || s.ratchet.wiped {
		return nil, ErrRatchetWiped
	}

	key, err := recoveryKey(puf)
	if err != nil {
		return nil, err
	}
	defer secureWipe(key[:])

	sealed := make([]byte, 40)
	for i := 0; i < 32; i++ {
		sealed[i] = s.ratchet.current[i] ^ key[i]
	}
	binary.BigEndian.PutUint64(sealed[32:], s.ratchet.ordinal)

	return &SessionRecoveryState{
		Certificate:      s.Certificate,
		Signatures:       s.signatures,
		LastRatchetState: sealed,
	}, nil
}

// RecoverSession resumes a session from saved recovery state. Forward
// secrecy means signing can only continue from the saved ordinal, never
// re-sign earlier ones.
func RecoverSession(puf PUFProvider, recovery *SessionRecoveryState, documentHash [32]byte) (*Session, error) {
	if recovery == nil || recovery.Certificate == nil {
		return nil, ErrNoRecoveryData
	}
	if err := VerifySessionCertificate(recovery.Certificate); err != nil {
		return nil, fmt.Errorf("invalid recovery certificate: %w", err)
	}
	if recovery.Certificate.DocumentHash != documentHash {
		return nil, errors.New("recovery certificate is for different document")
	}

	identity, err := DeriveMasterIdentity(puf)
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity: %w", err)
	}
	if !hmac.Equal(identity.PublicKey, recovery.Certificate.MasterPubKey) {
		return nil, errors.New("recovery certificate is from different device")
	}

	if len(recovery.LastRatchetState) > 0 {
		return unsealRatchet(puf, recovery)
	}
	return continueWithFreshRatchet(puf, recovery)
}

// unsealRatchet reverses ExportRecoveryState's XOR seal.
func unsealRatchet(puf PUFProvider, recovery *SessionRecoveryState) (*Session, error) {
	if len(recovery.LastRatchetState) < 40 {
		return nil, ErrSessionRecoveryFailed
	}

	key, err := recoveryKey(puf)
	if err != nil {
		return nil, err
	}
	defer secureWipe(key[:])

	var current [32]byte
	for i := 0; i < 32; i++ {
		current[i] = recovery.LastRatchetState[i] ^ key[i]
	}
	ordinal := binary.BigEndian.Uint64(recovery.LastRatchetState[32:40])

	return &Session{
		Certificate: recovery.Certificate,
		ratchet: &RatchetState{
			current:   current,
			ordinal:   ordinal,
			sessionID: recovery.Certificate.SessionID,
		},
		signatures: recovery.Signatures,
	}, nil
}

// continueWithFreshRatchet re-keys the ratchet when the sealed state is
// gone: the certificate chain is preserved, the new ratchet mixes in
// the last signed checkpoint hash for continuity.
func continueWithFreshRatchet(puf PUFProvider, recovery *SessionRecoveryState) (*Session, error) {
	var nextOrdinal uint64
	var lastHash [32]byte
	if n := len(recovery.Signatures); n > 0 {
		nextOrdinal = recovery.Signatures[n-1].Ordinal + 1
		lastHash = recovery.Signatures[n-1].CheckpointHash
	}

	challenge := sha256.Sum256([]byte("witnessd-ratchet-continuation-v1"))
	pufResponse, err := puf.GetResponse(challenge[:])
	if err != nil {
		return nil, fmt.Errorf("PUF response failed: %w", err)
	}
	defer secureWipe(pufResponse)

	ikm := append(append(append([]byte(nil), pufResponse...), lastHash[:]...), recovery.Certificate.SessionID[:]...)
	ratchetInit, err := hkdf32(ikm, RatchetInitDomain, []byte("continuation"))
	secureWipe(ikm)
	if err != nil {
		return nil, fmt.Errorf("ratchet init failed: %w", err)
	}

	return &Session{
		Certificate: recovery.Certificate,
		ratchet: &RatchetState{
			current:   ratchetInit,
			ordinal:   nextOrdinal,
			sessionID: recovery.Certificate.SessionID,
		},
		signatures: recovery.Signatures,
	}, nil
}

// VerifySessionCertificateBytes verifies a session certificate from
// the raw fields a serialized evidence packet carries: it rebuilds the
// exact bytes the master key signed and checks the signature.
func VerifySessionCertificateBytes(masterPubKey, sessionPubKey []byte, sessionID [32]byte, createdAt time.Time, documentHash [32]byte, certSignature []byte) error {
	if len(masterPubKey) != ed25519.PublicKeySize {
		return errors.New("invalid master public key size")
	}
	if len(sessionPubKey) != ed25519.PublicKeySize {
		return errors.New("invalid session public key size")
	}
	if len(certSignature) != ed25519.SignatureSize {
		return errors.New("invalid certificate signature size")
	}

	certData := buildCertData(sessionID, ed25519.PublicKey(sessionPubKey), createdAt, documentHash)
	if !ed25519.Verify(ed25519.PublicKey(masterPubKey), certData, certSignature) {
		return errors.New("session certificate signature verification failed")
	}
	return nil
}

// VerifyRatchetSignature verifies one checkpoint signature from
// serialized evidence fields.
func VerifyRatchetSignature(ratchetPubKey, checkpointHash, signature []byte) error {
	if len(ratchetPubKey) != ed25519.PublicKeySize {
		return errors.New("invalid ratchet public key size")
	}
	if len(checkpointHash) != 32 {
		return errors.New("invalid checkpoint hash size")
	}
	if len(signature) != ed25519.SignatureSize {
		return errors.New("invalid signature size")
	}

	var hash [32]byte
	copy(hash[:], checkpointHash)
	var sig [64]byte
	copy(sig[:], signature)

	if !signer.VerifyCheckpointHash(ratchetPubKey, hash, sig) {
		return ErrSignatureFailed
	}
	return nil
}
