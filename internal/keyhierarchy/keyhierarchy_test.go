package keyhierarchy

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPUF is a deterministic in-memory PUFProvider.
type TestPUF struct {
	mu        sync.Mutex
	deviceID  string
	seed      []byte
	callCount int
}

func NewTestPUF(deviceID string, seed []byte) *TestPUF {
	return &TestPUF{deviceID: deviceID, seed: seed}
}

func (m *TestPUF) GetResponse(challenge []byte) ([]byte, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	h := sha256.New()
	h.Write([]byte("mock-puf-v1"))
	h.Write(m.seed)
	h.Write(challenge)
	return h.Sum(nil), nil
}

func (m *TestPUF) DeviceID() string { return m.deviceID }

func (m *TestPUF) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// FailingPUF always errors.
type FailingPUF struct {
	deviceID string
	err      error
}

func NewFailingPUF(deviceID string, err error) *FailingPUF {
	return &FailingPUF{deviceID: deviceID, err: err}
}

func (f *FailingPUF) GetResponse([]byte) ([]byte, error) { return nil, f.err }

func (f *FailingPUF) DeviceID() string { return f.deviceID }

func newTestSession(t *testing.T, deviceSeed string) (*Session, *MasterIdentity, *TestPUF) {
	t.Helper()
	puf := NewTestPUF("device-"+deviceSeed, []byte(deviceSeed+"-padding-to-some-length"))
	identity, err := DeriveMasterIdentity(puf)
	require.NoError(t, err)
	docHash := sha256.Sum256([]byte("document for " + deviceSeed))
	session, err := StartSession(puf, docHash)
	require.NoError(t, err)
	return session, identity, puf
}

func TestDeriveMasterIdentity(t *testing.T) {
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	identity, err := DeriveMasterIdentity(NewTestPUF("dev-a", seed))
	require.NoError(t, err)

	assert.Equal(t, "dev-a", identity.DeviceID)
	assert.Len(t, identity.PublicKey, ed25519.PublicKeySize)
	assert.Len(t, identity.Fingerprint, 16, "fingerprint is 8 bytes hex")
	assert.Equal(t, uint32(Version), identity.Version)
	assert.False(t, identity.CreatedAt.IsZero())

	// Fingerprint must be exactly hex(SHA256(pubkey)[0:8]).
	fp := sha256.Sum256(identity.PublicKey)
	assert.Equal(t, hex.EncodeToString(fp[:8]), identity.Fingerprint)
}

func TestDeriveMasterIdentityDeterministic(t *testing.T) {
	seed := []byte("fixed-seed-for-determinism-test!")

	a, err := DeriveMasterIdentity(NewTestPUF("dev", seed))
	require.NoError(t, err)
	b, err := DeriveMasterIdentity(NewTestPUF("dev", seed))
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a.PublicKey, b.PublicKey), "same PUF must give same identity")
	assert.Equal(t, a.Fingerprint, b.Fingerprint)

	c, err := DeriveMasterIdentity(NewTestPUF("dev", []byte("a completely different puf seed!")))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a.PublicKey, c.PublicKey), "different PUF must give different identity")
}

func TestDeriveMasterIdentityPUFError(t *testing.T) {
	puf := NewFailingPUF("broken", errors.New("no hardware"))
	_, err := DeriveMasterIdentity(puf)
	assert.Error(t, err)
}

func TestStartSessionCertificate(t *testing.T) {
	session, identity, _ := newTestSession(t, "cert")

	cert := session.Certificate
	require.NotNil(t, cert)
	assert.True(t, bytes.Equal(cert.MasterPubKey, identity.PublicKey))
	assert.Len(t, cert.SessionPubKey, ed25519.PublicKeySize)
	assert.Equal(t, uint64(0), session.CurrentOrdinal())

	require.NoError(t, VerifySessionCertificate(cert))
}

func TestVerifySessionCertificateRejectsTampering(t *testing.T) {
	session, _, _ := newTestSession(t, "tamper")

	assert.ErrorIs(t, VerifySessionCertificate(nil), ErrInvalidCert)

	badSig := *session.Certificate
	badSig.Signature[0] ^= 0xff
	assert.ErrorIs(t, VerifySessionCertificate(&badSig), ErrInvalidCert)

	badID := *session.Certificate
	badID.SessionID[5] ^= 0x01
	assert.ErrorIs(t, VerifySessionCertificate(&badID), ErrInvalidCert)

	badDoc := *session.Certificate
	badDoc.DocumentHash[0] ^= 0x01
	assert.ErrorIs(t, VerifySessionCertificate(&badDoc), ErrInvalidCert)
}

func TestSignCheckpointAdvancesRatchet(t *testing.T) {
	session, _, _ := newTestSession(t, "ratchet")

	var pubkeys [][]byte
	for i := 0; i < 5; i++ {
		hash := sha256.Sum256([]byte{byte(i)})
		sig, err := session.SignCheckpoint(hash)
		require.NoError(t, err)

		assert.Equal(t, uint64(i), sig.Ordinal)
		assert.Equal(t, hash, sig.CheckpointHash)
		pubkeys = append(pubkeys, sig.PublicKey)
	}
	assert.Equal(t, uint64(5), session.CurrentOrdinal())

	// Every ordinal signs under a fresh ratchet-derived key.
	for i := 0; i < len(pubkeys); i++ {
		for j := i + 1; j < len(pubkeys); j++ {
			assert.False(t, bytes.Equal(pubkeys[i], pubkeys[j]),
				"ordinals %d and %d share a signing key", i, j)
		}
	}

	require.NoError(t, VerifyCheckpointSignatures(session.Signatures()))
}

func TestSignCheckpointAfterEndFails(t *testing.T) {
	session, _, _ := newTestSession(t, "wiped")

	_, err := session.SignCheckpoint(sha256.Sum256([]byte("one")))
	require.NoError(t, err)

	session.End()
	_, err = session.SignCheckpoint(sha256.Sum256([]byte("two")))
	assert.ErrorIs(t, err, ErrRatchetWiped)

	// End is idempotent.
	session.End()
	_, err = session.SignCheckpoint(sha256.Sum256([]byte("three")))
	assert.ErrorIs(t, err, ErrRatchetWiped)
}

func TestEndZeroizesRatchetAndJitterSeed(t *testing.T) {
	session, _, _ := newTestSession(t, "zeroize")
	require.NotEqual(t, [32]byte{}, session.JitterSeed())

	session.End()

	assert.Equal(t, [32]byte{}, session.JitterSeed())
	assert.Equal(t, [32]byte{}, session.ratchet.current)
	assert.True(t, session.ratchet.wiped)
}

func TestVerifyCheckpointSignaturesRejectsGaps(t *testing.T) {
	session, _, _ := newTestSession(t, "gaps")
	for i := 0; i < 3; i++ {
		_, err := session.SignCheckpoint(sha256.Sum256([]byte{byte(i)}))
		require.NoError(t, err)
	}

	sigs := append([]CheckpointSignature(nil), session.Signatures()...)
	sigs[1].Ordinal = 7
	assert.ErrorIs(t, VerifyCheckpointSignatures(sigs), ErrOrdinalMismatch)

	sigs = append([]CheckpointSignature(nil), session.Signatures()...)
	sigs[2].Signature[0] ^= 0x01
	assert.ErrorIs(t, VerifyCheckpointSignatures(sigs), ErrSignatureFailed)

	// A signature replayed over a different hash must fail.
	sigs = append([]CheckpointSignature(nil), session.Signatures()...)
	sigs[0].CheckpointHash[0] ^= 0x01
	assert.ErrorIs(t, VerifyCheckpointSignatures(sigs), ErrSignatureFailed)

	assert.NoError(t, VerifyCheckpointSignatures(nil))
}

func TestVerifyKeyHierarchy(t *testing.T) {
	session, identity, _ := newTestSession(t, "hierarchy")
	for i := 0; i < 4; i++ {
		_, err := session.SignCheckpoint(sha256.Sum256([]byte{byte(i)}))
		require.NoError(t, err)
	}

	evidence := session.Export(identity)
	require.NoError(t, VerifyKeyHierarchy(evidence))
	assert.Equal(t, 4, evidence.RatchetCount)
	assert.Len(t, evidence.RatchetPublicKeys, 4)

	assert.Error(t, VerifyKeyHierarchy(nil))

	// Evidence claiming a different master identity must fail.
	otherIdentity, err := DeriveMasterIdentity(NewTestPUF("other", []byte("other-device-puf-seed-material!!")))
	require.NoError(t, err)
	impostor := session.Export(otherIdentity)
	assert.Error(t, VerifyKeyHierarchy(impostor))
}

func TestVerifySessionCertificateBytes(t *testing.T) {
	session, identity, _ := newTestSession(t, "bytes")
	cert := session.Certificate

	err := VerifySessionCertificateBytes(
		identity.PublicKey, cert.SessionPubKey, cert.SessionID,
		cert.CreatedAt, cert.DocumentHash, cert.Signature[:])
	require.NoError(t, err)

	// Replacing the signature with arbitrary bytes must fail.
	var junk [64]byte
	junk[0] = 0xaa
	err = VerifySessionCertificateBytes(
		identity.PublicKey, cert.SessionPubKey, cert.SessionID,
		cert.CreatedAt, cert.DocumentHash, junk[:])
	assert.Error(t, err)

	// A different document hash must fail: the cert binds the session
	// to the document state it opened on.
	otherDoc := sha256.Sum256([]byte("some other document"))
	err = VerifySessionCertificateBytes(
		identity.PublicKey, cert.SessionPubKey, cert.SessionID,
		cert.CreatedAt, otherDoc, cert.Signature[:])
	assert.Error(t, err)

	// Size checks run before crypto.
	assert.Error(t, VerifySessionCertificateBytes(nil, cert.SessionPubKey, cert.SessionID, cert.CreatedAt, cert.DocumentHash, cert.Signature[:]))
	assert.Error(t, VerifySessionCertificateBytes(identity.PublicKey, nil, cert.SessionID, cert.CreatedAt, cert.DocumentHash, cert.Signature[:]))
	assert.Error(t, VerifySessionCertificateBytes(identity.PublicKey, cert.SessionPubKey, cert.SessionID, cert.CreatedAt, cert.DocumentHash, nil))
}

func TestVerifyRatchetSignature(t *testing.T) {
	session, _, _ := newTestSession(t, "ratchet-sig")
	hash := sha256.Sum256([]byte("checkpoint"))
	sig, err := session.SignCheckpoint(hash)
	require.NoError(t, err)

	require.NoError(t, VerifyRatchetSignature(sig.PublicKey, hash[:], sig.Signature[:]))

	bad := sig.Signature
	bad[3] ^= 0x01
	assert.ErrorIs(t, VerifyRatchetSignature(sig.PublicKey, hash[:], bad[:]), ErrSignatureFailed)

	assert.Error(t, VerifyRatchetSignature(sig.PublicKey[:10], hash[:], sig.Signature[:]))
	assert.Error(t, VerifyRatchetSignature(sig.PublicKey, hash[:10], sig.Signature[:]))
	assert.Error(t, VerifyRatchetSignature(sig.PublicKey, hash[:], sig.Signature[:10]))
}

func TestSignAuxDoesNotAdvanceRatchet(t *testing.T) {
	session, _, _ := newTestSession(t, "aux")

	before := session.CurrentOrdinal()
	pub, sig, err := session.SignAux([]byte("compact reference payload"))
	require.NoError(t, err)
	assert.Equal(t, before, session.CurrentOrdinal())
	assert.True(t, ed25519.Verify(pub, []byte("compact reference payload"), sig[:]))

	// The aux key at ordinal k is the same key the next checkpoint
	// signature publishes.
	cpSig, err := session.SignCheckpoint(sha256.Sum256([]byte("cp")))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pub, cpSig.PublicKey))

	session.End()
	_, _, err = session.SignAux([]byte("after end"))
	assert.ErrorIs(t, err, ErrRatchetWiped)
}

func TestRecoverySealRoundTrip(t *testing.T) {
	session, _, puf := newTestSession(t, "recovery")
	docHash := session.Certificate.DocumentHash
	for i := 0; i < 3; i++ {
		_, err := session.SignCheckpoint(sha256.Sum256([]byte{byte(i)}))
		require.NoError(t, err)
	}

	state, err := session.ExportRecoveryState(puf)
	require.NoError(t, err)
	require.Len(t, state.LastRatchetState, 40)

	// The sealed blob must not leak the raw ratchet value.
	assert.False(t, bytes.Equal(state.LastRatchetState[:32], session.ratchet.current[:]))

	recovered, err := RecoverSession(puf, state, docHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), recovered.CurrentOrdinal())

	// The recovered ratchet continues the same key schedule: signing
	// the same next hash yields a signature that verifies in sequence.
	next := sha256.Sum256([]byte("post-recovery"))
	sig, err := recovered.SignCheckpoint(next)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sig.Ordinal)
	require.NoError(t, VerifyCheckpointSignatures(recovered.Signatures()))
}

func TestRecoverSessionRejectsMismatches(t *testing.T) {
	session, _, puf := newTestSession(t, "rec-reject")
	docHash := session.Certificate.DocumentHash

	state, err := session.ExportRecoveryState(puf)
	require.NoError(t, err)

	_, err = RecoverSession(puf, nil, docHash)
	assert.ErrorIs(t, err, ErrNoRecoveryData)

	otherDoc := sha256.Sum256([]byte("different document"))
	_, err = RecoverSession(puf, state, otherDoc)
	assert.Error(t, err)

	otherPUF := NewTestPUF("other-device", []byte("entirely different puf material"))
	_, err = RecoverSession(otherPUF, state, docHash)
	assert.Error(t, err)

	session.End()
	_, err = session.ExportRecoveryState(puf)
	assert.ErrorIs(t, err, ErrRatchetWiped)
}

func TestBuildCertDataBindsEveryField(t *testing.T) {
	session, _, _ := newTestSession(t, "certdata")
	cert := session.Certificate

	base := buildCertData(cert.SessionID, cert.SessionPubKey, cert.CreatedAt, cert.DocumentHash)
	assert.Len(t, base, 32+32+8+32)

	again := buildCertData(cert.SessionID, cert.SessionPubKey, cert.CreatedAt, cert.DocumentHash)
	assert.True(t, bytes.Equal(base, again))

	otherID := cert.SessionID
	otherID[0] ^= 1
	assert.False(t, bytes.Equal(base, buildCertData(otherID, cert.SessionPubKey, cert.CreatedAt, cert.DocumentHash)))

	otherDoc := cert.DocumentHash
	otherDoc[0] ^= 1
	assert.False(t, bytes.Equal(base, buildCertData(cert.SessionID, cert.SessionPubKey, cert.CreatedAt, otherDoc)))
}

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	secureWipe(data)
	assert.Equal(t, make([]byte, 5), data)

	secureWipe(nil) // must not panic

	large := make([]byte, 1<<16)
	rand.Read(large)
	secureWipe(large)
	assert.Equal(t, make([]byte, 1<<16), large)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			puf := NewTestPUF("dev", []byte("shared puf seed across sessions"))
			docHash := sha256.Sum256([]byte{byte(w)})
			session, err := StartSession(puf, docHash)
			if err != nil {
				t.Errorf("StartSession: %v", err)
				return
			}
			defer session.End()
			for i := 0; i < 10; i++ {
				if _, err := session.SignCheckpoint(sha256.Sum256([]byte{byte(w), byte(i)})); err != nil {
					t.Errorf("SignCheckpoint: %v", err)
					return
				}
			}
			if err := VerifyCheckpointSignatures(session.Signatures()); err != nil {
				t.Errorf("VerifyCheckpointSignatures: %v", err)
			}
		}(w)
	}
	wg.Wait()
}
