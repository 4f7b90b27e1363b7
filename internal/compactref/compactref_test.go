package compactref

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) (func([]byte) (ed25519.PublicKey, [64]byte, error), ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return func(data []byte) (ed25519.PublicKey, [64]byte, error) {
		var sig [64]byte
		copy(sig[:], ed25519.Sign(priv, data))
		return pub, sig, nil
	}, pub
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	signer, pub := testSigner(t)
	ref := Reference{
		PacketID:     "pkt-1",
		ChainHash:    "deadbeef",
		DocumentHash: "cafef00d",
		Summary:      SummaryStats{CheckpointCount: 42, EvidenceTier: 3, ElapsedSeconds: 11520},
		EvidenceURI:  "https://example.com/evidence/pkt-1",
	}

	signed, err := Sign(ref, signer)
	require.NoError(t, err)
	require.Equal(t, []byte(pub), signed.PublicKey)

	token, err := Encode(signed)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, Scheme))

	decoded, err := DecodeAndVerify(token)
	require.NoError(t, err)
	require.Equal(t, ref, decoded.Reference)
}

func TestDecodeRejectsMissingPrefix(t *testing.T) {
	_, err := Decode("not-a-ref-token")
	require.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestDecodeRejectsInvalidBase64(t *testing.T) {
	_, err := Decode(Scheme + "not base64!!")
	require.ErrorIs(t, err, ErrInvalidBase64)
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	token := Scheme + "bm90IGpzb24"
	_, err := Decode(token)
	require.ErrorIs(t, err, ErrInvalidJSON)
}

func TestVerifyRejectsTamperedReference(t *testing.T) {
	signer, _ := testSigner(t)
	ref := Reference{PacketID: "pkt-1", ChainHash: "aa", DocumentHash: "bb", EvidenceURI: "u"}

	signed, err := Sign(ref, signer)
	require.NoError(t, err)

	signed.Reference.Summary.CheckpointCount = 999
	require.ErrorIs(t, Verify(signed), ErrInvalidSig)
}

func TestVerificationURIRoundTrip(t *testing.T) {
	link := VerificationURI("pkt-7", "https://example.com/evidence/pkt-7.pop")

	packetID, evidenceURI, err := ParseVerificationURI(link)
	require.NoError(t, err)
	require.Equal(t, "pkt-7", packetID)
	require.Equal(t, "https://example.com/evidence/pkt-7.pop", evidenceURI)
}

func TestParseVerificationURIRejectsWrongScheme(t *testing.T) {
	_, _, err := ParseVerificationURI("https://verify?packet=a&uri=b")
	require.Error(t, err)

	_, _, err = ParseVerificationURI("pop://verify?packet=a")
	require.Error(t, err)
}
