// Package compactref implements the compact reference encoding for evidence
// packets: a small, copy-pasteable token that carries just enough to look a
// full packet up and spot-check its binding without transmitting the packet
// itself.
package compactref

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI-style prefix every encoded reference carries.
const Scheme = "pop-ref:"

// Errors returned by Decode.
var (
	ErrInvalidPrefix = errors.New("compactref: missing pop-ref: prefix")
	ErrInvalidBase64 = errors.New("compactref: invalid base64url payload")
	ErrInvalidJSON   = errors.New("compactref: invalid json payload")
	ErrInvalidSig    = errors.New("compactref: signature verification failed")
)

// SummaryStats are the spot-checkable numbers a reference carries inline,
// so a holder can sanity-check a fetched packet against the token before
// doing any cryptographic work.
type SummaryStats struct {
	CheckpointCount uint32 `json:"checkpoint_count"`
	EvidenceTier    int    `json:"evidence_tier"`
	ElapsedSeconds  uint64 `json:"elapsed_seconds,omitempty"`
}

// Reference is the canonical payload signed and embedded in an encoded token.
type Reference struct {
	PacketID     string       `json:"packet_id"`
	ChainHash    string       `json:"chain_hash"`
	DocumentHash string       `json:"document_hash"`
	Summary      SummaryStats `json:"summary"`
	EvidenceURI  string       `json:"evidence_uri"`
}

// Signed wraps a Reference with the session public key and signature that
// bind it, so a holder of just the token can verify it was issued by the
// session that produced the chain.
type Signed struct {
	Reference Reference        `json:"reference"`
	PublicKey []byte           `json:"public_key"`
	Signature [64]byte         `json:"signature"`
}

// canonicalBytes returns the exact bytes that get signed: deterministic field
// order via struct encoding (encoding/json preserves declaration order for
// structs), no whitespace.
func canonicalBytes(ref Reference) ([]byte, error) {
	return json.Marshal(ref)
}

// Sign canonicalizes ref and signs it with the given signer, which must
// produce an Ed25519 signature over the canonical bytes (see
// keyhierarchy.Session.SignAux).
func Sign(ref Reference, signer func([]byte) (ed25519.PublicKey, [64]byte, error)) (*Signed, error) {
	data, err := canonicalBytes(ref)
	if err != nil {
		return nil, err
	}
	pub, sig, err := signer(data)
	if err != nil {
		return nil, fmt.Errorf("compactref: sign: %w", err)
	}
	return &Signed{Reference: ref, PublicKey: pub, Signature: sig}, nil
}

// Encode canonicalizes s to JSON and returns the "pop-ref:<base64url>" token.
func Encode(s *Signed) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return Scheme + base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a "pop-ref:<base64url>" token back into a Signed reference.
// It does not verify the signature; call Verify for that.
func Decode(token string) (*Signed, error) {
	if !strings.HasPrefix(token, Scheme) {
		return nil, ErrInvalidPrefix
	}
	payload := strings.TrimPrefix(token, Scheme)

	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}

	var s Signed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &s, nil
}

// Verify checks that s.Signature is a valid Ed25519 signature over the
// canonical encoding of s.Reference under s.PublicKey.
func Verify(s *Signed) error {
	data, err := canonicalBytes(s.Reference)
	if err != nil {
		return err
	}
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return ErrInvalidSig
	}
	if !ed25519.Verify(ed25519.PublicKey(s.PublicKey), data, s.Signature[:]) {
		return ErrInvalidSig
	}
	return nil
}

// VerifyScheme is the URI scheme a reference holder follows to hand a
// packet to a verifier.
const VerifyScheme = "pop://verify"

// VerificationURI builds a pop://verify link for a packet: the packet ID
// plus a URL-encoded pointer to where the full evidence lives.
func VerificationURI(packetID, evidenceURI string) string {
	q := url.Values{}
	q.Set("packet", packetID)
	q.Set("uri", evidenceURI)
	return VerifyScheme + "?" + q.Encode()
}

// ParseVerificationURI extracts the packet ID and evidence URI from a
// pop://verify link.
func ParseVerificationURI(link string) (packetID, evidenceURI string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("compactref: parse verification uri: %w", err)
	}
	if u.Scheme != "pop" || u.Host != "verify" {
		return "", "", errors.New("compactref: not a pop://verify uri")
	}
	q := u.Query()
	packetID = q.Get("packet")
	evidenceURI = q.Get("uri")
	if packetID == "" || evidenceURI == "" {
		return "", "", errors.New("compactref: verification uri missing packet or uri parameter")
	}
	return packetID, evidenceURI, nil
}

// DecodeAndVerify is the common caller path: decode the token and verify its
// signature in one step.
func DecodeAndVerify(token string) (*Signed, error) {
	s, err := Decode(token)
	if err != nil {
		return nil, err
	}
	if err := Verify(s); err != nil {
		return nil, err
	}
	return s, nil
}
