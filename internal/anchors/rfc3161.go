package anchors

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// RFC 3161 object identifiers.
var (
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}

	oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	oidSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// PKIStatus values per RFC 3161.
const (
	PKIStatusGranted                = 0
	PKIStatusGrantedWithMods        = 1
	PKIStatusRejection              = 2
	PKIStatusWaiting                = 3
	PKIStatusRevocationWarning      = 4
	PKIStatusRevocationNotification = 5
)

// RFC3161Config configures the TSA anchor.
type RFC3161Config struct {
	Servers []string
	Timeout time.Duration

	// Basic auth, for TSAs that require it.
	Username string
	Password string

	HashAlgorithm      string // default sha256
	RequestCertificate bool
	PolicyOID          string

	// VerifyCertificates turns on signer-chain validation against
	// TrustedRoots (or the system pool when nil).
	VerifyCertificates bool
	TrustedRoots       *x509.CertPool

	RetryAttempts int
	RetryDelay    time.Duration
}

// RFC3161Anchor speaks the RFC 3161 Time-Stamp Protocol over HTTP.
type RFC3161Anchor struct {
	servers       []string
	client        *http.Client
	username      string
	password      string
	hashAlgorithm string
	requestCert   bool
	policyOID     string
	verifyCerts   bool
	trustedRoots  *x509.CertPool
	retryAttempts int
	retryDelay    time.Duration

	cacheMu    sync.RWMutex
	tokenCache map[string]*TSToken
}

// TSToken is a parsed timestamp response.
type TSToken struct {
	Status       int
	StatusString string
	FailInfo     int

	// TSTInfo contents.
	Version      int
	PolicyOID    string
	SerialNumber *big.Int
	GenTime      time.Time
	Accuracy     TSAccuracy
	Ordering     bool
	Nonce        *big.Int
	TSAName      string

	HashAlgorithm string
	MessageHash   []byte

	Certificates []*x509.Certificate
	SignerCert   *x509.Certificate

	SignatureAlgorithm string
	Signature          []byte

	RawResponse []byte
	RawTSTInfo  []byte
}

// TSAccuracy is the token's declared clock accuracy.
type TSAccuracy struct {
	Seconds int
	Millis  int
	Micros  int
}

// Duration folds the accuracy fields into one value.
func (a TSAccuracy) Duration() time.Duration {
	return time.Duration(a.Seconds)*time.Second +
		time.Duration(a.Millis)*time.Millisecond +
		time.Duration(a.Micros)*time.Microsecond
}

// NewRFC3161Anchor uses free public TSAs and defaults.
func NewRFC3161Anchor() *RFC3161Anchor {
	return NewRFC3161AnchorWithConfig(RFC3161Config{})
}

// NewRFC3161AnchorWithConfig fills zero-valued fields with defaults.
func NewRFC3161AnchorWithConfig(config RFC3161Config) *RFC3161Anchor {
	servers := config.Servers
	if len(servers) == 0 {
		servers = []string{
			"https://freetsa.org/tsr",
			"https://timestamp.sectigo.com",
		}
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	hashAlg := config.HashAlgorithm
	if hashAlg == "" {
		hashAlg = "sha256"
	}
	retryAttempts := config.RetryAttempts
	if retryAttempts == 0 {
		retryAttempts = 3
	}
	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &RFC3161Anchor{
		servers:       servers,
		client:        &http.Client{Timeout: timeout},
		username:      config.Username,
		password:      config.Password,
		hashAlgorithm: hashAlg,
		requestCert:   config.RequestCertificate,
		policyOID:     config.PolicyOID,
		verifyCerts:   config.VerifyCertificates,
		trustedRoots:  config.TrustedRoots,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		tokenCache:    make(map[string]*TSToken),
	}
}

// Name returns the anchor type name.
func (r *RFC3161Anchor) Name() string {
	return "rfc3161"
}

// Commit requests a timestamp token over the hash, trying each
// configured TSA in order. TSA proofs come back already confirmed.
func (r *RFC3161Anchor) Commit(hash []byte) ([]byte, error) {
	// Wrong-length input gets hashed down to the algorithm's digest.
	if len(hash) != r.hashLength() {
		h := r.newHash()
		h.Write(hash)
		hash = h.Sum(nil)
	}

	request, nonce, err := r.buildTSRequest(hash)
	if err != nil {
		return nil, fmt.Errorf("rfc3161: build request: %w", err)
	}

	var lastErr error
	for _, server := range r.servers {
		response, err := r.submitWithRetry(server, request, nonce, hash)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rfc3161: all servers failed: %w", lastErr)
}

func (r *RFC3161Anchor) submitWithRetry(server string, request []byte, nonce *big.Int, hash []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(r.retryDelay * time.Duration(attempt))
		}
		response, err := r.submitRequest(server, request)
		if err != nil {
			lastErr = err
			continue
		}
		if err := r.validateResponse(response, nonce, hash); err != nil {
			lastErr = err
			continue
		}
		return response, nil
	}
	return nil, lastErr
}

func (r *RFC3161Anchor) submitRequest(server string, request []byte) ([]byte, error) {
	req, err := http.NewRequest("POST", server, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/timestamp-query")
	req.Header.Set("Accept", "application/timestamp-reply")
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
}

// validateResponse checks status, nonce echo, and message imprint on a
// fresh response before it is accepted.
func (r *RFC3161Anchor) validateResponse(response []byte, expectedNonce *big.Int, expectedHash []byte) error {
	token, err := ParseTSToken(response)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if token.Status != PKIStatusGranted && token.Status != PKIStatusGrantedWithMods {
		return fmt.Errorf("timestamp rejected: status %d (%s)", token.Status, token.StatusString)
	}
	if expectedNonce != nil && token.Nonce != nil {
		if expectedNonce.Cmp(token.Nonce) != 0 {
			return errors.New("nonce mismatch - possible replay attack")
		}
	}
	if !bytes.Equal(expectedHash, token.MessageHash) {
		return errors.New("message hash mismatch")
	}
	if r.verifyCerts && len(token.Certificates) > 0 {
		if err := r.verifyCertificateChain(token); err != nil {
			return fmt.Errorf("certificate verification failed: %w", err)
		}
	}
	return nil
}

// verifyCertificateChain walks the TSA signer chain to a trusted root,
// requiring the time-stamping extended key usage.
func (r *RFC3161Anchor) verifyCertificateChain(token *TSToken) error {
	if len(token.Certificates) == 0 {
		return errors.New("no certificates in response")
	}

	intermediates := x509.NewCertPool()
	for _, cert := range token.Certificates[1:] {
		intermediates.AddCert(cert)
	}

	roots := r.trustedRoots
	if roots == nil {
		var err error
		roots, err = x509.SystemCertPool()
		if err != nil {
			return fmt.Errorf("failed to get system roots: %w", err)
		}
	}

	signerCert := token.Certificates[0]
	chains, err := signerCert.Verify(x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         roots,
		CurrentTime:   token.GenTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	})
	if err != nil {
		return fmt.Errorf("certificate chain verification failed: %w", err)
	}
	if len(chains) == 0 {
		return errors.New("no valid certificate chains found")
	}

	token.SignerCert = signerCert
	return nil
}

// Verify validates a stored timestamp response against the hash it
// claims to cover.
func (r *RFC3161Anchor) Verify(hash, proof []byte) error {
	if len(proof) < 10 {
		return errors.New("rfc3161: response too short")
	}

	token, err := ParseTSToken(proof)
	if err != nil {
		return fmt.Errorf("rfc3161: parse response: %w", err)
	}
	if token.Status != PKIStatusGranted && token.Status != PKIStatusGrantedWithMods {
		return fmt.Errorf("rfc3161: timestamp failed with status %d", token.Status)
	}

	if hash != nil {
		expectedHash := hash
		if len(hash) != len(token.MessageHash) {
			h := r.newHash()
			h.Write(hash)
			expectedHash = h.Sum(nil)
		}
		if !bytes.Equal(expectedHash, token.MessageHash) {
			return errors.New("rfc3161: message imprint does not match hash")
		}
	}

	// 5 minutes of clock skew allowed.
	if !token.GenTime.IsZero() && token.GenTime.After(time.Now().Add(5*time.Minute)) {
		return errors.New("rfc3161: timestamp is in the future")
	}

	if r.verifyCerts && len(token.Certificates) > 0 {
		if err := r.verifyCertificateChain(token); err != nil {
			return fmt.Errorf("rfc3161: %w", err)
		}
	}
	return nil
}

// ASN.1 shapes per RFC 3161 / CMS.

type tsRequest struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
	Extensions     []asn1.RawValue       `asn1:"optional,tag:0"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type tsResponse struct {
	Status         pkiStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []algorithmIdentifier `asn1:"set"`
	EncapContentInfo encapContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type encapContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

type signerInfo struct {
	Version            int
	SignerIdentifier   asn1.RawValue
	DigestAlgorithm    algorithmIdentifier
	SignedAttrs        []attribute `asn1:"optional,tag:0"`
	SignatureAlgorithm algorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []attribute `asn1:"optional,tag:1"`
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	Accuracy       accuracy        `asn1:"optional"`
	Ordering       bool            `asn1:"optional"`
	Nonce          *big.Int        `asn1:"optional"`
	TSA            asn1.RawValue   `asn1:"optional,tag:0"`
	Extensions     []asn1.RawValue `asn1:"optional,tag:1"`
}

type accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// buildTSRequest assembles the DER TimeStampReq with a random nonce
// for replay protection.
func (r *RFC3161Anchor) buildTSRequest(hash []byte) ([]byte, *big.Int, error) {
	nonce, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	request := tsRequest{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{Algorithm: r.hashAlgorithmOID()},
			HashedMessage: hash,
		},
		Nonce:   nonce,
		CertReq: r.requestCert,
	}
	if r.policyOID != "" {
		if oid, err := parseOID(r.policyOID); err == nil {
			request.ReqPolicy = oid
		}
	}

	data, err := asn1.Marshal(request)
	return data, nonce, err
}

// ParseTSToken parses a TimeStampResp down through the CMS SignedData
// wrapper to the TSTInfo it encapsulates. A non-granted status returns
// the status fields alone; partial parses return what was recovered.
func ParseTSToken(response []byte) (*TSToken, error) {
	var resp tsResponse
	if _, err := asn1.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	token := &TSToken{
		Status:      resp.Status.Status,
		RawResponse: response,
	}
	if len(resp.Status.StatusString) > 0 {
		token.StatusString = resp.Status.StatusString[0]
	}
	if resp.Status.FailInfo.BitLength > 0 {
		for i := 0; i < resp.Status.FailInfo.BitLength; i++ {
			if resp.Status.FailInfo.At(i) != 0 {
				token.FailInfo |= 1 << i
			}
		}
	}

	if token.Status != PKIStatusGranted && token.Status != PKIStatusGrantedWithMods {
		return token, nil
	}
	if len(resp.TimeStampToken.Bytes) == 0 {
		return token, nil
	}

	var ci contentInfo
	if _, err := asn1.Unmarshal(resp.TimeStampToken.Bytes, &ci); err != nil {
		return token, nil
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return token, nil
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return token, nil
	}

	if len(sd.Certificates.Bytes) > 0 {
		certs, _ := parseCertificates(sd.Certificates.Bytes)
		token.Certificates = certs
	}

	if sd.EncapContentInfo.ContentType.Equal(oidTSTInfo) && len(sd.EncapContentInfo.Content.Bytes) > 0 {
		token.RawTSTInfo = sd.EncapContentInfo.Content.Bytes

		// TSTInfo may be wrapped in an OCTET STRING.
		var tstBytes []byte
		if _, err := asn1.Unmarshal(sd.EncapContentInfo.Content.Bytes, &tstBytes); err != nil {
			tstBytes = sd.EncapContentInfo.Content.Bytes
		}

		var tst tstInfo
		if _, err := asn1.Unmarshal(tstBytes, &tst); err == nil {
			token.Version = tst.Version
			token.PolicyOID = tst.Policy.String()
			token.SerialNumber = tst.SerialNumber
			token.GenTime = tst.GenTime
			token.Accuracy = TSAccuracy{
				Seconds: tst.Accuracy.Seconds,
				Millis:  tst.Accuracy.Millis,
				Micros:  tst.Accuracy.Micros,
			}
			token.Ordering = tst.Ordering
			token.Nonce = tst.Nonce
			token.MessageHash = tst.MessageImprint.HashedMessage
			token.HashAlgorithm = oidToHashName(tst.MessageImprint.HashAlgorithm.Algorithm)
		}
	}

	if len(sd.SignerInfos) > 0 {
		si := sd.SignerInfos[0]
		token.Signature = si.Signature
		token.SignatureAlgorithm = oidToSigName(si.SignatureAlgorithm.Algorithm)
	}

	return token, nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data

	for len(rest) > 0 {
		cert, err := x509.ParseCertificate(rest)
		if err != nil {
			var rawCert asn1.RawValue
			newRest, err := asn1.Unmarshal(rest, &rawCert)
			if err != nil {
				break
			}
			cert, err = x509.ParseCertificate(rawCert.FullBytes)
			if err != nil {
				rest = newRest
				continue
			}
			rest = newRest
			certs = append(certs, cert)
			continue
		}
		certs = append(certs, cert)
		rest = nil
	}
	return certs, nil
}

func (r *RFC3161Anchor) hashLength() int {
	switch r.hashAlgorithm {
	case "sha384":
		return 48
	case "sha512":
		return 64
	case "sha1":
		return 20
	default:
		return 32
	}
}

func (r *RFC3161Anchor) newHash() hash.Hash {
	switch r.hashAlgorithm {
	case "sha384":
		return sha512.New384()
	case "sha512":
		return sha512.New()
	case "sha1":
		return crypto.SHA1.New()
	default:
		return sha256.New()
	}
}

func (r *RFC3161Anchor) hashAlgorithmOID() asn1.ObjectIdentifier {
	switch r.hashAlgorithm {
	case "sha384":
		return oidSHA384
	case "sha512":
		return oidSHA512
	case "sha1":
		return oidSHA1
	default:
		return oidSHA256
	}
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	var current int
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			current = current*10 + int(c-'0')
		case c == '.':
			oid = append(oid, current)
			current = 0
		}
	}
	return append(oid, current), nil
}

func oidToHashName(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(oidSHA256):
		return "sha256"
	case oid.Equal(oidSHA384):
		return "sha384"
	case oid.Equal(oidSHA512):
		return "sha512"
	case oid.Equal(oidSHA1):
		return "sha1"
	default:
		return oid.String()
	}
}

func oidToSigName(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(oidSHA256WithRSA):
		return "sha256WithRSA"
	case oid.Equal(oidSHA384WithRSA):
		return "sha384WithRSA"
	case oid.Equal(oidSHA512WithRSA):
		return "sha512WithRSA"
	case oid.Equal(oidECDSAWithSHA256):
		return "ecdsaWithSHA256"
	case oid.Equal(oidECDSAWithSHA384):
		return "ecdsaWithSHA384"
	case oid.Equal(oidECDSAWithSHA512):
		return "ecdsaWithSHA512"
	default:
		return oid.String()
	}
}
