package anchors

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // OTS op 0x02 requires it
)

const (
	// otsHeaderMagic is the fixed 31-byte OTS file prefix.
	otsHeaderMagic = "\x00OpenTimestamps\x00\x00Proof\x00\xbf\x89\xe2\xe8\x84\xe8\x92\x94"

	otsVersion = 1

	// Hash-type tags, doubling as hashing ops inside the path.
	otsOpSHA256    = 0x08
	otsOpRIPEMD160 = 0x02

	// Path operations.
	otsOpAppend  = 0xf0
	otsOpPrepend = 0xf1
	otsOpReverse = 0xf2
	otsOpHexlify = 0xf3
	otsOpVerify  = 0x00 // terminal: marks the path as bound

	// Attestation tags.
	otsAttestBitcoin  = 0x05
	otsAttestLitecoin = 0x06
	otsAttestPending  = 0x83
	otsAttestUnknown  = 0x84
	otsAttestEthereum = 0x30

	maxCalendarResponseSize = 1024 * 1024

	// maxOperandLength bounds an append/prepend operand: the format
	// encodes these with a single length byte, so anything longer is
	// malformed.
	maxOperandLength = 253
)

// DefaultOTSCalendars lists the public calendar servers tried in order.
var DefaultOTSCalendars = []string{
	"https://a.pool.opentimestamps.org",
	"https://b.pool.opentimestamps.org",
	"https://a.pool.eternitywall.com",
	"https://ots.btc.catallaxy.com",
}

// OTSConfig configures the OpenTimestamps anchor.
type OTSConfig struct {
	Calendars     []string
	Timeout       time.Duration
	MinCalendars  int
	RetryAttempts int
	RetryDelay    time.Duration
	EnableUpgrade bool
}

// OTSAnchor speaks the OpenTimestamps calendar protocol.
type OTSAnchor struct {
	calendars     []string
	client        *http.Client
	minCalendars  int
	retryAttempts int
	retryDelay    time.Duration
	enableUpgrade bool

	pendingMu    sync.RWMutex
	pendingCache map[string]*PendingProof
}

// PendingProof is a submission still waiting on a Bitcoin attestation.
type PendingProof struct {
	Hash       [32]byte
	Proof      []byte
	Calendar   string
	SubmitTime time.Time
	LastCheck  time.Time
	Attempts   int
}

// OTSInfo is a parsed OTS proof.
type OTSInfo struct {
	Version      int
	HashType     string
	Hash         []byte
	Pending      []string // calendar URLs still pending
	Confirmed    bool     // terminal attestation present
	BlockHeight  uint64
	BlockHash    []byte
	Attestations []OTSAttestation
	Operations   []OTSOperation
	MerkleRoot   []byte // final value after replaying the path
}

// OTSAttestation is one attestation inside a proof.
type OTSAttestation struct {
	Type        string // "bitcoin", "pending", "ethereum", "litecoin", "unknown"
	Data        []byte
	Calendar    string
	BlockHeight uint64
	BlockTime   time.Time
}

// OTSOperation is one step of the attestation path.
type OTSOperation struct {
	Type    string // "sha256", "ripemd160", "append", "prepend", "reverse", "hexlify", "verify"
	Operand []byte
}

// NewOTSAnchor uses the default calendars and timeouts.
func NewOTSAnchor() *OTSAnchor {
	return NewOTSAnchorWithConfig(OTSConfig{})
}

// NewOTSAnchorWithConfig fills zero-valued config fields with defaults.
func NewOTSAnchorWithConfig(config OTSConfig) *OTSAnchor {
	calendars := config.Calendars
	if len(calendars) == 0 {
		calendars = DefaultOTSCalendars
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	minCalendars := config.MinCalendars
	if minCalendars == 0 {
		minCalendars = 1
	}
	retryAttempts := config.RetryAttempts
	if retryAttempts == 0 {
		retryAttempts = 3
	}
	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &OTSAnchor{
		calendars:     calendars,
		client:        &http.Client{Timeout: timeout},
		minCalendars:  minCalendars,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		enableUpgrade: config.EnableUpgrade,
		pendingCache:  make(map[string]*PendingProof),
	}
}

// Name returns the anchor type name.
func (o *OTSAnchor) Name() string {
	return "ots"
}

// Commit submits a 32-byte hash to the calendars and returns a pending
// OTS proof combining every calendar that accepted it.
func (o *OTSAnchor) Commit(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, errors.New("ots: hash must be 32 bytes (SHA-256)")
	}

	var proofs [][]byte
	var calendarsUsed []string
	var lastErr error

	for _, calendar := range o.calendars {
		proof, err := o.submitWithRetry(calendar, hash)
		if err != nil {
			lastErr = err
			continue
		}
		proofs = append(proofs, proof)
		calendarsUsed = append(calendarsUsed, calendar)
	}

	if len(proofs) < o.minCalendars {
		if lastErr != nil {
			return nil, fmt.Errorf("ots: insufficient calendars succeeded (%d/%d): %w",
				len(proofs), o.minCalendars, lastErr)
		}
		return nil, fmt.Errorf("ots: insufficient calendars succeeded (%d/%d)",
			len(proofs), o.minCalendars)
	}

	otsFile := o.buildMultiCalendarProof(hash, proofs, calendarsUsed)
	if o.enableUpgrade {
		o.cachePendingProof(hash, otsFile, calendarsUsed[0])
	}
	return otsFile, nil
}

func (o *OTSAnchor) submitWithRetry(calendar string, hash []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < o.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(o.retryDelay * time.Duration(attempt))
		}
		proof, err := o.submitToCalendar(calendar, hash)
		if err == nil {
			return proof, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (o *OTSAnchor) submitToCalendar(calendar string, hash []byte) ([]byte, error) {
	req, err := http.NewRequest("POST", calendar+"/digest", bytes.NewReader(hash))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/vnd.opentimestamps.v1")
	req.Header.Set("User-Agent", "witnessd/1.0")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("calendar returned %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxCalendarResponseSize))
}

// buildMultiCalendarProof assembles an OTS file holding one pending
// attestation per accepting calendar, alternatives separated by the
// 0xff fork marker.
func (o *OTSAnchor) buildMultiCalendarProof(hash []byte, calendarProofs [][]byte, calendars []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(otsHeaderMagic)
	buf.WriteByte(otsVersion)
	buf.WriteByte(otsOpSHA256)
	buf.Write(hash)

	for i, proof := range calendarProofs {
		if i > 0 {
			buf.WriteByte(0xff)
		}
		buf.WriteByte(otsAttestPending)
		writeVarBytes(&buf, []byte(calendars[i]))
		buf.Write(proof)
	}
	return buf.Bytes()
}

// wrapProof assembles a single-calendar OTS file.
func (o *OTSAnchor) wrapProof(hash []byte, calendar string, calendarProof []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(otsHeaderMagic)
	buf.WriteByte(otsVersion)
	buf.WriteByte(otsOpSHA256)
	buf.Write(hash)
	buf.WriteByte(otsAttestPending)
	writeVarBytes(&buf, []byte(calendar))
	buf.Write(calendarProof)
	return buf.Bytes()
}

// Verify parses a proof, checks its bound hash against the expected
// one, and replays the attestation path.
func (o *OTSAnchor) Verify(hash, proof []byte) error {
	if len(proof) < len(otsHeaderMagic)+1 {
		return errors.New("ots: proof too short")
	}
	if string(proof[:len(otsHeaderMagic)]) != otsHeaderMagic {
		return errors.New("ots: invalid header magic")
	}
	if version := proof[len(otsHeaderMagic)]; version != otsVersion {
		return fmt.Errorf("ots: unsupported version %d", version)
	}

	info, err := ParseOTS(proof)
	if err != nil {
		return fmt.Errorf("ots: failed to parse proof: %w", err)
	}
	if hash != nil && !bytes.Equal(info.Hash, hash) {
		return errors.New("ots: proof hash does not match expected hash")
	}
	if err := o.executeProofOperations(info); err != nil {
		return fmt.Errorf("ots: proof execution failed: %w", err)
	}
	return nil
}

// executeProofOperations replays the path on the anchored hash,
// leaving the final value in info.MerkleRoot.
func (o *OTSAnchor) executeProofOperations(info *OTSInfo) error {
	current := append([]byte(nil), info.Hash...)

	for _, op := range info.Operations {
		switch op.Type {
		case "sha256":
			h := sha256.Sum256(current)
			current = h[:]
		case "ripemd160":
			h := ripemd160.New()
			h.Write(current)
			current = h.Sum(nil)
		case "append":
			current = append(current, op.Operand...)
		case "prepend":
			current = append(append([]byte(nil), op.Operand...), current...)
		case "reverse":
			reversed := make([]byte, len(current))
			for i, b := range current {
				reversed[len(current)-1-i] = b
			}
			current = reversed
		case "hexlify":
			current = []byte(hex.EncodeToString(current))
		default:
			// Unknown ops pass through for forward compatibility.
		}
	}

	info.MerkleRoot = current
	return nil
}

// UpgradeProof asks each pending calendar for a confirmed version of
// the proof. Returns (proof, confirmed); failures leave the original
// proof untouched.
func (o *OTSAnchor) UpgradeProof(proof []byte) ([]byte, bool, error) {
	if len(proof) < len(otsHeaderMagic)+1 {
		return proof, false, errors.New("ots: proof too short")
	}

	info, err := ParseOTS(proof)
	if err != nil {
		return proof, false, nil
	}
	if info.Confirmed {
		return proof, true, nil
	}
	if len(info.Pending) == 0 {
		return proof, false, nil
	}

	for _, calendarURL := range info.Pending {
		upgraded, err := o.queryCalendarForUpgrade(calendarURL, info.Hash)
		if err != nil {
			continue
		}
		upgradedInfo, err := ParseOTS(upgraded)
		if err != nil {
			continue
		}
		if upgradedInfo.Confirmed {
			return upgraded, true, nil
		}
	}
	return proof, false, nil
}

func (o *OTSAnchor) queryCalendarForUpgrade(calendarURL string, hash []byte) ([]byte, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("%s/timestamp/%x", calendarURL, hash), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.opentimestamps.v1")
	req.Header.Set("User-Agent", "witnessd/1.0")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.New("ots: timestamp not yet available")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ots: calendar returned %d", resp.StatusCode)
	}

	upgradeData, err := io.ReadAll(io.LimitReader(resp.Body, maxCalendarResponseSize))
	if err != nil {
		return nil, err
	}
	return o.wrapProof(hash, calendarURL, upgradeData), nil
}

// UpgradeAll retries every cached pending proof, returning those that
// confirmed and dropping them from the cache.
func (o *OTSAnchor) UpgradeAll() ([][]byte, error) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	var upgraded [][]byte
	for hashHex, pending := range o.pendingCache {
		proof, confirmed, err := o.UpgradeProof(pending.Proof)
		if err != nil {
			pending.Attempts++
			pending.LastCheck = time.Now()
			continue
		}
		if confirmed {
			upgraded = append(upgraded, proof)
			delete(o.pendingCache, hashHex)
		} else {
			pending.LastCheck = time.Now()
			pending.Attempts++
		}
	}
	return upgraded, nil
}

func (o *OTSAnchor) cachePendingProof(hash []byte, proof []byte, calendar string) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	var h [32]byte
	copy(h[:], hash)
	o.pendingCache[hex.EncodeToString(hash)] = &PendingProof{
		Hash:       h,
		Proof:      proof,
		Calendar:   calendar,
		SubmitTime: time.Now(),
		LastCheck:  time.Now(),
	}
}

// GetPendingCount reports cached pending proofs.
func (o *OTSAnchor) GetPendingCount() int {
	o.pendingMu.RLock()
	defer o.pendingMu.RUnlock()
	return len(o.pendingCache)
}

// ParseOTS parses an OTS proof file: magic, version, hash type, the
// anchored hash, then the op/attestation stream.
func ParseOTS(proof []byte) (*OTSInfo, error) {
	if len(proof) < len(otsHeaderMagic)+2 {
		return nil, errors.New("ots: proof too short")
	}
	if string(proof[:len(otsHeaderMagic)]) != otsHeaderMagic {
		return nil, errors.New("ots: invalid header")
	}

	info := &OTSInfo{Version: int(proof[len(otsHeaderMagic)])}
	offset := len(otsHeaderMagic) + 1

	if offset >= len(proof) {
		return nil, errors.New("ots: unexpected end of proof")
	}
	hashType := proof[offset]
	offset++

	var hashLen int
	switch hashType {
	case otsOpSHA256:
		info.HashType = "sha256"
		hashLen = 32
	case otsOpRIPEMD160:
		info.HashType = "ripemd160"
		hashLen = 20
	default:
		return nil, fmt.Errorf("ots: unsupported hash type 0x%02x", hashType)
	}

	if offset+hashLen > len(proof) {
		return nil, errors.New("ots: hash truncated")
	}
	info.Hash = proof[offset : offset+hashLen]
	offset += hashLen

	if err := parseOTSBody(proof[offset:], info); err != nil {
		return nil, err
	}
	return info, nil
}

func parseOTSBody(data []byte, info *OTSInfo) error {
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			break
		}

		switch tag {
		case otsAttestPending:
			urlBytes, err := readVarBytes(r)
			if err != nil {
				return fmt.Errorf("failed to read pending URL: %w", err)
			}
			info.Pending = append(info.Pending, string(urlBytes))
			info.Attestations = append(info.Attestations, OTSAttestation{
				Type:     "pending",
				Calendar: string(urlBytes),
			})

		case otsAttestBitcoin:
			height, err := readVarInt(r)
			if err != nil {
				return fmt.Errorf("failed to read bitcoin height: %w", err)
			}
			info.Confirmed = true
			info.BlockHeight = height
			info.Attestations = append(info.Attestations, OTSAttestation{
				Type:        "bitcoin",
				BlockHeight: height,
			})

		case otsAttestLitecoin:
			height, err := readVarInt(r)
			if err != nil {
				return fmt.Errorf("failed to read litecoin height: %w", err)
			}
			info.Attestations = append(info.Attestations, OTSAttestation{
				Type:        "litecoin",
				BlockHeight: height,
			})

		case otsAttestEthereum:
			height, err := readVarInt(r)
			if err != nil {
				return fmt.Errorf("failed to read ethereum height: %w", err)
			}
			info.Attestations = append(info.Attestations, OTSAttestation{
				Type:        "ethereum",
				BlockHeight: height,
			})

		case otsAttestUnknown:
			raw, err := readVarBytes(r)
			if err != nil {
				return err
			}
			info.Attestations = append(info.Attestations, OTSAttestation{
				Type: "unknown",
				Data: raw,
			})

		case otsOpAppend:
			operand, err := readVarBytes(r)
			if err != nil {
				return err
			}
			if len(operand) > maxOperandLength {
				return fmt.Errorf("append operand length %d exceeds format bound", len(operand))
			}
			info.Operations = append(info.Operations, OTSOperation{Type: "append", Operand: operand})

		case otsOpPrepend:
			operand, err := readVarBytes(r)
			if err != nil {
				return err
			}
			if len(operand) > maxOperandLength {
				return fmt.Errorf("prepend operand length %d exceeds format bound", len(operand))
			}
			info.Operations = append(info.Operations, OTSOperation{Type: "prepend", Operand: operand})

		case otsOpReverse:
			info.Operations = append(info.Operations, OTSOperation{Type: "reverse"})

		case otsOpHexlify:
			info.Operations = append(info.Operations, OTSOperation{Type: "hexlify"})

		case otsOpSHA256:
			info.Operations = append(info.Operations, OTSOperation{Type: "sha256"})

		case otsOpRIPEMD160:
			info.Operations = append(info.Operations, OTSOperation{Type: "ripemd160"})

		case otsOpVerify:
			// Terminal op: the path is bound to a public source.
			info.Confirmed = true
			info.Operations = append(info.Operations, OTSOperation{Type: "verify"})

		case 0xff:
			// Fork marker between alternative branches.
			continue

		default:
			// Unknown tag: skip for forward compatibility.
			continue
		}
	}
	return nil
}

// SerializeOTS renders parsed info back into the binary format.
func SerializeOTS(info *OTSInfo) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(otsHeaderMagic)
	buf.WriteByte(byte(info.Version))

	switch info.HashType {
	case "sha256":
		buf.WriteByte(otsOpSHA256)
	case "ripemd160":
		buf.WriteByte(otsOpRIPEMD160)
	default:
		return nil, fmt.Errorf("unsupported hash type: %s", info.HashType)
	}
	buf.Write(info.Hash)

	for _, op := range info.Operations {
		switch op.Type {
		case "sha256":
			buf.WriteByte(otsOpSHA256)
		case "ripemd160":
			buf.WriteByte(otsOpRIPEMD160)
		case "append":
			buf.WriteByte(otsOpAppend)
			writeVarBytes(&buf, op.Operand)
		case "prepend":
			buf.WriteByte(otsOpPrepend)
			writeVarBytes(&buf, op.Operand)
		case "reverse":
			buf.WriteByte(otsOpReverse)
		case "hexlify":
			buf.WriteByte(otsOpHexlify)
		case "verify":
			buf.WriteByte(otsOpVerify)
		}
	}

	for i, att := range info.Attestations {
		if i > 0 {
			buf.WriteByte(0xff)
		}
		switch att.Type {
		case "pending":
			buf.WriteByte(otsAttestPending)
			writeVarBytes(&buf, []byte(att.Calendar))
		case "bitcoin":
			buf.WriteByte(otsAttestBitcoin)
			writeVarInt(&buf, att.BlockHeight)
		case "litecoin":
			buf.WriteByte(otsAttestLitecoin)
			writeVarInt(&buf, att.BlockHeight)
		case "ethereum":
			buf.WriteByte(otsAttestEthereum)
			writeVarInt(&buf, att.BlockHeight)
		case "unknown":
			buf.WriteByte(otsAttestUnknown)
			writeVarBytes(&buf, att.Data)
		}
	}
	return buf.Bytes(), nil
}

func writeVarInt(w io.Writer, n uint64) {
	var buf [10]byte
	i := 0
	for n >= 0x80 {
		buf[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	buf[i] = byte(n)
	w.Write(buf[:i+1])
}

func readVarInt(r io.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		var b [1]byte
		if _, err := r.Read(b[:]); err != nil {
			return 0, err
		}
		result |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, errors.New("varint overflow")
		}
	}
	return result, nil
}

func writeVarBytes(w io.Writer, data []byte) {
	writeVarInt(w, uint64(len(data)))
	w.Write(data)
}

func readVarBytes(r io.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length > maxCalendarResponseSize {
		return nil, errors.New("data too large")
	}
	data := make([]byte, length)
	_, err = io.ReadFull(r, data)
	return data, err
}

// IsValidOTSFile reports whether data starts with the OTS magic.
func IsValidOTSFile(data []byte) bool {
	return len(data) >= len(otsHeaderMagic) &&
		string(data[:len(otsHeaderMagic)]) == otsHeaderMagic
}

// GetStatusString renders a human-readable proof status.
func (info *OTSInfo) GetStatusString() string {
	if info.Confirmed {
		return fmt.Sprintf("Confirmed at Bitcoin block %d", info.BlockHeight)
	}
	if len(info.Pending) > 0 {
		return fmt.Sprintf("Pending on %d calendar(s)", len(info.Pending))
	}
	return "Unknown status"
}
