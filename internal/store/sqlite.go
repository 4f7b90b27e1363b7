package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store represents the SQLite event store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and
// applies any pending schema migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertEvent inserts a new event and returns its ID.
func (s *Store) InsertEvent(e *Event) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO events (device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DeviceID[:], e.MMRIndex, e.MMRLeafHash[:], e.TimestampNs, e.FilePath, e.ContentHash[:], e.FileSize, e.SizeDelta, e.ContextID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// InsertEditRegions inserts edit regions for an event.
func (s *Store) InsertEditRegions(eventID int64, regions []EditRegion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO edit_regions (event_id, ordinal, start_pct, end_pct, delta_sign, byte_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range regions {
		if _, err := stmt.Exec(eventID, r.Ordinal, r.StartPct, r.EndPct, r.DeltaSign, r.ByteCount); err != nil {
			return fmt.Errorf("insert edit region: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(id int64) (*Event, error) {
	var e Event
	var deviceID, leafHash, contentHash []byte

	err := s.db.QueryRow(`
		SELECT id, device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id
		FROM events WHERE id = ?`, id,
	).Scan(&e.ID, &deviceID, &e.MMRIndex, &leafHash, &e.TimestampNs, &e.FilePath, &contentHash, &e.FileSize, &e.SizeDelta, &e.ContextID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	copy(e.DeviceID[:], deviceID)
	copy(e.MMRLeafHash[:], leafHash)
	copy(e.ContentHash[:], contentHash)

	return &e, nil
}

// GetEventByMMRIndex retrieves an event by its MMR index.
func (s *Store) GetEventByMMRIndex(idx uint64) (*Event, error) {
	var e Event
	var deviceID, leafHash, contentHash []byte

	err := s.db.QueryRow(`
		SELECT id, device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id
		FROM events WHERE mmr_index = ?`, idx,
	).Scan(&e.ID, &deviceID, &e.MMRIndex, &leafHash, &e.TimestampNs, &e.FilePath, &contentHash, &e.FileSize, &e.SizeDelta, &e.ContextID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event by mmr index: %w", err)
	}

	copy(e.DeviceID[:], deviceID)
	copy(e.MMRLeafHash[:], leafHash)
	copy(e.ContentHash[:], contentHash)

	return &e, nil
}

// GetEventsByFile retrieves events for a file within a time range.
func (s *Store) GetEventsByFile(path string, startNs, endNs int64) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id
		FROM events
		WHERE file_path = ? AND timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns ASC`, path, startNs, endNs,
	)
	if err != nil {
		return nil, fmt.Errorf("query events by file: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetEditRegions retrieves edit regions for an event.
func (s *Store) GetEditRegions(eventID int64) ([]EditRegion, error) {
	rows, err := s.db.Query(`
		SELECT event_id, ordinal, start_pct, end_pct, delta_sign, byte_count
		FROM edit_regions
		WHERE event_id = ?
		ORDER BY ordinal ASC`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query edit regions: %w", err)
	}
	defer rows.Close()

	var regions []EditRegion
	for rows.Next() {
		var r EditRegion
		if err := rows.Scan(&r.EventID, &r.Ordinal, &r.StartPct, &r.EndPct, &r.DeltaSign, &r.ByteCount); err != nil {
			return nil, fmt.Errorf("scan edit region: %w", err)
		}
		regions = append(regions, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edit regions: %w", err)
	}

	return regions, nil
}

// GetEventRange retrieves events within a time range.
func (s *Store) GetEventRange(startNs, endNs int64) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id
		FROM events
		WHERE timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns ASC`, startNs, endNs,
	)
	if err != nil {
		return nil, fmt.Errorf("query events by range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// InsertContext inserts a new context and returns its ID.
func (s *Store) InsertContext(c *Context) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO contexts (type, note, start_ns, end_ns)
		VALUES (?, ?, ?, ?)`,
		string(c.Type), c.Note, c.StartNs, c.EndNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert context: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetActiveContext returns the currently open context (EndNs is NULL).
func (s *Store) GetActiveContext() (*Context, error) {
	var c Context
	var contextType string

	err := s.db.QueryRow(`
		SELECT id, type, note, start_ns, end_ns
		FROM contexts
		WHERE end_ns IS NULL
		ORDER BY start_ns DESC
		LIMIT 1`,
	).Scan(&c.ID, &contextType, &c.Note, &c.StartNs, &c.EndNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active context: %w", err)
	}

	c.Type = ContextType(contextType)
	return &c, nil
}

// CloseContext closes an open context by setting its end timestamp.
func (s *Store) CloseContext(id int64, endNs int64) error {
	result, err := s.db.Exec(`UPDATE contexts SET end_ns = ? WHERE id = ?`, endNs, id)
	if err != nil {
		return fmt.Errorf("close context: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("context not found: %d", id)
	}

	return nil
}

// GetContextForTimestamp returns the closed context covering the given
// timestamp, or nil if no context was active at that moment.
func (s *Store) GetContextForTimestamp(timestampNs int64) (*Context, error) {
	var c Context
	var contextType string

	err := s.db.QueryRow(`
		SELECT id, type, note, start_ns, end_ns
		FROM contexts
		WHERE start_ns <= ? AND end_ns IS NOT NULL AND end_ns >= ?
		ORDER BY start_ns DESC
		LIMIT 1`, timestampNs, timestampNs,
	).Scan(&c.ID, &contextType, &c.Note, &c.StartNs, &c.EndNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get context for timestamp: %w", err)
	}

	c.Type = ContextType(contextType)
	return &c, nil
}

// GetContextsInRange returns all contexts overlapping [startNs, endNs],
// ordered by start time. Open contexts overlap any range that extends
// past their start.
func (s *Store) GetContextsInRange(startNs, endNs int64) ([]*Context, error) {
	rows, err := s.db.Query(`
		SELECT id, type, note, start_ns, end_ns
		FROM contexts
		WHERE start_ns <= ? AND (end_ns IS NULL OR end_ns >= ?)
		ORDER BY start_ns ASC`, endNs, startNs,
	)
	if err != nil {
		return nil, fmt.Errorf("query contexts in range: %w", err)
	}
	defer rows.Close()

	var contexts []*Context
	for rows.Next() {
		var c Context
		var contextType string
		if err := rows.Scan(&c.ID, &contextType, &c.Note, &c.StartNs, &c.EndNs); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		c.Type = ContextType(contextType)
		contexts = append(contexts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contexts: %w", err)
	}

	return contexts, nil
}

// InsertDevice inserts a new device.
func (s *Store) InsertDevice(d *Device) error {
	_, err := s.db.Exec(`
		INSERT INTO devices (device_id, created_at, signing_pubkey, hostname)
		VALUES (?, ?, ?, ?)`,
		d.DeviceID[:], d.CreatedAt, d.SigningPubkey[:], d.Hostname,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}

	return nil
}

// GetDevice retrieves a device by ID.
func (s *Store) GetDevice(id [16]byte) (*Device, error) {
	var d Device
	var deviceID, pubkey []byte

	err := s.db.QueryRow(`
		SELECT device_id, created_at, signing_pubkey, hostname
		FROM devices WHERE device_id = ?`, id[:],
	).Scan(&deviceID, &d.CreatedAt, &pubkey, &d.Hostname)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	copy(d.DeviceID[:], deviceID)
	copy(d.SigningPubkey[:], pubkey)

	return &d, nil
}

// InsertVerificationEntry inserts a verification index entry.
func (s *Store) InsertVerificationEntry(v *VerificationEntry) error {
	var regionsRoot []byte
	if v.RegionsRoot != nil {
		regionsRoot = v.RegionsRoot[:]
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO verification_index (mmr_index, leaf_hash, metadata_hash, regions_root, verified_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.MMRIndex, v.LeafHash[:], v.MetadataHash[:], regionsRoot, v.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification entry: %w", err)
	}

	return nil
}

// GetVerificationEntry retrieves a verification entry by MMR index.
func (s *Store) GetVerificationEntry(mmrIndex uint64) (*VerificationEntry, error) {
	var v VerificationEntry
	var leafHash, metadataHash, regionsRoot []byte

	err := s.db.QueryRow(`
		SELECT mmr_index, leaf_hash, metadata_hash, regions_root, verified_at
		FROM verification_index WHERE mmr_index = ?`, mmrIndex,
	).Scan(&v.MMRIndex, &leafHash, &metadataHash, &regionsRoot, &v.VerifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get verification entry: %w", err)
	}

	copy(v.LeafHash[:], leafHash)
	copy(v.MetadataHash[:], metadataHash)
	if regionsRoot != nil {
		v.RegionsRoot = new([32]byte)
		copy(v.RegionsRoot[:], regionsRoot)
	}

	return &v, nil
}

// GetLastEventForFile retrieves the most recent event for a file path.
func (s *Store) GetLastEventForFile(path string) (*Event, error) {
	var e Event
	var deviceID, leafHash, contentHash []byte

	err := s.db.QueryRow(`
		SELECT id, device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id
		FROM events
		WHERE file_path = ?
		ORDER BY timestamp_ns DESC
		LIMIT 1`, path,
	).Scan(&e.ID, &deviceID, &e.MMRIndex, &leafHash, &e.TimestampNs, &e.FilePath, &contentHash, &e.FileSize, &e.SizeDelta, &e.ContextID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last event for file: %w", err)
	}

	copy(e.DeviceID[:], deviceID)
	copy(e.MMRLeafHash[:], leafHash)
	copy(e.ContentHash[:], contentHash)

	return &e, nil
}

// InsertWeave inserts a new weave record.
func (s *Store) InsertWeave(w *Weave) (int64, error) {
	deviceRootsJSON, err := json.Marshal(w.DeviceRoots)
	if err != nil {
		return 0, fmt.Errorf("marshal device roots: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO weaves (timestamp_ns, device_roots, weave_hash, signature)
		VALUES (?, ?, ?, ?)`,
		w.TimestampNs, string(deviceRootsJSON), w.WeaveHash[:], w.Signature,
	)
	if err != nil {
		return 0, fmt.Errorf("insert weave: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetWeave retrieves a weave by ID.
func (s *Store) GetWeave(id int64) (*Weave, error) {
	var w Weave
	var deviceRootsJSON string
	var weaveHash []byte

	err := s.db.QueryRow(`
		SELECT id, timestamp_ns, device_roots, weave_hash, signature
		FROM weaves WHERE id = ?`, id,
	).Scan(&w.ID, &w.TimestampNs, &deviceRootsJSON, &weaveHash, &w.Signature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get weave: %w", err)
	}

	copy(w.WeaveHash[:], weaveHash)

	if err := json.Unmarshal([]byte(deviceRootsJSON), &w.DeviceRoots); err != nil {
		return nil, fmt.Errorf("unmarshal device roots: %w", err)
	}

	return &w, nil
}

// InsertAnchorProof persists an external-anchor submission against the
// event it covers.
func (s *Store) InsertAnchorProof(a *AnchorProof, nowNs int64) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO anchor_proofs (checkpoint_id, event_id, provider, provider_type, hash, timestamp, status, raw_proof, verify_url, block_height, block_hash, block_time, transaction_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.CheckpointID, a.EventID, a.Provider, a.ProviderType, a.Hash[:], a.TimestampNs, a.Status, a.RawProof, a.VerifyURL, a.BlockHeight, a.BlockHash, a.BlockTimeNs, a.TransactionID, nowNs, nowNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert anchor proof: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetAnchorProofsByEvent returns every anchor submission recorded against
// an event, most recently updated first.
func (s *Store) GetAnchorProofsByEvent(eventID int64) ([]AnchorProof, error) {
	rows, err := s.db.Query(`
		SELECT id, checkpoint_id, event_id, provider, provider_type, hash, timestamp, status, raw_proof, verify_url, block_height, block_hash, block_time, transaction_id
		FROM anchor_proofs WHERE event_id = ? ORDER BY updated_at DESC`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query anchor proofs: %w", err)
	}
	defer rows.Close()

	var proofs []AnchorProof
	for rows.Next() {
		var a AnchorProof
		var hash []byte
		var blockTimeNs sql.NullInt64
		var blockHeight sql.NullInt64

		if err := rows.Scan(&a.ID, &a.CheckpointID, &a.EventID, &a.Provider, &a.ProviderType, &hash, &a.TimestampNs, &a.Status, &a.RawProof, &a.VerifyURL, &blockHeight, &a.BlockHash, &blockTimeNs, &a.TransactionID); err != nil {
			return nil, fmt.Errorf("scan anchor proof: %w", err)
		}
		copy(a.Hash[:], hash)
		if blockHeight.Valid {
			a.BlockHeight = &blockHeight.Int64
		}
		if blockTimeNs.Valid {
			a.BlockTimeNs = &blockTimeNs.Int64
		}

		proofs = append(proofs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anchor proofs: %w", err)
	}

	return proofs, nil
}

// scanEvents is a helper to scan event rows into a slice.
func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event

	for rows.Next() {
		var e Event
		var deviceID, leafHash, contentHash []byte

		if err := rows.Scan(&e.ID, &deviceID, &e.MMRIndex, &leafHash, &e.TimestampNs, &e.FilePath, &contentHash, &e.FileSize, &e.SizeDelta, &e.ContextID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		copy(e.DeviceID[:], deviceID)
		copy(e.MMRLeafHash[:], leafHash)
		copy(e.ContentHash[:], contentHash)

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
