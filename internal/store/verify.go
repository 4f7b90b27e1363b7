package store

import (
	"crypto/sha256"
	"fmt"

	"witnessd/internal/mmr"
	"witnessd/internal/security"
)

// VerifyEventLeaf checks an event row against the MMR node recorded at its
// position. The event stores the raw checkpoint hash that was appended as
// a leaf; the MMR stores H(LeafPrefix || checkpoint-hash) for that leaf.
func VerifyEventLeaf(event *Event, nodeHash [32]byte) error {
	h := sha256.New()
	h.Write([]byte{mmr.LeafPrefix})
	h.Write(event.MMRLeafHash[:])

	var expected [32]byte
	copy(expected[:], h.Sum(nil))

	if !security.ConstantTimeCompare(expected[:], nodeHash[:]) {
		return fmt.Errorf("leaf hash mismatch for event %d (mmr_index=%d): mmr node %x, expected %x",
			event.ID, event.MMRIndex, nodeHash, expected)
	}

	return nil
}

// VerifyAllEvents walks the event log in append order and returns the MMR
// indices of rows that are internally inconsistent or, when mmrGetter is
// provided, that no longer match the MMR. mmrGetter returns the node hash
// stored at a given MMR index.
//
// Checks per row: timestamps for the same file must not run backwards, and
// the recorded checkpoint hash must still be the leaf at the row's MMR
// position.
func (s *Store) VerifyAllEvents(mmrGetter func(uint64) ([32]byte, error)) ([]uint64, error) {
	return s.verifyEvents("", mmrGetter)
}

// VerifyFileEvents is VerifyAllEvents restricted to one file's rows, for
// cross-checking against that document's own MMR.
func (s *Store) VerifyFileEvents(filePath string, mmrGetter func(uint64) ([32]byte, error)) ([]uint64, error) {
	return s.verifyEvents(filePath, mmrGetter)
}

func (s *Store) verifyEvents(filePath string, mmrGetter func(uint64) ([32]byte, error)) ([]uint64, error) {
	query := `
		SELECT id, device_id, mmr_index, mmr_leaf_hash, timestamp_ns, file_path, content_hash, file_size, size_delta, context_id
		FROM events`
	var args []interface{}
	if filePath != "" {
		query += ` WHERE file_path = ?`
		args = append(args, filePath)
	}
	query += ` ORDER BY mmr_index ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query all events: %w", err)
	}
	defer rows.Close()

	var corrupted []uint64
	lastTimestamp := make(map[string]int64)

	for rows.Next() {
		var e Event
		var deviceID, leafHash, contentHash []byte

		if err := rows.Scan(&e.ID, &deviceID, &e.MMRIndex, &leafHash, &e.TimestampNs, &e.FilePath, &contentHash, &e.FileSize, &e.SizeDelta, &e.ContextID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		copy(e.DeviceID[:], deviceID)
		copy(e.MMRLeafHash[:], leafHash)
		copy(e.ContentHash[:], contentHash)

		// A later append recording an earlier timestamp for the same file
		// means either clock manipulation or a rewritten row.
		if prev, ok := lastTimestamp[e.FilePath]; ok && e.TimestampNs < prev {
			corrupted = append(corrupted, e.MMRIndex)
			lastTimestamp[e.FilePath] = e.TimestampNs
			continue
		}
		lastTimestamp[e.FilePath] = e.TimestampNs

		if mmrGetter != nil {
			nodeHash, err := mmrGetter(e.MMRIndex)
			if err != nil {
				return nil, fmt.Errorf("get mmr hash for index %d: %w", e.MMRIndex, err)
			}

			if err := VerifyEventLeaf(&e, nodeHash); err != nil {
				corrupted = append(corrupted, e.MMRIndex)
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return corrupted, nil
}
