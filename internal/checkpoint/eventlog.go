package checkpoint

import (
	"crypto/sha256"
	"fmt"
	"time"

	"witnessd/internal/anchors"
	"witnessd/internal/store"
	"witnessd/internal/topology"
)

// AttachEventStore binds a durable SQLite event log to the chain. Once
// attached, every Commit also records a store.Event (and, when the
// previous revision's content is available, the topology.Extract edit
// regions between revisions) alongside the sealed checkpoint. deviceID
// identifies the recording device in the events table.
func (c *Chain) AttachEventStore(es *store.Store, deviceID [16]byte) {
	c.eventStore = es
	c.deviceID = deviceID
}

// RecordAnchorProofs persists external-anchor submissions for the event
// recorded for the checkpoint at ordinal, so their status survives past
// the anchors.Registry's in-memory lifetime. It is a no-op when no event
// store is attached.
func (c *Chain) RecordAnchorProofs(ordinal uint64, records []*anchors.AnchorRecord) error {
	if c.eventStore == nil || len(records) == 0 {
		return nil
	}

	mmrIndex := ordinal
	if c.log != nil {
		idx, err := c.log.GetLeafIndex(ordinal)
		if err != nil {
			return fmt.Errorf("map ordinal to mmr leaf: %w", err)
		}
		mmrIndex = idx
	}

	ev, err := c.eventStore.GetEventByMMRIndex(mmrIndex)
	if err != nil {
		return fmt.Errorf("lookup event for anchor proofs: %w", err)
	}
	if ev == nil {
		return nil
	}

	for _, r := range records {
		eventID := ev.ID
		proof := &store.AnchorProof{
			EventID:      &eventID,
			Provider:     string(r.Type),
			ProviderType: string(r.Type),
			Hash:         r.Hash,
			TimestampNs:  r.CreatedAt.UnixNano(),
			Status:       string(r.Status),
			RawProof:     r.Proof,
		}
		if _, err := c.eventStore.InsertAnchorProof(proof, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("record anchor proof: %w", err)
		}
	}

	return nil
}

// AttachSecureStore binds an HMAC-chained event log to the chain. Once
// attached, every Commit also appends a store.SecureEvent carrying the
// checkpoint's VDF proof, giving the event log its own tamper-evident
// hash chain independent of (and cross-checkable against) the
// checkpoint chain itself.
func (c *Chain) AttachSecureStore(ss *store.SecureStore) {
	c.secureStore = ss
}

// DeviceIDFromFingerprint derives the 16-byte device identifier the
// event store expects from a key hierarchy's string device ID.
func DeviceIDFromFingerprint(deviceID string) [16]byte {
	h := sha256.Sum256([]byte(deviceID))
	var id [16]byte
	copy(id[:], h[:16])
	return id
}

// recordEvent persists an event row (and any edit regions against the
// previous revision) for a just-sealed checkpoint. It is a no-op when
// no event store is attached.
func (c *Chain) recordEvent(prevContent, currContent []byte, cp *Checkpoint, mmrIndex uint64) error {
	if c.eventStore == nil {
		return nil
	}

	ev := &store.Event{
		DeviceID:    c.deviceID,
		MMRIndex:    mmrIndex,
		MMRLeafHash: cp.CheckpointHash,
		TimestampNs: cp.Timestamp.UnixNano(),
		FilePath:    c.DocumentPath,
		ContentHash: cp.DocumentHash,
		FileSize:    int64(len(currContent)),
		SizeDelta:   topology.ComputeSizeDelta(int64(len(prevContent)), int64(len(currContent))),
	}

	eventID, err := c.eventStore.InsertEvent(ev)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	if prevContent == nil {
		return nil
	}

	regions := topology.Extract(prevContent, currContent)
	if len(regions) == 0 {
		return nil
	}

	storeRegions := make([]store.EditRegion, len(regions))
	for i, r := range regions {
		storeRegions[i] = store.EditRegion{
			EventID:   eventID,
			Ordinal:   int16(i),
			StartPct:  r.StartPct,
			EndPct:    r.EndPct,
			DeltaSign: int8(r.DeltaSign),
			ByteCount: r.ByteCount,
		}
	}

	if err := c.eventStore.InsertEditRegions(eventID, storeRegions); err != nil {
		return fmt.Errorf("record edit regions: %w", err)
	}

	return nil
}

// recordSecureEvent appends a tamper-evident event row carrying the
// checkpoint's VDF proof. It is a no-op when no secure store is
// attached.
func (c *Chain) recordSecureEvent(currContent []byte, cp *Checkpoint) error {
	if c.secureStore == nil {
		return nil
	}

	return c.secureStore.InsertSecureEvent(&store.SecureEvent{
		DeviceID:      c.deviceID,
		TimestampNs:   cp.Timestamp.UnixNano(),
		FilePath:      c.DocumentPath,
		ContentHash:   cp.DocumentHash,
		FileSize:      int64(len(currContent)),
		SizeDelta:     topology.ComputeSizeDelta(int64(len(c.prevContent)), int64(len(currContent))),
		ContextType:   "authoring",
		VDFInput:      cp.VDFInput,
		VDFOutput:     cp.VDFOutput,
		VDFIterations: cp.VDFIterations,
	})
}

// EnsureDevice registers the chain's device in the event store if it
// has not been seen before. Call it once per process before any
// commits that use the event store.
func EnsureDevice(es *store.Store, deviceID [16]byte, signingPubkey [32]byte, hostname string) error {
	existing, err := es.GetDevice(deviceID)
	if err != nil {
		return fmt.Errorf("lookup device: %w", err)
	}
	if existing != nil {
		return nil
	}

	return es.InsertDevice(&store.Device{
		DeviceID:      deviceID,
		CreatedAt:     time.Now().UnixNano(),
		SigningPubkey: signingPubkey,
		Hostname:      hostname,
	})
}
