// Schema management for the event store. The schema ships as an
// ordered migration list; Open applies whatever is pending under a
// schema_migrations version table, so an existing database upgrades in
// place and a fresh one gets the full schema in one pass.
package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Base schema: devices, contexts, events, edit regions, verification index, weaves",
		Up:          migrationBaseSchema,
	},
	{
		Version:     2,
		Description: "External anchor submissions recorded per event",
		Up:          migrationAnchorProofs,
	},
}

const migrationBaseSchema = `
CREATE TABLE IF NOT EXISTS devices (
    device_id       BLOB PRIMARY KEY,
    created_at      INTEGER NOT NULL,
    signing_pubkey  BLOB NOT NULL,
    hostname        TEXT
);

CREATE TABLE IF NOT EXISTS contexts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    type        TEXT NOT NULL,
    note        TEXT,
    start_ns    INTEGER NOT NULL,
    end_ns      INTEGER
);

CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id       BLOB NOT NULL REFERENCES devices(device_id),
    mmr_index       INTEGER NOT NULL UNIQUE,
    mmr_leaf_hash   BLOB NOT NULL,
    timestamp_ns    INTEGER NOT NULL,
    file_path       TEXT NOT NULL,
    content_hash    BLOB NOT NULL,
    file_size       INTEGER NOT NULL,
    size_delta      INTEGER NOT NULL,
    context_id      INTEGER REFERENCES contexts(id)
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_file ON events(file_path, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_content ON events(content_hash);

CREATE TABLE IF NOT EXISTS edit_regions (
    event_id    INTEGER NOT NULL REFERENCES events(id),
    ordinal     INTEGER NOT NULL,
    start_pct   REAL NOT NULL,
    end_pct     REAL NOT NULL,
    delta_sign  INTEGER NOT NULL,
    byte_count  INTEGER NOT NULL,
    PRIMARY KEY (event_id, ordinal)
);

CREATE TABLE IF NOT EXISTS verification_index (
    mmr_index       INTEGER PRIMARY KEY,
    leaf_hash       BLOB NOT NULL,
    metadata_hash   BLOB NOT NULL,
    regions_root    BLOB,
    verified_at     INTEGER
);

CREATE TABLE IF NOT EXISTS weaves (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    device_roots    TEXT NOT NULL,
    weave_hash      BLOB NOT NULL,
    signature       BLOB NOT NULL
);
`

const migrationAnchorProofs = `
CREATE TABLE IF NOT EXISTS anchor_proofs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    checkpoint_id   INTEGER,
    event_id        INTEGER REFERENCES events(id),
    provider        TEXT NOT NULL,
    provider_type   TEXT NOT NULL,
    hash            BLOB NOT NULL,
    timestamp       INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    raw_proof       BLOB,
    verify_url      TEXT,
    block_height    INTEGER,
    block_hash      TEXT,
    block_time      INTEGER,
    transaction_id  TEXT,
    certificate     BLOB,
    metadata        TEXT,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anchors_event ON anchor_proofs(event_id);
CREATE INDEX IF NOT EXISTS idx_anchors_provider ON anchor_proofs(provider);
CREATE INDEX IF NOT EXISTS idx_anchors_status ON anchor_proofs(status);
CREATE INDEX IF NOT EXISTS idx_anchors_hash ON anchor_proofs(hash);
`

// MigrateDB applies every pending migration inside a transaction each.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration version.
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// ValidateSchema confirms every table the store reads or writes exists.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{
		"devices",
		"contexts",
		"events",
		"edit_regions",
		"verification_index",
		"weaves",
		"anchor_proofs",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
