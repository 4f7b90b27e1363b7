package mmr

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema mirrors internal/store/sqlite.go's single-table-plus-index
// idiom, sized for MMR nodes rather than capture events: one row per
// node, keyed by its position, so Get/Append/Size map directly onto
// point lookups and a MAX(idx) scan.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mmr_nodes (
    idx     INTEGER PRIMARY KEY,
    height  INTEGER NOT NULL,
    hash    BLOB NOT NULL
);
`

// SQLiteStore implements Store on top of a SQLite database, exercising
// github.com/mattn/go-sqlite3 as a third concrete backend alongside
// FileStore and MemoryStore (the "MMR store behind a trait" design
// note). Useful when the MMR log should live in the same database as
// the rest of a deployment's durable state instead of its own flat file.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	size uint64
}

// OpenSQLiteStore opens or creates a SQLite-backed MMR store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create mmr store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open mmr sqlite store: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply mmr schema: %w", err)
	}

	var count uint64
	if err := db.QueryRow(`SELECT COUNT(*) FROM mmr_nodes`).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count mmr nodes: %w", err)
	}

	return &SQLiteStore{db: db, size: count}, nil
}

// Append adds a node to the store.
func (s *SQLiteStore) Append(node *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.Index != s.size {
		return ErrCorruptedStore
	}

	_, err := s.db.Exec(
		`INSERT INTO mmr_nodes (idx, height, hash) VALUES (?, ?, ?)`,
		node.Index, node.Height, node.Hash[:],
	)
	if err != nil {
		return fmt.Errorf("insert mmr node: %w", err)
	}

	s.size++
	return nil
}

// Get retrieves a node by its index.
func (s *SQLiteStore) Get(index uint64) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index >= s.size {
		return nil, ErrIndexOutOfRange
	}

	var height uint8
	var hashBytes []byte
	err := s.db.QueryRow(
		`SELECT height, hash FROM mmr_nodes WHERE idx = ?`, index,
	).Scan(&height, &hashBytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("get mmr node: %w", err)
	}
	if len(hashBytes) != HashSize {
		return nil, ErrCorruptedStore
	}

	var hash [32]byte
	copy(hash[:], hashBytes)
	return &Node{Index: index, Height: height, Hash: hash}, nil
}

// Size returns the total number of nodes in the store.
func (s *SQLiteStore) Size() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

// Sync is a no-op: every Append already committed its own statement.
func (s *SQLiteStore) Sync() error {
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
