// Package store provides crash-durable partitioned key-value persistence
// on local SQLite. One partition per concern: the pending-operation queue,
// dead letters, and one snapshot partition per domain entity type.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quickmart/poscore/internal/errors"
)

// Partition names for the terminal core. Callers may use additional
// partitions; these are the ones the core itself writes.
const (
	PartitionPendingOps   = "pendingOperations"
	PartitionDeadLetters  = "deadLetters"
	PartitionTransactions = "transactions"
	PartitionInventory    = "inventory"
	PartitionCustomers    = "customers"
	PartitionProducts     = "products"
)

// Record is one persisted key-value entry.
type Record struct {
	Key       string
	Value     []byte
	UpdatedAt int64
}

// Store is a partitioned key-value store backed by a single SQLite file.
// Open is lazy and idempotent: every operation triggers initialization on
// first use, and racing callers observe one underlying initialization.
type Store struct {
	dataDir string

	mu     sync.Mutex
	db     *sql.DB
	opened bool
}

// New creates a Store rooted at dataDir. No I/O happens until Open or the
// first operation.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Open initializes the database and schema. Safe to call multiple times and
// from multiple goroutines; only the first call does work. Returns a
// STORAGE_UNAVAILABLE error when the host offers no usable durable storage.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Store) openLocked() error {
	if s.opened {
		return nil
	}

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to create data directory", err)
	}

	dbPath := filepath.Join(s.dataDir, "poscore.db")

	// Pure Go driver, no CGO.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to open database", err)
	}

	// SQLite doesn't support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL mode for better concurrency between the enqueue and replay paths.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to enable WAL mode", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		partition TEXT NOT NULL CHECK(length(partition) > 0),
		key TEXT NOT NULL CHECK(length(key) > 0),
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL CHECK(updated_at > 0),
		PRIMARY KEY (partition, key)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to create schema", err)
	}

	s.db = db
	s.opened = true
	return nil
}

// conn returns the database handle, lazily opening the store.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s.db, nil
}

// Put upserts a record. The write is durably committed when Put returns.
func (s *Store) Put(ctx context.Context, partition, key string, value []byte) error {
	if partition == "" || key == "" {
		return errors.New(errors.ErrInvalid, "partition and key must be non-empty")
	}

	db, err := s.conn()
	if err != nil {
		return err
	}

	query := `
	INSERT INTO records (partition, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(partition, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, partition, key, value, time.Now().Unix()); err != nil {
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to put %s/%s", partition, key), err)
	}
	return nil
}

// Get retrieves a record. An absent key returns (nil, false, nil), not an error.
func (s *Store) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	db, err := s.conn()
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE partition = ? AND key = ?",
		partition, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to get %s/%s", partition, key), err)
	}
	return value, true, nil
}

// GetAll returns every record in a partition ordered by key. An empty or
// unknown partition returns an empty slice.
func (s *Store) GetAll(ctx context.Context, partition string) ([]Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT key, value, updated_at FROM records WHERE partition = ? ORDER BY key",
		partition,
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to list %s", partition), err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to scan %s record", partition), err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to list %s", partition), err)
	}
	return records, nil
}

// Delete removes a record. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx,
		"DELETE FROM records WHERE partition = ? AND key = ?",
		partition, key,
	); err != nil {
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to delete %s/%s", partition, key), err)
	}
	return nil
}

// Count returns the number of records in a partition.
func (s *Store) Count(ctx context.Context, partition string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE partition = ?",
		partition,
	).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, fmt.Sprintf("failed to count %s", partition), err)
	}
	return count, nil
}

// Close closes the database connection. The store may be reopened afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.db.Close()
	s.db = nil
	return err
}
