// Package store provides the durable key-value store beneath the sync queue
// and the record cache. Records are scoped to named partitions and every
// write is durable before the call returns, so queue items survive a process
// restart that happens mid-delivery.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Well-known partitions. Record collections use RecordPartition.
const (
	PartitionQueue = "queue"
	PartitionDLQ   = "dlq"
	PartitionMeta  = "meta"
)

// RecordPartition returns the partition name for a domain record collection.
func RecordPartition(collection string) string {
	return "records/" + collection
}

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = errors.New("store: not found")

// StorageError wraps a failed store operation with its location.
type StorageError struct {
	Op        string
	Partition string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store: %s %s/%s: %v", e.Op, e.Partition, e.Key, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Partition, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Entry is a single stored record.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a partition-scoped durable KV store backed by sqlite.
//
// Writes are serialized through a single mutex so the enqueue path and the
// drain path never interleave partial writes to the same partition.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	partition  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (partition, key)
);
`

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Partition: path, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Partition: path, Err: err}
	}

	// The modernc driver serializes at the connection level; keep a single
	// connection so WAL checkpointing stays predictable.
	db.SetMaxOpenConns(1)

	// WAL with synchronous=FULL: a successful Put is on disk before return.
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=FULL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, &StorageError{Op: "open", Partition: path, Err: err}
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Partition: path, Err: err}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is usable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Put durably stores value under partition/key, replacing any existing value.
func (s *Store) Put(ctx context.Context, partition, key string, value []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (partition, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (partition, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		partition, key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return &StorageError{Op: "put", Partition: partition, Key: key, Err: err}
	}
	return nil
}

// Get returns the value stored under partition/key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, partition, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE partition=? AND key=?`, partition, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Partition: partition, Key: key, Err: err}
	}
	return value, nil
}

// GetAll returns every entry in the partition, ordered by key.
func (s *Store) GetAll(ctx context.Context, partition string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE partition=? ORDER BY key`, partition,
	)
	if err != nil {
		return nil, &StorageError{Op: "getAll", Partition: partition, Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, &StorageError{Op: "getAll", Partition: partition, Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getAll", Partition: partition, Err: err}
	}
	return entries, nil
}

// Delete removes partition/key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE partition=? AND key=?`, partition, key,
	); err != nil {
		return &StorageError{Op: "delete", Partition: partition, Key: key, Err: err}
	}
	return nil
}

// Clear removes every entry in the partition.
func (s *Store) Clear(ctx context.Context, partition string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE partition=?`, partition,
	); err != nil {
		return &StorageError{Op: "clear", Partition: partition, Err: err}
	}
	return nil
}

// ClearAll wipes every partition. Used for logout/reset.
func (s *Store) ClearAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return &StorageError{Op: "clearAll", Partition: "*", Err: err}
	}
	return nil
}

// Count returns the number of entries in the partition.
func (s *Store) Count(ctx context.Context, partition string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv WHERE partition=?`, partition,
	).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Partition: partition, Err: err}
	}
	return n, nil
}
