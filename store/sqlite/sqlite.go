// Package sqlite is a persistent fetchup.CacheStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"

	fetchup "github.com/sleepcha/Fetchup"
	"github.com/sleepcha/Fetchup/internal/codec"
)

// Store keeps one row per cache key. Writes are serialized; reads run
// concurrently.
type Store struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

var _ fetchup.CacheStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite cache %s", path)
	}

	statements := []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, stored_at INTEGER, entry BLOB)",
		"CREATE INDEX IF NOT EXISTS stored_at_idx ON cache (stored_at)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "prepare sqlite cache %s", path)
		}
	}

	return &Store{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*fetchup.CacheEntry, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT entry FROM cache WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read cache key %s", key)
	}

	entry, err := codec.UnmarshalEntry(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decode cache key %s", key)
	}
	return entry, true, nil
}

func (s *Store) Set(ctx context.Context, key string, entry *fetchup.CacheEntry) error {
	data, err := codec.MarshalEntry(entry)
	if err != nil {
		return errors.Wrapf(err, "encode cache key %s", key)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, stored_at, entry) VALUES (?, ?, ?)", key, entry.StoredAt.Unix(), data)
	return errors.Wrapf(err, "write cache key %s", key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return errors.Wrapf(err, "delete cache key %s", key)
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache")
	return errors.Wrap(err, "clear cache")
}

// Len reports the number of rows, or 0 when the count fails.
func (s *Store) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		return 0
	}
	return n
}

// Keys calls cb for each stored key.
func (s *Store) Keys(ctx context.Context, cb func(string)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache")
	if err != nil {
		return errors.Wrap(err, "list cache keys")
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return errors.Wrap(err, "scan cache key")
		}
		cb(key)
	}
	return errors.Wrap(rows.Err(), "list cache keys")
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
