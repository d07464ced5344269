// File: metastore/sqlite.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS config (
	key     TEXT PRIMARY KEY,
	value   BLOB NOT NULL,
	version INTEGER NOT NULL
)`

// SQLiteStore is a durable VersionedConfigStore backed by one SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	async  *async
	closed atomic.Bool
}

var _ api.VersionedConfigStore = (*SQLiteStore)(nil)

// OpenSQLite creates or opens the database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, so conditional updates are serialized
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeError("failed to open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storeError("failed to connect to database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storeError("failed to apply pragmas", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, storeError("failed to apply schema", err)
	}
	return &SQLiteStore{db: db, async: newAsync("metastore-sqlite", opts)}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func storeError(msg string, cause error) error {
	return api.NewError(api.ErrCodeInternal, "metastore: "+msg).Wrap(cause)
}

func (s *SQLiteStore) GetConfigSync(ctx context.Context, key string) ([]byte, uint64, error) {
	if s.closed.Load() {
		return nil, 0, ErrStoreClosed
	}
	var value []byte
	var version uint64
	err := s.db.QueryRowContext(ctx, "SELECT value, version FROM config WHERE key = ?", key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, storeError("read failed", err)
	}
	return value, version, nil
}

func (s *SQLiteStore) UpdateConfigSync(ctx context.Context, key string, value []byte, base *uint64) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	if value == nil {
		value = []byte{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin failed", err)
	}
	defer tx.Rollback()

	var current uint64
	exists := true
	err = tx.QueryRowContext(ctx, "SELECT version FROM config WHERE key = ?", key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, storeError("read failed", err)
	}
	if err := checkBase(base, current, exists); err != nil {
		return 0, err
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO config (key, value, version) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		key, value, next); err != nil {
		return 0, storeError("write failed", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeError("commit failed", err)
	}
	return next, nil
}

func (s *SQLiteStore) UpdateConfig(key string, value []byte, base *uint64, cb api.UpdateCallback) {
	value = append([]byte(nil), value...)
	var b *uint64
	if base != nil {
		v := *base
		b = &v
	}
	s.async.update(func(ctx context.Context) (uint64, error) {
		return s.UpdateConfigSync(ctx, key, value, b)
	}, cb)
}

func (s *SQLiteStore) DeleteConfigSync(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM config WHERE key = ?", key); err != nil {
		return storeError("delete failed", err)
	}
	return nil
}

// Pool returns the store's own worker pool, or nil.
func (s *SQLiteStore) Pool() *concurrency.Executor { return s.async.pool() }

// Close waits for pending asynchronous updates and closes the database.
func (s *SQLiteStore) Close() error {
	s.async.close()
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
