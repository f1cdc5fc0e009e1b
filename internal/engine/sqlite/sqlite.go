// Package sqlite implements the storage engine contract on SQLite via
// database/sql and mattn/go-sqlite3. One table holds every key space;
// batches commit as a single SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/hoardfs/hoard/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - initial schema (objects table)
const currentSchemaVersion = 1

const dbFile = "objects.db"

// Engine wraps one SQLite database configured for single-writer embedded
// use: WAL journaling, one pooled connection, busy timeout for lock
// contention.
type Engine struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates or opens the database file inside dir, applies pragmas and
// the schema, and verifies the schema version. Idempotent across process
// restarts.
func Open(dir string, opts engine.Options) (*Engine, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY on the write path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classifyOpen(err)
	}
	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, classifyOpen(err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, classifyOpen(err)
	}

	return &Engine{db: db}, nil
}

// classifyOpen wraps damaged-file errors with the corrupt sentinel so the
// caller fails fast instead of retrying the open.
func classifyOpen(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrCorrupt || serr.Code == sqlite3.ErrNotADB {
			return fmt.Errorf("opening sqlite db: %w: %w", engine.ErrCorruptDB, err)
		}
	}
	return fmt.Errorf("opening sqlite db: %w", err)
}

func applyPragmas(db *sql.DB, opts engine.Options) error {
	syncMode := "NORMAL"
	if opts.SyncWrites {
		// FULL fsyncs the WAL on every commit, the durability barrier the
		// batch contract promises.
		syncMode = "FULL"
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + syncMode,
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("setting user_version: %w", err)
		}
	}
	return nil
}

func (e *Engine) Get(ctx context.Context, space engine.KeySpace, key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, engine.ErrClosed
	}

	var val []byte
	err := e.db.QueryRowContext(ctx,
		"SELECT value FROM objects WHERE space = ? AND key = ?",
		int(space), key,
	).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (e *Engine) GetBatch(ctx context.Context, space engine.KeySpace, keys [][]byte) ([][]byte, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, 0, engine.ErrClosed
	}

	stmt, err := e.db.PrepareContext(ctx,
		"SELECT value FROM objects WHERE space = ? AND key = ?")
	if err != nil {
		return nil, 0, err
	}
	defer stmt.Close()

	vals := make([][]byte, len(keys))
	failed := 0
	for i, key := range keys {
		var val []byte
		err := stmt.QueryRowContext(ctx, int(space), key).Scan(&val)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// miss, slot stays nil
		case err != nil:
			if ctx.Err() != nil {
				return nil, failed, ctx.Err()
			}
			failed++
		default:
			vals[i] = val
		}
	}
	return vals, failed, nil
}

func (e *Engine) Has(ctx context.Context, space engine.KeySpace, key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return false, engine.ErrClosed
	}

	var one int
	err := e.db.QueryRowContext(ctx,
		"SELECT 1 FROM objects WHERE space = ? AND key = ?",
		int(space), key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) Put(ctx context.Context, space engine.KeySpace, key, value []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	_, err := e.db.ExecContext(ctx,
		`INSERT INTO objects (space, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (space, key) DO UPDATE SET value = excluded.value`,
		int(space), key, value,
	)
	return err
}

func (e *Engine) Delete(ctx context.Context, space engine.KeySpace, key []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	_, err := e.db.ExecContext(ctx,
		"DELETE FROM objects WHERE space = ? AND key = ?",
		int(space), key,
	)
	return err
}

func (e *Engine) Apply(ctx context.Context, b *engine.Batch) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	put, err := tx.PrepareContext(ctx,
		`INSERT INTO objects (space, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (space, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer put.Close()

	del, err := tx.PrepareContext(ctx,
		"DELETE FROM objects WHERE space = ? AND key = ?")
	if err != nil {
		return err
	}
	defer del.Close()

	for _, op := range b.Ops() {
		if op.Delete {
			_, err = del.ExecContext(ctx, int(op.Space), op.Key)
		} else {
			_, err = put.ExecContext(ctx, int(op.Space), op.Key, op.Value)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Scan streams rows in key order. The sql.Rows cursor is closed on every
// exit path; WAL mode keeps concurrent writers unblocked while the scan
// runs.
func (e *Engine) Scan(ctx context.Context, space engine.KeySpace, prefix []byte, fn func(key, value []byte) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	query := "SELECT key, value FROM objects WHERE space = ?"
	args := []any{int(space)}
	if len(prefix) > 0 {
		query += " AND key >= ?"
		args = append(args, prefix)
		if upper := engine.PrefixUpperBound(prefix); upper != nil {
			query += " AND key < ?"
			args = append(args, upper)
		}
	}
	query += " ORDER BY key"

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, val []byte
		if err := rows.Scan(&key, &val); err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			if errors.Is(err, engine.ErrStop) {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

// Compact checkpoints the WAL and vacuums the main file, returning freed
// pages to the filesystem.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	if _, err := e.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpointing wal: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuuming: %w", err)
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}
