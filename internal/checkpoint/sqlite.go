// Package checkpoint provides the durable backends behind the graph
// checkpointer: a single-file SQLite store for normal operation and an
// in-memory store for tests.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jarvisproj/jarvis/internal/graph"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id  TEXT    NOT NULL,
    version    INTEGER NOT NULL,
    snapshot   BLOB    NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (thread_id, version)
)`

// SQLiteStore persists checkpoints in one local database file. Writes
// are transactional, so a version is either fully visible or absent,
// and version numbers grow monotonically per thread.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the store at path. WAL
// mode keeps reads concurrent with the single writer; busy_timeout
// serialises writers instead of failing them.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating checkpoint schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// GetLatest returns the highest-version checkpoint for the thread.
func (s *SQLiteStore) GetLatest(ctx context.Context, threadID string) (graph.Checkpoint, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM checkpoints WHERE thread_id = ? ORDER BY version DESC LIMIT 1`,
		threadID,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Checkpoint{}, fmt.Errorf("%w: %s", graph.ErrNoCheckpoint, threadID)
	}
	if err != nil {
		return graph.Checkpoint{}, fmt.Errorf("reading checkpoint: %w", err)
	}
	return graph.DecodeCheckpoint(snapshot)
}

// Put writes cp under the thread's next version. The version is
// assigned inside the insert transaction, so concurrent writers on the
// same thread cannot collide or go backwards.
func (s *SQLiteStore) Put(ctx context.Context, cp graph.Checkpoint) (graph.Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return graph.Checkpoint{}, fmt.Errorf("beginning checkpoint write: %w", err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM checkpoints WHERE thread_id = ?`,
		cp.ThreadID,
	).Scan(&version); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("allocating checkpoint version: %w", err)
	}

	cp.Version = version
	snapshot, err := graph.EncodeCheckpoint(cp)
	if err != nil {
		return graph.Checkpoint{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, version, snapshot, created_at) VALUES (?, ?, ?, ?)`,
		cp.ThreadID, cp.Version, snapshot, cp.CreatedAt,
	); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("writing checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("committing checkpoint: %w", err)
	}
	return cp, nil
}

// Versions returns how many checkpoints exist for the thread.
func (s *SQLiteStore) Versions(ctx context.Context, threadID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting checkpoints: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep versions per thread. The
// latest state is all the engine ever reads; old versions exist only
// for debugging.
func (s *SQLiteStore) Prune(ctx context.Context, threadID string, keep int64) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ? AND version <= (
            SELECT COALESCE(MAX(version), 0) - ? FROM checkpoints WHERE thread_id = ?
        )`,
		threadID, keep, threadID,
	)
	if err != nil {
		return fmt.Errorf("pruning checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
