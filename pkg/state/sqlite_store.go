package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	toolsync "github.com/goliatone/go-toolsync"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore persists document snapshots as JSON rows in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a store at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, ref Ref) (toolsync.DocumentSnapshot, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return toolsync.DocumentSnapshot{}, Meta{}, false, err
	}

	var (
		snapshotJSON, extraJSON, updatedAt string
		meta                               Meta
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT snapshot, snapshot_id, etag, updated_at, extra FROM documents WHERE ref = ?`,
		key,
	).Scan(&snapshotJSON, &meta.SnapshotID, &meta.ETag, &updatedAt, &extraJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return toolsync.DocumentSnapshot{}, Meta{}, false, nil
	}
	if err != nil {
		return toolsync.DocumentSnapshot{}, Meta{}, false, fmt.Errorf("sqlitestore: load: %w", err)
	}

	var snapshot toolsync.DocumentSnapshot
	if err := json.Unmarshal([]byte(snapshotJSON), &snapshot); err != nil {
		return toolsync.DocumentSnapshot{}, Meta{}, false, fmt.Errorf("sqlitestore: unmarshal snapshot: %w", err)
	}
	if extraJSON != "" && extraJSON != "{}" {
		if err := json.Unmarshal([]byte(extraJSON), &meta.Extra); err != nil {
			return toolsync.DocumentSnapshot{}, Meta{}, false, fmt.Errorf("sqlitestore: unmarshal extra: %w", err)
		}
	}
	if updatedAt != "" {
		if meta.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return toolsync.DocumentSnapshot{}, Meta{}, false, fmt.Errorf("sqlitestore: parse updated_at: %w", err)
		}
	}
	return snapshot, meta, true, nil
}

// Save implements Store. It upserts the row for ref.
func (s *SQLiteStore) Save(ctx context.Context, ref Ref, snapshot toolsync.DocumentSnapshot, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return Meta{}, fmt.Errorf("sqlitestore: marshal snapshot: %w", err)
	}
	extra := meta.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return Meta{}, fmt.Errorf("sqlitestore: marshal extra: %w", err)
	}
	updatedAt := ""
	if !meta.UpdatedAt.IsZero() {
		updatedAt = meta.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (ref, snapshot, snapshot_id, etag, updated_at, extra)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET
		   snapshot = excluded.snapshot,
		   snapshot_id = excluded.snapshot_id,
		   etag = excluded.etag,
		   updated_at = excluded.updated_at,
		   extra = excluded.extra`,
		key,
		string(snapshotJSON),
		meta.SnapshotID,
		meta.ETag,
		updatedAt,
		string(extraJSON),
	)
	if err != nil {
		return Meta{}, fmt.Errorf("sqlitestore: save: %w", err)
	}
	return cloneMeta(meta), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
