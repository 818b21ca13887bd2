// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists workspaces, their query descriptors, fetched
// metacards, and the alert and blacklist identities in a local SQLite
// database at <dir>/catalog.db.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

const dbFile = "catalog.db"

// ErrNotFound is returned when a workspace or metacard is not stored.
var ErrNotFound = errors.New("not found")

// Store manages the catalog-engine SQLite database.
type Store struct {
	db *sql.DB
}

// Workspace is a stored workspace and its queries in display order.
type Workspace struct {
	ID      string
	Title   string
	Queries []types.QueryDescriptor
	Saved   time.Time
}

// Open opens or creates the database in cfg.Dir and creates the schema if
// it does not exist.
func Open(cfg types.StoreConfig) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = ".catalog"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			saved_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queries (
			id TEXT NOT NULL,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			descriptor TEXT NOT NULL,
			PRIMARY KEY (workspace_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queries_workspace ON queries(workspace_id, position)`,
		`CREATE TABLE IF NOT EXISTS metacards (
			source_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT,
			data TEXT NOT NULL,
			fetched_at TEXT NOT NULL,
			PRIMARY KEY (source_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS refs (
			collection TEXT NOT NULL,
			source_id TEXT NOT NULL,
			id TEXT NOT NULL,
			added_at TEXT NOT NULL,
			PRIMARY KEY (collection, source_id, id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveWorkspace upserts w and replaces its stored queries.
func (s *Store) SaveWorkspace(ctx context.Context, w Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	saved := w.Saved
	if saved.IsZero() {
		saved = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, title, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, saved_at=excluded.saved_at`,
		w.ID, w.Title, saved.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting workspace: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queries WHERE workspace_id = ?`, w.ID); err != nil {
		return fmt.Errorf("deleting old queries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queries (id, workspace_id, position, descriptor) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, q := range w.Queries {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encoding query %s: %w", q.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, q.ID, w.ID, i, string(data)); err != nil {
			return fmt.Errorf("inserting query %s: %w", q.ID, err)
		}
	}

	return tx.Commit()
}

// LoadWorkspace returns the stored workspace with id.
func (s *Store) LoadWorkspace(ctx context.Context, id string) (Workspace, error) {
	var (
		w     = Workspace{ID: id}
		saved string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT title, saved_at FROM workspaces WHERE id = ?`, id,
	).Scan(&w.Title, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("loading workspace %s: %w", id, err)
	}
	w.Saved, _ = time.Parse(time.RFC3339Nano, saved)

	w.Queries, err = s.queries(ctx, id)
	if err != nil {
		return Workspace{}, err
	}
	return w, nil
}

func (s *Store) queries(ctx context.Context, workspaceID string) ([]types.QueryDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT descriptor FROM queries WHERE workspace_id = ? ORDER BY position`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying queries: %w", err)
	}
	defer rows.Close()

	var out []types.QueryDescriptor
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning query: %w", err)
		}
		var q types.QueryDescriptor
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			return nil, fmt.Errorf("decoding query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListWorkspaces returns every stored workspace, most recently saved first.
func (s *Store) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM workspaces ORDER BY saved_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Workspace, 0, len(ids))
	for _, id := range ids {
		w, err := s.LoadWorkspace(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// DeleteWorkspace removes a workspace and its queries.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return nil
}

// PutMetacard caches m under its identity. Unidentifiable metacards are
// rejected.
func (s *Store) PutMetacard(ctx context.Context, m types.Metacard) error {
	key, ok := identity.Of(m)
	if !ok {
		return fmt.Errorf("caching metacard: missing id or source-id")
	}
	src, id := key.Split()
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding metacard %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metacards (source_id, id, title, data, fetched_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, id) DO UPDATE SET
			title=excluded.title, data=excluded.data, fetched_at=excluded.fetched_at`,
		src, id, m.Title(), string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("caching metacard %s: %w", key, err)
	}
	return nil
}

// GetMetacard returns the cached metacard for key.
func (s *Store) GetMetacard(ctx context.Context, key identity.Key) (types.Metacard, error) {
	src, id := key.Split()
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM metacards WHERE source_id = ? AND id = ?`, src, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Metacard{}, fmt.Errorf("metacard %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return types.Metacard{}, fmt.Errorf("loading metacard %s: %w", key, err)
	}
	var m types.Metacard
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return types.Metacard{}, fmt.Errorf("decoding metacard %s: %w", key, err)
	}
	return m, nil
}

// FindMetacards returns cached metacards whose title contains text,
// case-insensitively, up to limit rows.
func (s *Store) FindMetacards(ctx context.Context, text string, limit int) ([]types.Metacard, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM metacards WHERE title LIKE '%' || ? || '%'
		 ORDER BY fetched_at DESC LIMIT ?`, text, limit)
	if err != nil {
		return nil, fmt.Errorf("searching metacards: %w", err)
	}
	defer rows.Close()

	var out []types.Metacard
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning metacard: %w", err)
		}
		var m types.Metacard
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decoding metacard: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddReference stores key in a reference collection (alerts, blacklist).
func (s *Store) AddReference(ctx context.Context, collection string, key identity.Key) error {
	src, id := key.Split()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO refs (collection, source_id, id, added_at) VALUES (?, ?, ?, ?)`,
		collection, src, id, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("adding %s to %s: %w", key, collection, err)
	}
	return nil
}

// RemoveReference removes key from a reference collection. It reports
// whether the key was stored.
func (s *Store) RemoveReference(ctx context.Context, collection string, key identity.Key) (bool, error) {
	src, id := key.Split()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refs WHERE collection = ? AND source_id = ? AND id = ?`, collection, src, id)
	if err != nil {
		return false, fmt.Errorf("removing %s from %s: %w", key, collection, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// References returns the identities in a collection in insertion order.
func (s *Store) References(ctx context.Context, collection string) ([]identity.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, id FROM refs WHERE collection = ? ORDER BY added_at, rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer rows.Close()

	var out []identity.Key
	for rows.Next() {
		var src, id string
		if err := rows.Scan(&src, &id); err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		if key, ok := identity.New(src, id); ok {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}
