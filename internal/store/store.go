// Package store provides SQLite-backed durable local storage for CleanSpace.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the local SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Single writer; the process owns the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dropped_actions (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		reason TEXT,
		dropped_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dropped_actions_kind ON dropped_actions(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Key-Value Operations ---

// Get returns the value stored under key, or nil if the key is absent.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query kv: %w", err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert kv: %w", err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

// UpdatedAt returns when key was last written. The zero time means absent.
func (s *Store) UpdatedAt(key string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`SELECT updated_at FROM kv WHERE key = ?`, key).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query kv: %w", err)
	}
	return t, nil
}

// --- Dropped Action Ledger ---

// WriteDropped records an action that was removed without delivery.
func (s *Store) WriteDropped(actionID string, kind models.ActionKind, payloadHash string, attempts int, reason string) (*models.DroppedAction, error) {
	entry := &models.DroppedAction{
		ID:          uuid.New().String(),
		ActionID:    actionID,
		Kind:        kind,
		PayloadHash: payloadHash,
		Attempts:    attempts,
		Reason:      reason,
		DroppedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO dropped_actions (id, action_id, kind, payload_hash, attempts, reason, dropped_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActionID, entry.Kind, entry.PayloadHash, entry.Attempts, entry.Reason, entry.DroppedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert dropped action: %w", err)
	}
	return entry, nil
}

// ListDropped returns ledger entries, newest first, optionally filtered by kind.
func (s *Store) ListDropped(kind string, limit int) ([]models.DroppedAction, error) {
	query := `SELECT id, action_id, kind, payload_hash, attempts, reason, dropped_at FROM dropped_actions`
	var args []interface{}

	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY dropped_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dropped actions: %w", err)
	}
	defer rows.Close()

	var entries []models.DroppedAction
	for rows.Next() {
		var e models.DroppedAction
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.ActionID, &e.Kind, &e.PayloadHash, &e.Attempts, &reason, &e.DroppedAt); err != nil {
			return nil, fmt.Errorf("scan dropped action: %w", err)
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountDropped returns the total number of ledger entries.
func (s *Store) CountDropped() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dropped_actions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dropped actions: %w", err)
	}
	return n, nil
}
