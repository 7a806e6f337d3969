// Package store persists the last published value of each signal in SQLite
// so the service can show it again before the first scan after a restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Snapshot is the persisted form of a published signal
type Snapshot struct {
	Value       string    `json:"value"`
	Entities    []string  `json:"entities"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Record is a stored snapshot with its bookkeeping columns
type Record struct {
	Key       string
	Snapshot  Snapshot
	Version   int64
	UpdatedAt time.Time
}

// Store wraps the SQLite connection
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens the database and initializes the schema
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Named("store").Info("Restore store opened", zap.String("path", dbPath))
	return &Store{db: db, logger: logger.Named("store")}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signal_state (
			key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create signal_state table: %w", err)
	}
	return nil
}

// Save upserts the snapshot for key and bumps its version
func (s *Store) Save(ctx context.Context, key string, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signal_state (key, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, key, string(payload), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Load returns the stored snapshot for key. ok is false when none exists.
func (s *Store) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	rec, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return Snapshot{}, ok, err
	}
	return rec.Snapshot, true, nil
}

// Get returns the full record for key
func (s *Store) Get(ctx context.Context, key string) (*Record, bool, error) {
	var payload string
	var updatedAt int64
	rec := &Record{Key: key}

	err := s.db.QueryRowContext(ctx, `
		SELECT payload, version, updated_at
		FROM signal_state
		WHERE key = ?
	`, key).Scan(&payload, &rec.Version, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(payload), &rec.Snapshot); err != nil {
		s.logger.Warn("Discarding corrupt snapshot", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, true, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
