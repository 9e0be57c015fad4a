package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
)

//go:embed schema/schema.sql
var schema string

// Store keeps values in a single SQLite file, the file plays the role of the client origin
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file. Use ":memory:" for throwaway store
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: failed to open database: %w", err)
	}

	// SQLite serializes writers anyway; one connection also keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const getValue = `SELECT value FROM kv WHERE key = ?`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, getValue, key).Scan(&value)

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("sqlite store: %q: %w", key, apperrors.ErrKeyNotFound)
	default:
		return "", fmt.Errorf("sqlite store: db error: %w", err)
	}
}

const setValue = `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (s *Store) Set(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, setValue, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite store: db error: %w", err)
	}
	return nil
}

const removeValue = `DELETE FROM kv WHERE key = ?`

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, removeValue, key)
	if err != nil {
		return fmt.Errorf("sqlite store: db error: %w", err)
	}
	return nil
}
