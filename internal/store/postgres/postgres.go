package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
)

// Subset of pgx pool and pgx.Tx the store needs
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store shares one session between several client processes through Postgres
type Store struct {
	DB DBTX

	pool *pgxpool.Pool
}

// New connects to the database, applies migrations and returns store owning the pool
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := OpenAndMigrate(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{DB: pool, pool: pool}, nil
}

// Close the pool if the store owns it
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const getValue = `-- name: Get session value
SELECT value FROM session_kv WHERE key = $1`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.DB.QueryRow(ctx, getValue, key).Scan(&value)

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("postgres store: %q: %w", key, apperrors.ErrKeyNotFound)
	default:
		return "", dbError(err)
	}
}

const setValue = `-- name: Upsert session value
INSERT INTO session_kv (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

func (s *Store) Set(ctx context.Context, key string, value string) error {
	_, err := s.DB.Exec(ctx, setValue, key, value)
	if err != nil {
		return dbError(err)
	}
	return nil
}

const removeValue = `-- name: Remove session value
DELETE FROM session_kv WHERE key = $1`

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.DB.Exec(ctx, removeValue, key)
	if err != nil {
		return dbError(err)
	}
	return nil
}

// Connection problems are reported as apperrors.ErrStoreUnavailable, everything else as is
func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgerrcode.IsConnectionException(pgErr.Code) || pgerrcode.IsOperatorIntervention(pgErr.Code)) {
		return fmt.Errorf("postgres store: %w: %s", apperrors.ErrStoreUnavailable, pgErr.Message)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("postgres store: %w: %v", apperrors.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("postgres store: db error: %w", err)
}
