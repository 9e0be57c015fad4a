package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	migrationsDir = "migrations"

	// Session store sees a handful of short queries per user action
	maxConns        = 4
	applicationName = "jumen-session-store"
)

// golang-migrate pgx driver registers itself as pgx5 only
func migrateDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("%w: malformed postgres dsn", apperrors.ErrInvalidInput)
	}

	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("%w: unsupported dsn scheme %q", apperrors.ErrInvalidInput, u.Scheme)
	}
}

// Migrate brings session_kv schema up to date. Already applied schema is not an error
func Migrate(dsn string) error {
	target, err := migrateDSN(dsn)
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", source, target)
	if err != nil {
		return fmt.Errorf("%w: can't prepare migrations: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer migrator.Close() // nolint:errcheck

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate session store: %w", err)
	}

	return nil
}

// Open creates pool sized for the session store and checks the database answers
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	cfg.MaxConns = maxConns
	cfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, dbError(err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dbError(err)
	}

	return pool, nil
}

// OpenAndMigrate migrates first, so pool never sees old schema
func OpenAndMigrate(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	return Open(ctx, dsn)
}
