package postgres_test

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/store/postgres"
	"github.com/nkiryanov/jumenclient/internal/store/storetest"
	"github.com/nkiryanov/jumenclient/internal/testutil"
)

func TestStore(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("contract", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) storetest.Store {
			_, err := pg.Pool.Exec(t.Context(), "TRUNCATE session_kv")
			require.NoError(t, err)
			return &postgres.Store{DB: pg.Pool}
		})
	})

	t.Run("works inside transaction", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := &postgres.Store{DB: tx}

			require.NoError(t, s.Set(t.Context(), "access_token", "T1"))

			v, err := s.Get(t.Context(), "access_token")
			require.NoError(t, err)
			require.Equal(t, "T1", v)
		})

		// Rolled back, so nothing left outside
		_, err := (&postgres.Store{DB: pg.Pool}).Get(t.Context(), "access_token")
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("new applies migrations twice", func(t *testing.T) {
		s, err := postgres.New(t.Context(), pg.DSN)
		require.NoError(t, err, "migrations already applied should not fail")
		defer s.Close() // nolint:errcheck

		require.NoError(t, s.Set(t.Context(), "user_info", `{"id":1}`))
		v, err := s.Get(t.Context(), "user_info")
		require.NoError(t, err)
		require.JSONEq(t, `{"id":1}`, v)
	})
}
