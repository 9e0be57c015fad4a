// Package storetest holds behaviour every store backend must share
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
)

// Same contract as store.Store; redeclared to keep backends free of the store package
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

// Run contract tests. newStore must return empty store on every call
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("get absent key", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(t.Context(), "access_token")

		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)

		err := s.Set(t.Context(), "access_token", "T1")
		require.NoError(t, err)

		v, err := s.Get(t.Context(), "access_token")
		require.NoError(t, err)
		require.Equal(t, "T1", v)
	})

	t.Run("set overwrites", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Set(t.Context(), "access_token", "T1"))
		require.NoError(t, s.Set(t.Context(), "access_token", "T2"))

		v, err := s.Get(t.Context(), "access_token")
		require.NoError(t, err)
		require.Equal(t, "T2", v, "last written value should win")
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(t.Context(), "user_info", `{"id":1}`))

		require.NoError(t, s.Remove(t.Context(), "user_info"))
		require.NoError(t, s.Remove(t.Context(), "user_info"), "removing absent key must not fail")

		_, err := s.Get(t.Context(), "user_info")
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(t.Context(), "access_token", "T1"))
		require.NoError(t, s.Set(t.Context(), "user_info", `{"id":1}`))

		require.NoError(t, s.Remove(t.Context(), "access_token"))

		v, err := s.Get(t.Context(), "user_info")
		require.NoError(t, err)
		require.Equal(t, `{"id":1}`, v)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Set(context.Background(), "access_token", fmt.Sprintf("T%d", i))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		v, err := s.Get(t.Context(), "access_token")
		require.NoError(t, err)
		require.Regexp(t, `^T\d+$`, v)
	})
}
