package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/event"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/navigation"
	"github.com/nkiryanov/jumenclient/internal/store"
	"github.com/nkiryanov/jumenclient/internal/store/memory"
)

type fakeGateway struct {
	exchanges int
	codes     []string
	exchange  func(code string) (models.Credentials, error)
	authURL   func() (string, error)
}

func (g *fakeGateway) OAuthURL(context.Context) (string, error) { return g.authURL() }

func (g *fakeGateway) ExchangeCode(_ context.Context, code string) (models.Credentials, error) {
	g.exchanges++
	g.codes = append(g.codes, code)
	return g.exchange(code)
}

type fakeSession struct {
	user   *models.User
	whoAmI func() (*models.User, error)
}

func (s *fakeSession) SetUser(_ context.Context, u *models.User) error {
	s.user = u
	return nil
}

func (s *fakeSession) WhoAmI(context.Context) (*models.User, error) { return s.whoAmI() }

type fixture struct {
	callback *Callback
	gateway  *fakeGateway
	session  *fakeSession
	store    store.Store
	history  *navigation.History
	events   <-chan event.Event
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)

	gw := &fakeGateway{}
	sess := &fakeSession{}
	st := memory.New()
	history := navigation.NewHistory(nil, logger.NewNoOpLogger())

	return fixture{
		callback: NewCallback(gw, sess, st, history, bus, logger.NewNoOpLogger()),
		gateway:  gw,
		session:  sess,
		store:    st,
		history:  history,
		events:   events,
	}
}

func nextEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	default:
		t.Fatal("event expected")
		return event.Event{}
	}
}

func TestCallback_Handle(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		f := newFixture(t)

		target, err := f.callback.Handle(t.Context(), url.Values{"error": {"access_denied"}})

		require.ErrorIs(t, err, apperrors.ErrOAuthCodeMissing)
		require.Equal(t, navigation.SignIn, target)
		require.Equal(t, navigation.SignIn, f.history.Current())
		require.Equal(t, 0, f.gateway.exchanges, "no network call without code")
		require.Equal(t, event.TypeOAuthFailed, nextEvent(t, f.events).Type)
	})

	t.Run("token and user", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.exchange = func(string) (models.Credentials, error) {
			return models.Credentials{AccessToken: "T1", User: &models.User{ID: 4}}, nil
		}

		target, err := f.callback.Handle(t.Context(), url.Values{"code": {"abc"}, "scope": {"email"}})

		require.NoError(t, err)
		require.Equal(t, navigation.Landing, target)
		require.Equal(t, navigation.Landing, f.history.Current())
		require.Equal(t, []string{"abc"}, f.gateway.codes)
		require.Equal(t, int64(4), f.session.user.ID)

		token, err := f.store.Get(t.Context(), store.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "T1", token)
	})

	t.Run("bare user drops previous token", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Set(t.Context(), store.KeyAccessToken, "T0"))
		f.session.user = &models.User{ID: 1}
		f.gateway.exchange = func(string) (models.Credentials, error) {
			return models.Credentials{User: &models.User{ID: 4}}, nil
		}

		_, err := f.callback.Handle(t.Context(), url.Values{"code": {"abc"}})

		require.NoError(t, err)
		require.Equal(t, int64(4), f.session.user.ID)
		_, err = f.store.Get(t.Context(), store.KeyAccessToken)
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound, "token of user 1 must not be used on behalf of user 4")
	})

	t.Run("token only who am i failure restores previous token", func(t *testing.T) {
		tests := []struct {
			name     string
			previous string
		}{
			{"signed in before", "T0"},
			{"signed out before", ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)
				if tt.previous != "" {
					require.NoError(t, f.store.Set(t.Context(), store.KeyAccessToken, tt.previous))
				}
				f.gateway.exchange = func(string) (models.Credentials, error) {
					return models.Credentials{AccessToken: "T1"}, nil
				}
				f.session.whoAmI = func() (*models.User, error) {
					token, err := f.store.Get(t.Context(), store.KeyAccessToken)
					require.NoError(t, err)
					require.Equal(t, "T1", token, "who am i runs with new token")
					return nil, fmt.Errorf("%w: connection reset", apperrors.ErrNetwork)
				}

				target, err := f.callback.Handle(t.Context(), url.Values{"code": {"abc"}})

				require.ErrorIs(t, err, apperrors.ErrNetwork)
				require.Equal(t, navigation.SignIn, target)
				require.Nil(t, f.session.user)

				token, err := f.store.Get(t.Context(), store.KeyAccessToken)
				if tt.previous == "" {
					require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
					return
				}
				require.NoError(t, err)
				require.Equal(t, tt.previous, token)
			})
		}
	})

	t.Run("token only asks who am i", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.exchange = func(string) (models.Credentials, error) {
			return models.Credentials{AccessToken: "T1"}, nil
		}
		f.session.whoAmI = func() (*models.User, error) { return &models.User{ID: 8}, nil }

		target, err := f.callback.Handle(t.Context(), url.Values{"code": {"abc"}})

		require.NoError(t, err)
		require.Equal(t, navigation.Landing, target)
		require.Equal(t, int64(8), f.session.user.ID)
	})

	t.Run("exchange failures", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
		}{
			{"rejected code", fmt.Errorf("%w: gateway answered 400", apperrors.ErrOAuthCodeInvalid)},
			{"network", fmt.Errorf("%w: connection refused", apperrors.ErrNetwork)},
			{"malformed", fmt.Errorf("%w: no user", apperrors.ErrMalformedResponse)},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)
				require.NoError(t, f.store.Set(t.Context(), store.KeyAccessToken, "T0"))
				f.session.user = &models.User{ID: 1}
				f.gateway.exchange = func(string) (models.Credentials, error) { return models.Credentials{}, tt.err }

				target, err := f.callback.Handle(t.Context(), url.Values{"code": {"abc"}})

				require.True(t, errors.Is(err, tt.err))
				require.Equal(t, navigation.SignIn, target)
				require.Equal(t, 1, f.gateway.exchanges, "exchange is never retried")
				require.Equal(t, event.TypeOAuthFailed, nextEvent(t, f.events).Type)

				// Existing session untouched
				require.Equal(t, int64(1), f.session.user.ID)
				token, err := f.store.Get(t.Context(), store.KeyAccessToken)
				require.NoError(t, err)
				require.Equal(t, "T0", token)
			})
		}
	})
}

func TestCallback_Start(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.authURL = func() (string, error) { return "https://accounts.example.com/auth", nil }

		u, err := f.callback.Start(t.Context())

		require.NoError(t, err)
		require.Equal(t, "https://accounts.example.com/auth", u)
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.authURL = func() (string, error) { return "", apperrors.ErrNetwork }

		_, err := f.callback.Start(t.Context())

		require.ErrorIs(t, err, apperrors.ErrNetwork)
	})
}
