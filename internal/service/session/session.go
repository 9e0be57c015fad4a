package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/gateway"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/navigation"
	"github.com/nkiryanov/jumenclient/internal/redact"
	"github.com/nkiryanov/jumenclient/internal/service/authfetch"
	"github.com/nkiryanov/jumenclient/internal/service/validate"
	"github.com/nkiryanov/jumenclient/internal/store"
)

// Fetcher sends requests carrying the session credentials
type Fetcher interface {
	Do(ctx context.Context, r authfetch.Request) (*http.Response, error)
}

// Gateway calls made outside of the authorized flow
type Gateway interface {
	SignIn(ctx context.Context, email string, password string) (models.Credentials, error)
	SignUp(ctx context.Context, username string, email string, password string) error
}

type Endpoints struct {
	Me     string
	Logout string
}

type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type SignUpInput struct {
	Username string `json:"username" validate:"required,min=1"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Session is the client side of authentication: who is signed in and how they got there
type Session struct {
	*State

	store     store.Store
	fetcher   Fetcher
	gateway   Gateway
	endpoints Endpoints
	navigator navigation.Navigator
	logger    logger.Logger
}

func New(state *State, st store.Store, fetcher Fetcher, gw Gateway, endpoints Endpoints, nav navigation.Navigator, l logger.Logger) *Session {
	return &Session{
		State:     state,
		store:     st,
		fetcher:   fetcher,
		gateway:   gw,
		endpoints: endpoints,
		navigator: nav,
		logger:    l,
	}
}

// Bootstrap restores session at process start
//
// Cached user is shown while the stored token is checked with the gateway.
// Only gateway confirmed user survives: refused token clears the session,
// unreachable gateway leaves nobody signed in for this run but keeps the stored data.
func (s *Session) Bootstrap(ctx context.Context) {
	s.setLoading(true)
	defer s.setLoading(false)

	if _, err := s.store.Get(ctx, store.KeyLegacyRefreshToken); err == nil {
		s.logger.Warn("Removing refresh token left in store by older client")
		if err := s.store.Remove(ctx, store.KeyLegacyRefreshToken); err != nil {
			s.logger.Error("Failed to remove legacy refresh token", "error", err)
		}
	}

	s.setUser(s.cachedUser(ctx))

	token, err := s.store.Get(ctx, store.KeyAccessToken)
	if err != nil || token == "" {
		if err != nil && !errors.Is(err, apperrors.ErrKeyNotFound) {
			s.logger.Error("Failed to read access token", "error", err)
		}
		s.setUser(nil)
		if err := s.store.Remove(ctx, store.KeyUserInfo); err != nil {
			s.logger.Error("Failed to remove cached user", "error", err)
		}
		return
	}

	user, err := s.WhoAmI(ctx)
	switch {
	case err == nil:
		if err := s.SetUser(ctx, user); err != nil {
			s.logger.Error("Failed to persist user", "error", err)
			s.setUser(user)
		}
		s.logger.Info("Session restored", "user_id", user.ID)
	case errors.Is(err, apperrors.ErrSessionExpired), isGatewayRefusal(err):
		s.logger.Info("Stored session refused, clearing it", "error", err)
		_ = s.Clear(ctx)
	default:
		s.logger.Warn("Can't validate stored session, staying signed out for now", "error", err)
		s.setUser(nil)
	}
}

// Read cached user; corrupted snapshot is removed
func (s *Session) cachedUser(ctx context.Context) *models.User {
	raw, err := s.store.Get(ctx, store.KeyUserInfo)
	if err != nil {
		if !errors.Is(err, apperrors.ErrKeyNotFound) {
			s.logger.Error("Failed to read cached user", "error", err)
		}
		return nil
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || validate.Struct(&user) != nil {
		s.logger.Warn("Cached user is corrupted, dropping it")
		if err := s.store.Remove(ctx, store.KeyUserInfo); err != nil {
			s.logger.Error("Failed to remove cached user", "error", err)
		}
		return nil
	}

	return &user
}

// WhoAmI asks gateway who owns the current token
// Non 2xx answer is returned as *gateway.Error
func (s *Session) WhoAmI(ctx context.Context) (*models.User, error) {
	resp, err := s.fetcher.Do(ctx, authfetch.Request{Method: http.MethodGet, URL: s.endpoints.Me})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &gateway.Error{StatusCode: resp.StatusCode}
	}

	return gateway.DecodeUser(resp.Body)
}

// Logout signs out locally and asks gateway to forget the refresh credential
// Gateway failures are ignored. Returns view to go to
func (s *Session) Logout(ctx context.Context) string {
	// Refresh cookie may be held even without access token, so gateway is always asked
	resp, err := s.fetcher.Do(ctx, authfetch.Request{
		Method:            http.MethodPost,
		URL:               s.endpoints.Logout,
		SkipAuthorization: true,
	})
	if err != nil {
		s.logger.Warn("Remote logout failed", "error", err)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	if err := s.Clear(ctx); err != nil {
		s.logger.Error("Logout left session data behind", "error", err)
	}

	s.navigator.Navigate(ctx, navigation.SignIn)
	return navigation.SignIn
}

// SignIn with email and password. Returns view to go to
func (s *Session) SignIn(ctx context.Context, in SignInInput) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", err
	}

	creds, err := s.gateway.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		return "", fmt.Errorf("sign in failed: %w", err)
	}

	if err := s.store.Set(ctx, store.KeyAccessToken, creds.AccessToken); err != nil {
		return "", fmt.Errorf("failed to persist access token: %w", err)
	}

	user := creds.User
	if user == nil {
		user, err = s.WhoAmI(ctx)
		if err != nil {
			_ = s.Clear(ctx)
			return "", fmt.Errorf("sign in succeeded but user is unknown: %w", err)
		}
	}

	if err := s.SetUser(ctx, user); err != nil {
		return "", err
	}

	s.logger.Info("Signed in", "email", redact.Email(in.Email), "user_id", user.ID)
	s.navigator.Navigate(ctx, navigation.Landing)
	return navigation.Landing, nil
}

// SignUp registers account; user has to sign in afterwards. Returns view to go to
func (s *Session) SignUp(ctx context.Context, in SignUpInput) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", err
	}

	if err := s.gateway.SignUp(ctx, in.Username, in.Email, in.Password); err != nil {
		return "", fmt.Errorf("sign up failed: %w", err)
	}

	s.logger.Info("Signed up", "email", redact.Email(in.Email))
	s.navigator.Navigate(ctx, navigation.SignIn)
	return navigation.SignIn, nil
}

func isGatewayRefusal(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr) && !errors.Is(err, apperrors.ErrNetwork)
}
