package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/event"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/navigation"
	"github.com/nkiryanov/jumenclient/internal/store"
)

type Gateway interface {
	OAuthURL(ctx context.Context) (string, error)
	ExchangeCode(ctx context.Context, code string) (models.Credentials, error)
}

// Session part the callback writes to
type Session interface {
	SetUser(ctx context.Context, user *models.User) error
	WhoAmI(ctx context.Context) (*models.User, error)
}

// Callback finishes external sign in after provider redirected back
type Callback struct {
	gateway   Gateway
	session   Session
	store     store.Store
	navigator navigation.Navigator
	bus       event.Bus
	logger    logger.Logger
}

func NewCallback(gw Gateway, s Session, st store.Store, nav navigation.Navigator, bus event.Bus, l logger.Logger) *Callback {
	if bus == nil {
		bus = event.Discard{}
	}
	return &Callback{
		gateway:   gw,
		session:   s,
		store:     st,
		navigator: nav,
		bus:       bus,
		logger:    l,
	}
}

// Start returns provider URL to send the user to
func (c *Callback) Start(ctx context.Context) (string, error) {
	authURL, err := c.gateway.OAuthURL(ctx)
	if err != nil {
		c.logger.Warn("Failed to get oauth url", "error", err)
		return "", fmt.Errorf("oauth start failed: %w", err)
	}
	return authURL, nil
}

// Handle exchanges authorization code from redirect query. Runs once per redirect, never retries
// Returns view to go to: landing on success, sign in otherwise
// Failed exchange leaves existing session as it was
func (c *Callback) Handle(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		reason := query.Get("error")
		c.logger.Info("OAuth redirect without code", "provider_error", reason)
		return c.fail(ctx, fmt.Errorf("%w: provider error %q", apperrors.ErrOAuthCodeMissing, reason))
	}

	creds, err := c.gateway.ExchangeCode(ctx, code)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("oauth code exchange failed: %w", err))
	}

	user := creds.User
	if creds.AccessToken == "" {
		// Bare user: bearer token of whoever was signed in before must not outlive them
		if user == nil {
			return c.fail(ctx, fmt.Errorf("%w: neither token nor user", apperrors.ErrMalformedResponse))
		}
		if err := c.store.Remove(ctx, store.KeyAccessToken); err != nil {
			return c.fail(ctx, fmt.Errorf("failed to drop previous access token: %w", err))
		}
	} else {
		restore, err := c.replaceToken(ctx, creds.AccessToken)
		if err != nil {
			return c.fail(ctx, err)
		}
		if user == nil {
			user, err = c.session.WhoAmI(ctx)
			if err != nil {
				restore()
				return c.fail(ctx, fmt.Errorf("oauth user unknown: %w", err))
			}
		}
	}

	if err := c.session.SetUser(ctx, user); err != nil {
		return c.fail(ctx, err)
	}

	c.logger.Info("Signed in with oauth", "user_id", user.ID)
	c.navigator.Navigate(ctx, navigation.Landing)
	return navigation.Landing, nil
}

// Store new access token; returned func puts previous one back
func (c *Callback) replaceToken(ctx context.Context, token string) (func(), error) {
	previous, err := c.store.Get(ctx, store.KeyAccessToken)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, apperrors.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}

	if err := c.store.Set(ctx, store.KeyAccessToken, token); err != nil {
		return nil, fmt.Errorf("failed to persist access token: %w", err)
	}

	return func() {
		var err error
		if hadPrevious {
			err = c.store.Set(ctx, store.KeyAccessToken, previous)
		} else {
			err = c.store.Remove(ctx, store.KeyAccessToken)
		}
		if err != nil {
			c.logger.Error("Failed to restore previous access token", "error", err)
		}
	}, nil
}

func (c *Callback) fail(ctx context.Context, err error) (string, error) {
	c.logger.Warn("OAuth sign in failed", "error", err)
	c.bus.Publish(event.New(event.TypeOAuthFailed, err.Error()))
	c.navigator.Navigate(ctx, navigation.SignIn)
	return navigation.SignIn, err
}
