package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/event"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/metrics"
	"github.com/nkiryanov/jumenclient/internal/store"
)

const defaultTimeout = 10 * time.Second

// Single key: there is one session, so one refresh at a time
const flightKey = "refresh"

// Gateway call exchanging refresh credential for new access token
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Expirer drops the session when refresh credential is refused
type Expirer interface {
	Expire(ctx context.Context) error
}

type Config struct {
	// Upper bound for one refresh exchange. If not set than default is used
	Timeout time.Duration
}

// Coordinator makes sure concurrent callers share one refresh exchange
type Coordinator struct {
	refresher Refresher
	store     store.Store
	expirer   Expirer
	timeout   time.Duration

	group singleflight.Group

	bus     event.Bus
	metrics *metrics.Metrics
	logger  logger.Logger
}

func New(cfg Config, refresher Refresher, st store.Store, expirer Expirer, bus event.Bus, m *metrics.Metrics, l logger.Logger) *Coordinator {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if bus == nil {
		bus = event.Discard{}
	}

	return &Coordinator{
		refresher: refresher,
		store:     st,
		expirer:   expirer,
		timeout:   cfg.Timeout,
		bus:       bus,
		metrics:   m,
		logger:    l,
	}
}

// Refresh returns access token to retry with after failedToken was refused
//
// Callers arriving while exchange is in flight wait for it instead of starting another one.
// Caller whose token was already replaced gets stored token without any exchange,
// caller whose token was removed together with the session gets apperrors.ErrSessionExpired.
// Context bounds only the caller's wait: exchange itself completes for the others.
//
// Errors:
//   - apperrors.ErrSessionExpired: gateway refused refresh credential, session is cleared
//   - apperrors.ErrNetwork, apperrors.ErrMalformedResponse: session is kept, caller may try later
func (c *Coordinator) Refresh(ctx context.Context, failedToken string) (string, error) {
	if token, done, err := c.settled(ctx, failedToken); done {
		return token, err
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.exchange(flightCtx, failedToken)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Check if the failed token was already dealt with, so no exchange is needed:
// replaced by another refresh (new token returned) or removed with the whole session (ErrSessionExpired)
func (c *Coordinator) settled(ctx context.Context, failedToken string) (string, bool, error) {
	current, err := c.store.Get(ctx, store.KeyAccessToken)
	switch {
	case errors.Is(err, apperrors.ErrKeyNotFound) && failedToken != "":
		c.metrics.Refresh(metrics.RefreshSkipped)
		return "", true, fmt.Errorf("%w: session was cleared", apperrors.ErrSessionExpired)
	case err != nil || current == "" || current == failedToken:
		return "", false, nil
	default:
		c.metrics.Refresh(metrics.RefreshSkipped)
		return current, true, nil
	}
}

func (c *Coordinator) exchange(ctx context.Context, failedToken string) (string, error) {
	// Previous flight may have settled between caller's check and this flight start
	if token, done, err := c.settled(ctx, failedToken); done {
		return token, err
	}

	c.logger.Debug("Refreshing access token")

	token, err := c.refresher.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrRefreshRejected):
		c.metrics.Refresh(metrics.RefreshRejected)
		c.logger.Info("Refresh token rejected", "error", err)
		if clearErr := c.expirer.Expire(ctx); clearErr != nil {
			c.logger.Error("Failed to clear expired session", "error", clearErr)
		}
		return "", fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, err)
	case errors.Is(err, apperrors.ErrMalformedResponse):
		c.metrics.Refresh(metrics.RefreshBad)
		c.logger.Warn("Refresh response unusable, session kept", "error", err)
		return "", err
	default:
		c.metrics.Refresh(metrics.RefreshNetwork)
		c.logger.Warn("Refresh failed, session kept", "error", err)
		return "", err
	}

	if err := c.store.Set(ctx, store.KeyAccessToken, token); err != nil {
		c.logger.Error("Failed to persist refreshed token", "error", err)
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	c.metrics.Refresh(metrics.RefreshSuccess)
	c.bus.Publish(event.New(event.TypeTokenRefreshed, nil))
	c.logger.Info("Access token refreshed")

	return token, nil
}
