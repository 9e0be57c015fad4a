package authfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/metrics"
	"github.com/nkiryanov/jumenclient/internal/store"
)

const HeaderRequestID = "X-Request-Id"

// Request describes one logical call to the gateway
// Zero value of SkipAuthorization means the call is authorized
type Request struct {
	Method string

	// Absolute URL or path relative to gateway base URL
	URL string

	Header http.Header
	Body   []byte

	// Send without Authorization header and never try to refresh
	SkipAuthorization bool
}

// Transport sends prepared requests to the gateway
type Transport interface {
	URL(path string) string
	Do(req *http.Request) (*http.Response, error)
}

type Refresher interface {
	Refresh(ctx context.Context, failedToken string) (string, error)
}

// Client attaches access token to requests and recovers once from its expiry
type Client struct {
	transport Transport
	store     store.Store
	refresher Refresher

	metrics *metrics.Metrics
	logger  logger.Logger
}

func New(transport Transport, st store.Store, refresher Refresher, m *metrics.Metrics, l logger.Logger) *Client {
	return &Client{
		transport: transport,
		store:     st,
		refresher: refresher,
		metrics:   m,
		logger:    l,
	}
}

// Do sends request. Any gateway answer except 401 is returned as is, caller closes its body
//
// On 401 for authorized request the token is refreshed and request is repeated exactly once
// with the token read back from the store. Result of the repeat is returned whatever it is.
//
// Errors:
//   - apperrors.ErrSessionExpired: refresh refused, session already cleared, sign in required
//   - apperrors.ErrNetwork: no answer from gateway, session untouched
//   - other refresh errors as returned by the refresher
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	requestID := uuid.NewString()

	retried := false
	for {
		token := ""
		if !r.SkipAuthorization {
			token = c.accessToken(ctx)
		}

		resp, err := c.send(ctx, r, token, requestID)
		if err != nil {
			c.metrics.AuthorizedRequest(metrics.OutcomeNetwork)
			return nil, err
		}

		if resp.StatusCode != http.StatusUnauthorized || r.SkipAuthorization || retried {
			c.metrics.AuthorizedRequest(outcome(retried))
			return resp, nil
		}
		_ = resp.Body.Close()

		c.logger.Debug("Access token refused, refreshing", "method", r.Method, "url", r.URL, "request_id", requestID)

		if _, err := c.refresher.Refresh(ctx, token); err != nil {
			if errors.Is(err, apperrors.ErrSessionExpired) {
				c.metrics.AuthorizedRequest(metrics.OutcomeExpired)
			} else {
				c.metrics.AuthorizedRequest(metrics.OutcomeRefreshFailed)
			}
			return nil, err
		}

		retried = true
	}
}

// Get is shortcut for authorized GET
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url})
}

// Read token; absent or unreadable token means request goes without credentials
func (c *Client) accessToken(ctx context.Context) string {
	token, err := c.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, apperrors.ErrKeyNotFound) {
			c.logger.Warn("Failed to read access token", "error", err)
		}
		return ""
	}
	return token
}

func (c *Client) send(ctx context.Context, r Request, token string, requestID string) (*http.Response, error) {
	url := r.URL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.transport.URL(url)
	}

	// Body reader is recreated for every attempt
	req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range r.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Del("Authorization")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := c.transport.Do(req)
	if err != nil {
		if errors.Is(err, apperrors.ErrNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
	}
	return resp, nil
}

func outcome(retried bool) string {
	if retried {
		return metrics.OutcomeRetried
	}
	return metrics.OutcomeOK
}
