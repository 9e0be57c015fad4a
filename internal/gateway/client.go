package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/logger"
)

const HeaderRequestID = "X-Request-Id"

// Paths of the remote auth endpoints relative to base URL
type Endpoints struct {
	SignIn        string
	SignUp        string
	Refresh       string
	Me            string
	Logout        string
	OAuthLogin    string
	OAuthCallback string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		SignIn:        "/auth/email/login",
		SignUp:        "/auth/email/register",
		Refresh:       "/auth/refresh",
		Me:            "/auth/me",
		Logout:        "/auth/logout",
		OAuthLogin:    "/auth/google/login",
		OAuthCallback: "/auth/google/callback",
	}
}

type Options struct {
	// Per request timeout. Zero means no timeout
	Timeout time.Duration

	// Client side limit of requests per second. Zero or negative disables limiting
	RPS float64

	// Zero value means DefaultEndpoints
	Endpoints Endpoints

	// Round tripper to use instead of http.DefaultTransport
	Transport http.RoundTripper
}

// Client talks to the remote auth gateway
// It keeps cookies between requests: the refresh credential lives there only
type Client struct {
	BaseURL   string
	Endpoints Endpoints

	client  *http.Client
	jar     *jar
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewClient(baseURL string, opts Options, l logger.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is empty")
	}

	jar, err := newJar()
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	endpoints := opts.Endpoints
	if endpoints == (Endpoints{}) {
		endpoints = DefaultEndpoints()
	}

	limit := rate.Inf
	burst := 0
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = max(1, int(opts.RPS))
	}

	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Endpoints: endpoints,
		client: &http.Client{
			Jar:       jar,
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		jar:     jar,
		limiter: rate.NewLimiter(limit, burst),
		logger:  l,
	}, nil
}

// Absolute URL for path. Absolute URLs are returned as is
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

// ForgetCredentials drops every cookie the gateway has set, refresh credential included
// Requests in flight may still carry the old cookies
func (c *Client) ForgetCredentials() {
	if err := c.jar.reset(); err != nil {
		c.logger.Error("Failed to reset cookie jar", "error", err)
		return
	}
	c.logger.Debug("Gateway cookies dropped")
}

// Do sends request through rate limiter and cookie jar
// Failure to get any response is reported as apperrors.ErrNetwork
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", apperrors.ErrNetwork, err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Gateway request failed",
			"method", req.Method, "path", req.URL.Path, "request_id", req.Header.Get(HeaderRequestID), "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
	}

	c.logger.Debug("Gateway request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(HeaderRequestID),
		"duration", time.Since(start),
	)
	return resp, nil
}

// Send JSON request to endpoint path; body may be nil
func (c *Client) sendJSON(ctx context.Context, method string, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.Do(req)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
