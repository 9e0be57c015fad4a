package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/redact"
	"github.com/nkiryanov/jumenclient/internal/service/validate"
)

// Enough for any user payload
const maxBody = 1 << 20

// SignIn exchanges email and password for credentials
// Gateway sets refresh cookie on success, it stays in the client jar
func (c *Client) SignIn(ctx context.Context, email string, password string) (models.Credentials, error) {
	var creds models.Credentials

	resp, err := c.sendJSON(ctx, http.MethodPost, c.Endpoints.SignIn, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return creds, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if !isSuccess(resp.StatusCode) {
		gwErr := newError(resp)
		c.logger.Info("Sign in refused", "email", redact.Email(email), "status", gwErr.StatusCode, "detail", gwErr.Detail)
		return creds, gwErr
	}

	if err := decode(resp.Body, &creds); err != nil {
		return creds, err
	}
	if creds.AccessToken == "" {
		return creds, fmt.Errorf("%w: sign in response has no access token", apperrors.ErrMalformedResponse)
	}
	if creds.User != nil {
		if err := validate.Struct(creds.User); err != nil {
			return creds, fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
		}
	}

	return creds, nil
}

// SignUp registers account. It does not sign in
func (c *Client) SignUp(ctx context.Context, username string, email string, password string) error {
	resp, err := c.sendJSON(ctx, http.MethodPost, c.Endpoints.SignUp, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck

	if !isSuccess(resp.StatusCode) {
		gwErr := newError(resp)
		c.logger.Info("Sign up refused", "email", redact.Email(email), "status", gwErr.StatusCode, "detail", gwErr.Detail)
		return gwErr
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	return nil
}

// Refresh asks for new access token with refresh cookie from the jar
//
// Errors:
//   - apperrors.ErrRefreshRejected (with *Error) if gateway refused the refresh credential
//   - apperrors.ErrNetwork if gateway is unreachable or failed on its side
//   - apperrors.ErrMalformedResponse if answer has no usable token
func (c *Client) Refresh(ctx context.Context) (string, error) {
	resp, err := c.sendJSON(ctx, http.MethodPost, c.Endpoints.Refresh, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() // nolint:errcheck

	if !isSuccess(resp.StatusCode) {
		gwErr := newError(resp)
		if isRejection(resp.StatusCode) {
			return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshRejected, gwErr)
		}
		return "", fmt.Errorf("%w: %w", apperrors.ErrNetwork, gwErr)
	}

	// Refresh token in body (if any) is ignored on purpose: it is carried by cookie only
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := decode(resp.Body, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh response has no access token", apperrors.ErrMalformedResponse)
	}

	return payload.AccessToken, nil
}

// OAuthURL returns external provider authorization URL to send the user to
func (c *Client) OAuthURL(ctx context.Context) (string, error) {
	resp, err := c.sendJSON(ctx, http.MethodGet, c.Endpoints.OAuthLogin, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() // nolint:errcheck

	if !isSuccess(resp.StatusCode) {
		return "", newError(resp)
	}

	var payload struct {
		AuthURL string `json:"auth_url"`
	}
	if err := decode(resp.Body, &payload); err != nil {
		return "", err
	}
	if _, err := url.ParseRequestURI(payload.AuthURL); err != nil {
		return "", fmt.Errorf("%w: auth url %q: %v", apperrors.ErrMalformedResponse, payload.AuthURL, err)
	}

	return payload.AuthURL, nil
}

// ExchangeCode trades authorization code for credentials. Sent without authorization
// Gateway may answer {access_token, user} or bare user object; AccessToken is empty in the latter case
// User may be nil if only token was returned
func (c *Client) ExchangeCode(ctx context.Context, code string) (models.Credentials, error) {
	var creds models.Credentials

	path := c.Endpoints.OAuthCallback + "?" + url.Values{"code": {code}}.Encode()
	resp, err := c.sendJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return creds, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if !isSuccess(resp.StatusCode) {
		return creds, fmt.Errorf("%w: %w", apperrors.ErrOAuthCodeInvalid, newError(resp))
	}

	var raw map[string]json.RawMessage
	if err := decode(resp.Body, &raw); err != nil {
		return creds, err
	}

	_, hasToken := raw["access_token"]
	_, hasUser := raw["user"]
	if hasToken || hasUser {
		if err := remarshal(raw, &creds); err != nil {
			return creds, err
		}
	} else {
		var user models.User
		if err := remarshal(raw, &user); err != nil {
			return creds, err
		}
		creds.User = &user
	}

	switch {
	case creds.User == nil && creds.AccessToken == "":
		return creds, fmt.Errorf("%w: code exchange response has neither user nor token", apperrors.ErrMalformedResponse)
	case creds.User != nil:
		if err := validate.Struct(creds.User); err != nil {
			return creds, fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
		}
	}

	return creds, nil
}

// DecodeUser reads who-am-I response body
func DecodeUser(r io.Reader) (*models.User, error) {
	var user models.User
	if err := decode(r, &user); err != nil {
		return nil, err
	}
	if err := validate.Struct(&user); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
	}
	return &user, nil
}

func decode(r io.Reader, v any) error {
	if err := json.NewDecoder(io.LimitReader(r, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
	}
	return nil
}

func remarshal(raw map[string]json.RawMessage, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
	}
	return nil
}
