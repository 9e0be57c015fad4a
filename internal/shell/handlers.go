package shell

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/gateway"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/navigation"
	"github.com/nkiryanov/jumenclient/internal/service/authfetch"
	"github.com/nkiryanov/jumenclient/internal/service/session"
	"github.com/nkiryanov/jumenclient/internal/shell/middleware"
	"github.com/nkiryanov/jumenclient/internal/shell/render"
	"github.com/nkiryanov/jumenclient/internal/store"
	"github.com/nkiryanov/jumenclient/internal/tokeninfo"
)

// Limit for request bodies forwarded to gateway
const maxForwardBody = 10 << 20

// Hop-by-hop and client specific headers not forwarded in either direction
var skipHeaders = map[string]bool{
	"Authorization":     true,
	"Cookie":            true,
	"Set-Cookie":        true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Content-Length":    true,
	"Host":              true,
}

type sessionResponse struct {
	User            *models.User `json:"user"`
	Loading         bool         `json:"loading"`
	AccessExpiresAt *time.Time   `json:"access_expires_at,omitempty"`
}

func handleSession(s sessionService, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.Snapshot()
		resp := sessionResponse{User: snap.User, Loading: snap.Loading}

		if token, err := st.Get(r.Context(), store.KeyAccessToken); err == nil {
			if exp, err := tokeninfo.ExpiresAt(token); err == nil {
				exp = exp.UTC()
				resp.AccessExpiresAt = &exp
			}
		}

		render.JSON(w, resp)
	}
}

func handleSignOut(s sessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.Redirect(w, s.Logout(r.Context()))
	}
}

type viewResponse struct {
	View string       `json:"view"`
	User *models.User `json:"user,omitempty"`
}

// Minimal view descriptor; rendering is up to the view components
func handleView(name string, s sessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := viewResponse{View: name}
		if s != nil {
			resp.User = s.Snapshot().User
		}
		render.JSON(w, resp)
	}
}

func handleSignIn(s sessionService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := render.BindAndValidate[session.SignInInput](w, r)
		if err != nil {
			return
		}

		target, err := s.SignIn(r.Context(), in)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.Redirect(w, target)
	}
}

func handleSignUp(s sessionService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := render.BindAndValidate[session.SignUpInput](w, r)
		if err != nil {
			return
		}

		target, err := s.SignUp(r.Context(), in)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.Redirect(w, target)
	}
}

func handleOAuthStart(o oauthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := o.Start(r.Context())
		if err != nil {
			render.ServiceError(w, "Can't start external sign in, try again later", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// Both outcomes redirect: landing on success, sign in on failure
func handleOAuthCallback(o oauthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, _ := o.Handle(r.Context(), r.URL.Query())
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// Forward request to gateway with session credentials and copy the answer back
func handleFetch(f fetcher, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxForwardBody))
		if err != nil {
			render.ServiceError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		target := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		header := http.Header{}
		for k, values := range r.Header {
			if skipHeaders[http.CanonicalHeaderKey(k)] || strings.HasPrefix(k, "Access-Control-") || k == "Origin" {
				continue
			}
			header[k] = values
		}

		resp, err := f.Do(r.Context(), authfetch.Request{
			Method: r.Method,
			URL:    target,
			Header: header,
			Body:   body,
		})
		if err != nil {
			renderError(w, r, err, l)
			return
		}
		defer resp.Body.Close() // nolint:errcheck

		for k, values := range resp.Header {
			if skipHeaders[k] || k == middleware.HeaderRequestID {
				continue
			}
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}
}

// Map service errors to answers. Nothing escapes as panic or raw error text
func renderError(w http.ResponseWriter, r *http.Request, err error, l logger.Logger) {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, apperrors.ErrSessionExpired):
		render.SessionExpired(w, navigation.SignIn)
	case errors.Is(err, apperrors.ErrInvalidInput):
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrNetwork):
		render.ServiceError(w, "Gateway is unreachable, try again later", http.StatusBadGateway)
	case errors.Is(err, apperrors.ErrMalformedResponse):
		render.ServiceError(w, "Gateway answered with unexpected data", http.StatusBadGateway)
	case errors.As(err, &gwErr):
		message := gwErr.Detail
		if message == "" {
			message = http.StatusText(gwErr.StatusCode)
		}
		render.ServiceError(w, message, gwErr.StatusCode)
	default:
		l.Error("Request failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
