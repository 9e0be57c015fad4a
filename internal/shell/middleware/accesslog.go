package middleware

import (
	"net/http"
	"time"

	"github.com/nkiryanov/jumenclient/internal/models"
)

type accessLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Who the shell works for at the moment
type sessionReader interface {
	CurrentUser() *models.User
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += n
	return n, err
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming proxied answers working through the wrapper
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLog writes one line per shell request with request id and session user
// User is read after the handler, so sign in and sign out show the resulting session
// Query is left out: OAuth redirect carries authorization code there
func AccessLog(l accessLogger, s sessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			args := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.written,
				"took", time.Since(start),
			}
			if user := currentUser(s); user != nil {
				args = append(args, "user_id", user.ID)
			} else {
				args = append(args, "signed_in", false)
			}

			if rec.status >= http.StatusInternalServerError {
				l.Warn("Shell request failed", args...)
				return
			}
			l.Info("Shell request", args...)
		})
	}
}

func currentUser(s sessionReader) *models.User {
	if s == nil {
		return nil
	}
	return s.CurrentUser()
}
