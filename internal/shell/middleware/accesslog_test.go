package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jumenclient/internal/models"
)

type logLine struct {
	level string
	msg   string
	args  map[string]any
}

type recordingLogger struct {
	lines []logLine
}

func (l *recordingLogger) record(level string, msg string, args []any) {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		fields[args[i].(string)] = args[i+1]
	}
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: fields})
}

func (l *recordingLogger) Info(msg string, args ...any) { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any) { l.record("warn", msg, args) }

type userFunc func() *models.User

func (f userFunc) CurrentUser() *models.User { return f() }

func TestAccessLog(t *testing.T) {
	serve := func(t *testing.T, s sessionReader, h http.HandlerFunc, target string) (*recordingLogger, *http.Response) {
		t.Helper()

		l := &recordingLogger{}
		srv := httptest.NewServer(RequestID(AccessLog(l, s)(h)))
		t.Cleanup(srv.Close)

		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+target, nil)
		require.NoError(t, err)
		req.Header.Set(HeaderRequestID, "req-42")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		require.NoError(t, resp.Body.Close())

		require.Len(t, l.lines, 1, "one line per request")
		return l, resp
	}

	t.Run("signed in user", func(t *testing.T) {
		h := func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err)
		}

		l, resp := serve(t, userFunc(func() *models.User { return &models.User{ID: 7} }), h, "/overview")

		require.Equal(t, http.StatusTeapot, resp.StatusCode)
		line := l.lines[0]
		require.Equal(t, "info", line.level)
		require.Equal(t, "Shell request", line.msg)
		require.Equal(t, "req-42", line.args["request_id"])
		require.Equal(t, http.MethodGet, line.args["method"])
		require.Equal(t, "/overview", line.args["path"])
		require.Equal(t, http.StatusTeapot, line.args["status"])
		require.Equal(t, 2, line.args["bytes"])
		require.NotZero(t, line.args["took"])
		require.Equal(t, int64(7), line.args["user_id"])
		require.NotContains(t, line.args, "signed_in")
	})

	t.Run("user read after handler", func(t *testing.T) {
		var user *models.User
		h := func(w http.ResponseWriter, r *http.Request) {
			user = &models.User{ID: 3}
		}

		l, _ := serve(t, userFunc(func() *models.User { return user }), h, "/sign-in")

		require.Equal(t, int64(3), l.lines[0].args["user_id"])
		require.Equal(t, http.StatusOK, l.lines[0].args["status"], "implicit status")
	})

	t.Run("signed out and query dropped", func(t *testing.T) {
		h := func(w http.ResponseWriter, r *http.Request) {}

		l, _ := serve(t, nil, h, "/oauth2/callback?code=secret-code")

		line := l.lines[0]
		require.Equal(t, false, line.args["signed_in"])
		require.NotContains(t, line.args, "user_id")
		require.Equal(t, "/oauth2/callback", line.args["path"], "authorization code never reaches logs")
	})

	t.Run("server error logged as warning", func(t *testing.T) {
		h := func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.WriteHeader(http.StatusOK)
		}

		l, _ := serve(t, nil, h, "/api/fetch/boards")

		require.Equal(t, "warn", l.lines[0].level)
		require.Equal(t, "Shell request failed", l.lines[0].msg)
		require.Equal(t, http.StatusBadGateway, l.lines[0].args["status"], "first status wins")
	})
}
