package session

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/store"
	"github.com/nkiryanov/jumenclient/internal/testutil/fakegateway"
	"github.com/nkiryanov/jumenclient/tests/e2e"
)

const (
	email    = "alice@example.com"
	password = "StrongEnoughPassword"
)

func startGateway(t *testing.T, cfg fakegateway.Config) *fakegateway.Server {
	t.Helper()

	gw := fakegateway.New(cfg)
	t.Cleanup(gw.Close)
	gw.AddUser("alice", email, password)

	return gw
}

func call(t *testing.T, s e2e.Shell, method string, path string, body string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func signIn(t *testing.T, s e2e.Shell) {
	t.Helper()

	resp, body := call(t, s, http.MethodPost, "/sign-in", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equalf(t, http.StatusOK, resp.StatusCode, "sign in failed. Body: %s", body)
	require.JSONEq(t, `{"redirect":"/overview"}`, body)
}

func storedToken(t *testing.T, s e2e.Shell) string {
	t.Helper()

	token, err := s.Store.Get(t.Context(), store.KeyAccessToken)
	require.NoError(t, err)
	return token
}

// Wait until path is hit n times. Runs on gateway side, so no test assertions here
func waitForCount(gw *fakegateway.Server, path string, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for gw.Count(path) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func Test_NoStoredToken(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

	s.Session.Bootstrap(t.Context())

	require.Nil(t, s.Session.CurrentUser())
	require.False(t, s.Session.IsLoading())
	require.Zero(t, gw.Count(fakegateway.PathMe), "nothing to check without token")

	resp, _ := call(t, s, http.MethodGet, "/overview", "")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/sign-in", resp.Header.Get("Location"))
}

func Test_RestoreStoredSession(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{})
	dir := t.TempDir()

	first := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, dir))
	signIn(t, first)

	// Stale snapshot: bootstrap must replace it with what the gateway says
	require.NoError(t, first.Store.Set(t.Context(), store.KeyUserInfo, `{"id":1,"username":"old-name"}`))

	// Next process start with the same store file
	second := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, dir))
	second.Session.Bootstrap(t.Context())

	user := second.Session.CurrentUser()
	require.NotNil(t, user)
	require.Equal(t, int64(1), user.ID)
	require.Equal(t, "alice", user.Username)

	raw, err := second.Store.Get(t.Context(), store.KeyUserInfo)
	require.NoError(t, err)
	var cached map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	require.Equal(t, "alice", cached["username"])

	resp, body := call(t, second, http.MethodGet, "/overview", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `"username":"alice"`)
}

func Test_RefreshOnExpiredToken(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))
	signIn(t, s)
	expired := storedToken(t, s)

	gw.RevokeAccess()
	resp, body := call(t, s, http.MethodGet, "/api/fetch/boards/free?page=2", "")

	require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
	require.JSONEq(t, `{"method":"GET","path":"/boards/free","query":"page=2","user":1}`, body)
	require.Equal(t, 1, gw.Count(fakegateway.PathRefresh))
	require.Equal(t, 2, gw.Count("/boards/free"), "first attempt and one retry")

	fresh := storedToken(t, s)
	require.NotEqual(t, expired, fresh, "retry goes with the refreshed token")
	require.NotNil(t, s.Session.CurrentUser(), "refresh keeps user signed in")
}

func Test_BurstSharesOneRefresh(t *testing.T) {
	const n = 10

	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))
	signIn(t, s)
	gw.RevokeAccess()

	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _ := call(t, s, http.MethodGet, "/api/fetch/boards", "")
			codes[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}
	require.Equal(t, 1, gw.Count(fakegateway.PathRefresh), "single use refresh cookie survives only one exchange")
}

func Test_BurstWithRejectedRefresh(t *testing.T) {
	const n = 10

	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))
	signIn(t, s)
	gw.RevokeAccess()
	gw.RevokeRefresh()

	// Hold refresh until every request got its 401: nobody reads the store after the session is cleared
	gw.SetRefreshHook(func() { waitForCount(gw, "/boards", n) })

	type answer struct {
		code     int
		location string
	}
	answers := make([]answer, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _ := call(t, s, http.MethodGet, "/api/fetch/boards", "")
			answers[i] = answer{resp.StatusCode, resp.Header.Get("Location")}
		}()
	}
	wg.Wait()

	for _, a := range answers {
		require.Equal(t, answer{http.StatusUnauthorized, "/sign-in"}, a)
	}
	require.Equal(t, 1, gw.Count(fakegateway.PathRefresh))
	require.Equal(t, n, gw.Count("/boards"), "nobody retries after rejected refresh")
	require.Nil(t, s.Session.CurrentUser())

	_, err := s.Store.Get(t.Context(), store.KeyAccessToken)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	_, err = s.Store.Get(t.Context(), store.KeyUserInfo)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func Test_OAuthCallback(t *testing.T) {
	t.Run("code exchanged", func(t *testing.T) {
		gw := startGateway(t, fakegateway.Config{})
		gw.AddOAuthCode("abc", email)
		s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

		resp, _ := call(t, s, http.MethodGet, "/oauth2/callback?code=abc", "")

		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/overview", resp.Header.Get("Location"))
		require.Equal(t, "/overview", s.History.Current())
		require.NotNil(t, s.Session.CurrentUser())
		require.Equal(t, "alice", s.Session.CurrentUser().Username)
		require.NotEmpty(t, storedToken(t, s))
	})

	t.Run("bare user answer", func(t *testing.T) {
		gw := startGateway(t, fakegateway.Config{BareUserExchange: true})
		gw.AddOAuthCode("abc", email)
		s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

		resp, _ := call(t, s, http.MethodGet, "/oauth2/callback?code=abc", "")
		require.Equal(t, "/overview", resp.Header.Get("Location"))
		require.NotNil(t, s.Session.CurrentUser())

		// No token in the answer: first call gets one with the refresh cookie
		resp, body := call(t, s, http.MethodGet, "/api/fetch/boards", "")
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.Equal(t, 1, gw.Count(fakegateway.PathRefresh))
	})

	t.Run("bare user answer replaces previous user", func(t *testing.T) {
		gw := startGateway(t, fakegateway.Config{BareUserExchange: true})
		gw.AddUser("bob", "bob@example.com", password)
		gw.AddOAuthCode("abc", "bob@example.com")
		s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))
		signIn(t, s)
		require.Equal(t, "alice", s.Session.CurrentUser().Username)

		resp, _ := call(t, s, http.MethodGet, "/oauth2/callback?code=abc", "")
		require.Equal(t, "/overview", resp.Header.Get("Location"))

		user := s.Session.CurrentUser()
		require.NotNil(t, user)
		require.Equal(t, "bob", user.Username)

		// Gateway must see bob, not alice with her old bearer token
		resp, body := call(t, s, http.MethodGet, "/api/fetch/boards", "")
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		var echo struct {
			User int64 `json:"user"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &echo))
		require.Equal(t, user.ID, echo.User)
	})

	t.Run("no code", func(t *testing.T) {
		gw := startGateway(t, fakegateway.Config{})
		s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

		resp, _ := call(t, s, http.MethodGet, "/oauth2/callback", "")

		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/sign-in", resp.Header.Get("Location"))
		require.Zero(t, gw.Count(fakegateway.PathOAuthCallback), "no exchange without code")
		require.Nil(t, s.Session.CurrentUser())
	})

	t.Run("invalid code", func(t *testing.T) {
		gw := startGateway(t, fakegateway.Config{})
		s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

		resp, _ := call(t, s, http.MethodGet, "/oauth2/callback?code=nope", "")

		require.Equal(t, "/sign-in", resp.Header.Get("Location"))
		require.Equal(t, 1, gw.Count(fakegateway.PathOAuthCallback))
		require.Nil(t, s.Session.CurrentUser())
	})
}

func Test_SignOut(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))
	signIn(t, s)

	for range 2 {
		resp, body := call(t, s, http.MethodPost, "/api/sign-out", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"redirect":"/sign-in"}`, body)
	}

	require.Nil(t, s.Session.CurrentUser())
	_, err := s.Store.Get(t.Context(), store.KeyAccessToken)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)

	// Gateway burnt the refresh cookie too
	resp, _ := call(t, s, http.MethodGet, "/api/fetch/boards", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func Test_SignOutAfterBareUserOAuth(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{BareUserExchange: true})
	gw.AddOAuthCode("abc", email)
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

	resp, _ := call(t, s, http.MethodGet, "/oauth2/callback?code=abc", "")
	require.Equal(t, "/overview", resp.Header.Get("Location"))
	_, err := s.Store.Get(t.Context(), store.KeyAccessToken)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound, "only refresh cookie is held")

	resp, _ = call(t, s, http.MethodPost, "/api/sign-out", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, gw.Count(fakegateway.PathLogout), "cookie-only session is signed out remotely too")

	resp, _ = call(t, s, http.MethodGet, "/api/fetch/boards", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Nil(t, s.Session.CurrentUser())
	_, err = s.Store.Get(t.Context(), store.KeyAccessToken)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func Test_SignOutWithFailedRemoteLogout(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))
	signIn(t, s)
	gw.FailLogout(http.StatusServiceUnavailable)

	resp, body := call(t, s, http.MethodPost, "/api/sign-out", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"redirect":"/sign-in"}`, body)

	// Gateway still honors the cookie, so only the local drop keeps the user signed out
	refreshes := gw.Count(fakegateway.PathRefresh)
	resp, _ = call(t, s, http.MethodGet, "/api/fetch/boards", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, refreshes+1, gw.Count(fakegateway.PathRefresh))
	require.Nil(t, s.Session.CurrentUser())
	_, err := s.Store.Get(t.Context(), store.KeyAccessToken)
	require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func Test_SignInErrors(t *testing.T) {
	gw := startGateway(t, fakegateway.Config{})
	s := e2e.Serve(t, gw.URL(), e2e.OpenStore(t, t.TempDir()))

	resp, body := call(t, s, http.MethodPost, "/sign-in", `{"email":"`+email+`","password":"wrong-password"}`)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.JSONEq(t, `{"error":"service_error","message":"Invalid email or password"}`, body)
	require.Nil(t, s.Session.CurrentUser())
}
