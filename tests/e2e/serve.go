package e2e

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jumenclient/internal/event"
	"github.com/nkiryanov/jumenclient/internal/gateway"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/metrics"
	"github.com/nkiryanov/jumenclient/internal/navigation"
	"github.com/nkiryanov/jumenclient/internal/service/authfetch"
	"github.com/nkiryanov/jumenclient/internal/service/oauth"
	"github.com/nkiryanov/jumenclient/internal/service/refresh"
	"github.com/nkiryanov/jumenclient/internal/service/session"
	"github.com/nkiryanov/jumenclient/internal/shell"
	"github.com/nkiryanov/jumenclient/internal/store"
	"github.com/nkiryanov/jumenclient/internal/store/sqlite"
)

// Shell is a running client shell with its insides exposed for assertions
type Shell struct {
	URL string

	Session *session.Session
	Store   store.Store
	History *navigation.History
	Metrics *metrics.Metrics
}

// Client that does not follow redirects: tests check where the shell sends the client
func (s Shell) Client() *http.Client {
	return &http.Client{
		Timeout:       10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

// Open sqlite store in the test temp dir. Same name opens the same file
func OpenStore(t *testing.T, dir string) store.Store {
	t.Helper()

	st, err := sqlite.New(t.Context(), filepath.Join(dir, "jumen.db"))
	require.NoError(t, err, "sqlite store should open")
	t.Cleanup(func() { _ = st.Close() })

	return st
}

// Serve wires the whole client against the gateway and runs shell on httptest server
func Serve(t *testing.T, gatewayURL string, st store.Store) Shell {
	t.Helper()

	l := logger.NewNoOpLogger()

	gw, err := gateway.NewClient(gatewayURL, gateway.Options{Timeout: 5 * time.Second}, l)
	require.NoError(t, err, "gateway client should be created")

	bus := event.NewBus()
	m := metrics.New()
	nav := navigation.NewHistory(bus, l)

	state := session.NewState(st, gw, bus, l)
	coordinator := refresh.New(refresh.Config{Timeout: 5 * time.Second}, gw, st, state, bus, m, l)
	fetcher := authfetch.New(gw, st, coordinator, m, l)
	sess := session.New(state, st, fetcher, gw, session.Endpoints{
		Me:     gw.Endpoints.Me,
		Logout: gw.Endpoints.Logout,
	}, nav, l)
	callback := oauth.NewCallback(gw, sess, st, nav, bus, l)

	router := shell.NewRouter(shell.Deps{
		Session: sess,
		Fetcher: fetcher,
		OAuth:   callback,
		Store:   st,
		Metrics: m.Handler(),
		Logger:  l,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return Shell{
		URL:     srv.URL,
		Session: sess,
		Store:   st,
		History: nav,
		Metrics: m,
	}
}
