package shell

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/navigation"
	"github.com/nkiryanov/jumenclient/internal/routeguard"
	"github.com/nkiryanov/jumenclient/internal/service/authfetch"
	"github.com/nkiryanov/jumenclient/internal/service/session"
	"github.com/nkiryanov/jumenclient/internal/shell/middleware"
	"github.com/nkiryanov/jumenclient/internal/store"
)

type sessionService interface {
	routeguard.State
	CurrentUser() *models.User
	Snapshot() session.Snapshot

	// Has to return view to go to
	Logout(ctx context.Context) string
	SignIn(ctx context.Context, in session.SignInInput) (string, error)
	SignUp(ctx context.Context, in session.SignUpInput) (string, error)
}

type fetcher interface {
	Do(ctx context.Context, r authfetch.Request) (*http.Response, error)
}

type oauthService interface {
	Start(ctx context.Context) (string, error)
	Handle(ctx context.Context, query url.Values) (string, error)
}

type Deps struct {
	Session sessionService
	Fetcher fetcher
	OAuth   oauthService
	Store   store.Store

	// Prometheus handler; route is not registered if nil
	Metrics http.Handler

	CORSOrigins []string
	Logger      logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(d.Logger, d.Session))
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.CORS(d.CORSOrigins))

	guard := func(requireAuth bool) func(http.Handler) http.Handler {
		return routeguard.Middleware(func() routeguard.State { return d.Session }, requireAuth)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/session", handleSession(d.Session, d.Store))
		api.Post("/sign-out", handleSignOut(d.Session))
		api.HandleFunc("/fetch/*", handleFetch(d.Fetcher, d.Logger))
	})

	r.With(guard(false)).Get(navigation.SignIn, handleView("sign-in", nil))
	r.With(guard(false)).Get(navigation.SignUp, handleView("sign-up", nil))
	r.With(guard(true)).Get(navigation.Landing, handleView("overview", d.Session))

	r.Post(navigation.SignIn, handleSignIn(d.Session, d.Logger))
	r.Post(navigation.SignUp, handleSignUp(d.Session, d.Logger))

	r.Get("/auth/google", handleOAuthStart(d.OAuth))
	r.Get(navigation.OAuthCallback, handleOAuthCallback(d.OAuth))

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	return r
}
