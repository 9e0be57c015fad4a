package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

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
)

const shutdownTimeout = 5 * time.Second

type ShellApp struct {
	ListenAddr string
	Handler    http.Handler

	session *session.Session
	store   store.Store
	bus     *event.InMemoryBus
	logger  logger.Logger
}

func NewShellApp(ctx context.Context, c *Config) (*ShellApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	st, err := store.Open(ctx, c.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("error while opening store. Err: %w", err)
	}

	gw, err := gateway.NewClient(c.GatewayAddr, gateway.Options{
		Timeout: c.RequestTimeout,
		RPS:     c.GatewayRPS,
	}, l.WithGroup("gateway"))
	if err != nil {
		_ = store.Close(st)
		return nil, fmt.Errorf("error while creating gateway client. Err: %w", err)
	}

	bus := event.NewBus()
	m := metrics.New()
	nav := navigation.NewHistory(bus, l)

	// State goes first: coordinator expires it, fetcher and session are built on top
	state := session.NewState(st, gw, bus, l)
	coordinator := refresh.New(refresh.Config{Timeout: c.RefreshTimeout}, gw, st, state, bus, m, l.WithGroup("refresh"))
	fetcher := authfetch.New(gw, st, coordinator, m, l)
	sess := session.New(state, st, fetcher, gw, session.Endpoints{
		Me:     gw.Endpoints.Me,
		Logout: gw.Endpoints.Logout,
	}, nav, l.WithGroup("session"))
	callback := oauth.NewCallback(gw, sess, st, nav, bus, l.WithGroup("oauth"))

	router := shell.NewRouter(shell.Deps{
		Session:     sess,
		Fetcher:     fetcher,
		OAuth:       callback,
		Store:       st,
		Metrics:     m.Handler(),
		CORSOrigins: c.CORSOrigins,
		Logger:      l,
	})

	return &ShellApp{
		ListenAddr: c.ListenAddr,
		Handler:    router,
		session:    sess,
		store:      st,
		bus:        bus,
		logger:     l,
	}, nil
}

// Run restores the session, serves http and closes gracefully on context cancellation
func (a *ShellApp) Run(ctx context.Context) error {
	defer func() {
		if err := store.Close(a.store); err != nil {
			a.logger.Warn("Store close failed", "error", err)
		}
	}()

	events, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()
	go a.logEvents(events)

	// Views wait on the loading flag until bootstrap settles
	bootstrapped := make(chan struct{})
	go func() {
		defer close(bootstrapped)
		a.session.Bootstrap(ctx)
	}()
	defer func() { <-bootstrapped }()

	httpServer := &http.Server{
		Addr:              a.ListenAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		a.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	a.logger.Info("Starting shell", "address", a.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *ShellApp) logEvents(events <-chan event.Event) {
	for e := range events {
		a.logger.Info("Session event", "type", e.Type, "id", e.ID)
	}
}
