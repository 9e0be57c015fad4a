// Package fakegateway is an in-process stand-in for the remote auth gateway
//
// It issues signed access tokens and rotates single use refresh tokens carried by
// http-only cookie, the same way the real gateway does.
package fakegateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/shell/render"
)

const (
	RefreshCookie = "refresh_token"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
)

// Paths served by the fake; they match gateway.DefaultEndpoints
const (
	PathSignIn        = "/auth/email/login"
	PathSignUp        = "/auth/email/register"
	PathRefresh       = "/auth/refresh"
	PathMe            = "/auth/me"
	PathLogout        = "/auth/logout"
	PathOAuthLogin    = "/auth/google/login"
	PathOAuthCallback = "/auth/google/callback"
	PathBoards        = "/boards"
)

type Config struct {
	// Key to sign access tokens. Random one is not needed: tokens never leave the test
	SecretKey string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Code exchange answers with bare user object instead of {access_token, user}
	BareUserExchange bool
}

type account struct {
	user           models.User
	hashedPassword string
}

type Server struct {
	cfg    Config
	server *httptest.Server
	tokens *tokenManager
	hasher bcryptHasher

	mu          sync.Mutex
	accounts    map[string]*account // by email
	nextID      int64
	oauthCodes  map[string]string // code -> email
	counts      map[string]int
	refreshHook func()
	refreshFail int
	logoutFail  int
}

func New(cfg Config) *Server {
	if cfg.SecretKey == "" {
		cfg.SecretKey = "fake-gateway-secret"
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}

	s := &Server{
		cfg:        cfg,
		tokens:     newTokenManager(cfg.SecretKey, cfg.AccessTTL, cfg.RefreshTTL),
		hasher:     bcryptHasher{cost: bcrypt.MinCost},
		accounts:   make(map[string]*account),
		oauthCodes: make(map[string]string),
		counts:     make(map[string]int),
	}
	s.server = httptest.NewServer(s.router())

	return s
}

func (s *Server) URL() string { return s.server.URL }

func (s *Server) Close() { s.server.Close() }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.count)

	r.Post(PathSignIn, s.signIn)
	r.Post(PathSignUp, s.signUp)
	r.Post(PathRefresh, s.refresh)
	r.Get(PathMe, s.requireAuth(s.me))
	r.Post(PathLogout, s.logout)
	r.Get(PathOAuthLogin, s.oauthLogin)
	r.Get(PathOAuthCallback, s.oauthCallback)
	r.HandleFunc(PathBoards, s.requireAuth(s.boards))
	r.HandleFunc(PathBoards+"/*", s.requireAuth(s.boards))

	return r
}

// AddUser registers account directly, bypassing sign up endpoint
func (s *Server) AddUser(username string, email string, password string) models.User {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, hash)
}

func (s *Server) addUserLocked(username string, email string, hash string) models.User {
	s.nextID++
	u := models.User{
		ID:       s.nextID,
		Username: username,
		Nickname: username,
		Email:    email,
		IsActive: true,
		Accounts: []models.Account{{ID: s.nextID, Provider: "email", Email: email}},
	}
	s.accounts[strings.ToLower(email)] = &account{user: u, hashedPassword: hash}
	return u
}

// AddOAuthCode makes code exchangeable once for the account with email
func (s *Server) AddOAuthCode(code string, email string) {
	s.mu.Lock()
	s.oauthCodes[code] = strings.ToLower(email)
	s.mu.Unlock()
}

// Count returns how many requests hit the path
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

// RevokeAccess invalidates every issued access token, as if they all expired
func (s *Server) RevokeAccess() { s.tokens.RevokeAccess() }

// RevokeRefresh forgets every refresh token, so next refresh is rejected
func (s *Server) RevokeRefresh() { s.tokens.RevokeRefresh() }

// SetRefreshHook runs fn before every refresh is handled. Nil removes the hook
func (s *Server) SetRefreshHook(fn func()) {
	s.mu.Lock()
	s.refreshHook = fn
	s.mu.Unlock()
}

// FailRefresh makes refresh answer with status. Zero restores normal behavior
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	s.refreshFail = status
	s.mu.Unlock()
}

// FailLogout makes logout answer with status and keep refresh credential alive. Zero restores normal behavior
func (s *Server) FailLogout(status int) {
	s.mu.Lock()
	s.logoutFail = status
	s.mu.Unlock()
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type userIDKey struct{}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey{}).(int64)
	return id
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || access == "" {
			detail(w, "Not authenticated", http.StatusUnauthorized)
			return
		}

		userID, err := s.tokens.ParseAccess(access)
		if err != nil {
			detail(w, "Token expired or invalid", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	}
}

func (s *Server) userByID(id int64) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.ID == id {
			return a.user, true
		}
	}
	return models.User{}, false
}

// Issue token pair for the user: access in body, refresh in cookie
func (s *Server) issue(w http.ResponseWriter, u models.User) (string, bool) {
	access, err := s.tokens.GenerateAccess(u.ID)
	if err != nil {
		detail(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}
	refresh, expiresAt, err := s.tokens.GenerateRefresh(u.ID)
	if err != nil {
		detail(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/auth",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return access, true
}

type credentialsResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *models.User `json:"user,omitempty"`
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		detail(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(in.Email)]
	s.mu.Unlock()
	if !ok || s.hasher.Compare(acc.hashedPassword, in.Password) != nil {
		detail(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	access, ok := s.issue(w, acc.user)
	if !ok {
		return
	}
	render.JSON(w, credentialsResponse{AccessToken: access, TokenType: "bearer", User: &acc.user})
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		detail(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		detail(w, "Can't use this as password", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[strings.ToLower(in.Email)]; exists {
		s.mu.Unlock()
		detail(w, "User with this email already exists", http.StatusBadRequest)
		return
	}
	u := s.addUserLocked(in.Username, in.Email, hash)
	s.mu.Unlock()

	render.JSONWithStatus(w, map[string]int64{"id": u.ID}, http.StatusCreated)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hook, fail := s.refreshHook, s.refreshFail
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail != 0 {
		detail(w, http.StatusText(fail), fail)
		return
	}

	cookie, err := r.Cookie(RefreshCookie)
	if err != nil {
		detail(w, "Refresh token missing", http.StatusUnauthorized)
		return
	}

	userID, err := s.tokens.UseRefresh(cookie.Value)
	if err != nil {
		detail(w, "Refresh token expired or invalid", http.StatusUnauthorized)
		return
	}

	u, ok := s.userByID(userID)
	if !ok {
		detail(w, "User not found", http.StatusUnauthorized)
		return
	}

	access, ok := s.issue(w, u)
	if !ok {
		return
	}
	render.JSON(w, credentialsResponse{AccessToken: access, TokenType: "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userByID(userIDFrom(r))
	if !ok {
		detail(w, "User not found", http.StatusUnauthorized)
		return
	}
	render.JSON(w, u)
}

// Logout burns current refresh token (if any) and deletes cookie
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.logoutFail
	s.mu.Unlock()
	if fail != 0 {
		detail(w, "Logout unavailable", fail)
		return
	}

	if cookie, err := r.Cookie(RefreshCookie); err == nil {
		_, _ = s.tokens.UseRefresh(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: "", Path: "/auth", MaxAge: -1, HttpOnly: true})
	render.JSON(w, map[string]string{"detail": "Signed out"})
}

func (s *Server) oauthLogin(w http.ResponseWriter, r *http.Request) {
	q := url.Values{
		"client_id":     {"fake-client"},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
	}
	render.JSON(w, map[string]string{"auth_url": s.server.URL + "/provider/authorize?" + q.Encode()})
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")

	s.mu.Lock()
	email, ok := s.oauthCodes[code]
	delete(s.oauthCodes, code)
	var acc *account
	if ok {
		acc = s.accounts[email]
	}
	s.mu.Unlock()

	if acc == nil {
		detail(w, "Invalid authorization code", http.StatusBadRequest)
		return
	}

	access, ok := s.issue(w, acc.user)
	if !ok {
		return
	}

	if s.cfg.BareUserExchange {
		render.JSON(w, acc.user)
		return
	}
	render.JSON(w, credentialsResponse{AccessToken: access, TokenType: "bearer", User: &acc.user})
}

// Protected resource: echoes what was asked for
func (s *Server) boards(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.RawQuery,
		"user":   userIDFrom(r),
	})
}

func detail(w http.ResponseWriter, msg string, code int) {
	render.JSONWithStatus(w, map[string]string{"detail": msg}, code)
}
