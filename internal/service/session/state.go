package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
	"github.com/nkiryanov/jumenclient/internal/event"
	"github.com/nkiryanov/jumenclient/internal/logger"
	"github.com/nkiryanov/jumenclient/internal/models"
	"github.com/nkiryanov/jumenclient/internal/store"
)

// Snapshot is a consistent copy of the session state
type Snapshot struct {
	User    *models.User `json:"user"`
	Loading bool         `json:"loading"`
}

// Credentials kept outside the store, like the gateway cookie jar
type Credentials interface {
	ForgetCredentials()
}

// State holds who is signed in and whether bootstrap is still running
// Safe for concurrent use
type State struct {
	mu      sync.RWMutex
	user    *models.User
	loading bool

	store  store.Store
	creds  Credentials
	bus    event.Bus
	logger logger.Logger
}

// NewState creates empty state. creds may be nil when nothing is held outside the store
func NewState(st store.Store, creds Credentials, bus event.Bus, l logger.Logger) *State {
	if bus == nil {
		bus = event.Discard{}
	}
	return &State{store: st, creds: creds, bus: bus, logger: l}
}

func (s *State) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *State) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{User: copyUser(s.user), Loading: s.loading}
}

func (s *State) setLoading(loading bool) {
	s.mu.Lock()
	changed := s.loading != loading
	s.loading = loading
	s.mu.Unlock()

	if changed {
		s.bus.Publish(event.New(event.TypeSessionLoading, loading))
	}
}

// Replace in-memory user only. Store is untouched
func (s *State) setUser(user *models.User) {
	s.mu.Lock()
	wasSignedIn := s.user != nil
	s.user = copyUser(user)
	s.mu.Unlock()

	switch {
	case !wasSignedIn && user != nil:
		s.bus.Publish(event.New(event.TypeSessionSignedIn, user.ID))
	case wasSignedIn && user == nil:
		s.bus.Publish(event.New(event.TypeSessionCleared, nil))
	}
}

// SetUser persists user snapshot and makes it current
func (s *State) SetUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("%w: user is nil", apperrors.ErrInvalidInput)
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.store.Set(ctx, store.KeyUserInfo, string(data)); err != nil {
		return fmt.Errorf("failed to persist user: %w", err)
	}

	s.setUser(user)
	return nil
}

// Clear removes all session data from memory, store and credentials holder
// Calling it on already cleared session is a no-op apart from store removals
func (s *State) Clear(ctx context.Context) error {
	if s.creds != nil {
		s.creds.ForgetCredentials()
	}

	var errs []error
	for _, key := range []string{store.KeyAccessToken, store.KeyUserInfo, store.KeyLegacyRefreshToken} {
		if err := s.store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %q: %w", key, err))
		}
	}

	s.setUser(nil)

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Session cleared partially", "error", err)
		return err
	}
	return nil
}

// Expire clears the session because gateway refused to extend it
func (s *State) Expire(ctx context.Context) error {
	err := s.Clear(ctx)
	s.bus.Publish(event.New(event.TypeSessionExpired, nil))
	s.logger.Info("Session expired, sign in required")
	return err
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	c.Accounts = slices.Clone(u.Accounts)
	return &c
}
