package fakegateway

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errTokenRevoked  = errors.New("token revoked")
	errRefreshUsed   = errors.New("refresh token already used")
	errRefreshGone   = errors.New("refresh token not found")
	errRefreshExpire = errors.New("refresh token expired")
)

type accessClaims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`

	// Tokens of older generations are rejected, see tokenManager.RevokeAccess
	Generation int64 `json:"gen"`
}

type refreshRecord struct {
	userID    int64
	expiresAt time.Time
	used      bool
}

// Issues signed access tokens and single use refresh tokens
type tokenManager struct {
	key        []byte
	alg        jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu         sync.Mutex
	generation int64
	refresh    map[string]*refreshRecord
}

func newTokenManager(key string, accessTTL time.Duration, refreshTTL time.Duration) *tokenManager {
	return &tokenManager{
		key:        []byte(key),
		alg:        jwt.SigningMethodHS256,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		refresh:    make(map[string]*refreshRecord),
	}
}

func (m *tokenManager) GenerateAccess(userID int64) (string, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	now := time.Now().Truncate(time.Second)
	token := jwt.NewWithClaims(m.alg, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
		UserID:     userID,
		Generation: gen,
	})

	access, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}
	return access, nil
}

// Parse and validate access token
func (m *tokenManager) ParseAccess(access string) (int64, error) {
	claims := &accessClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return 0, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if claims.Generation != m.generation {
		return 0, errTokenRevoked
	}

	return claims.UserID, nil
}

// Generate random refresh token 16 bytes length
func (m *tokenManager) GenerateRefresh(userID int64) (string, time.Time, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	token := hex.EncodeToString(b)
	expiresAt := time.Now().Add(m.refreshTTL)

	m.mu.Lock()
	m.refresh[token] = &refreshRecord{userID: userID, expiresAt: expiresAt}
	m.mu.Unlock()

	return token, expiresAt, nil
}

// Use token: return owner if it valid and mark as used
func (m *tokenManager) UseRefresh(token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.refresh[token]
	switch {
	case !ok:
		return 0, errRefreshGone
	case rec.used:
		return 0, errRefreshUsed
	case rec.expiresAt.Before(time.Now()):
		return 0, errRefreshExpire
	}

	rec.used = true
	return rec.userID, nil
}

// Every access token issued so far becomes invalid
func (m *tokenManager) RevokeAccess() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
}

func (m *tokenManager) RevokeRefresh() {
	m.mu.Lock()
	clear(m.refresh)
	m.mu.Unlock()
}
