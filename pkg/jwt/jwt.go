package jwt

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
	ErrEmptySecret  = errors.New("jwt secret must not be empty")
)

// Claims are the identity-provider claims the sync core relies on. The
// subject is the opaque user identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// Manager verifies identity tokens signed with a shared HMAC secret and
// tracks sign-outs. Issue exists for local tooling and tests.
type Manager struct {
	secret   []byte
	issuer   string
	lifetime time.Duration

	// user id -> revoked-until
	revoked map[string]time.Time
	mu      sync.RWMutex
	now     func() time.Time
}

// NewManager creates a Manager for tokens from issuer.
func NewManager(secret, issuer string, lifetime time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		lifetime: lifetime,
		revoked:  make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// Issue signs a token for userID.
func (m *Manager) Issue(userID, username string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.lifetime)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:   userID,
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateToken verifies signature, expiry, issuer and revocation.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(m.now)}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	if m.IsRevoked(claims.UserID) {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// RevokeUserTokens signs userID out: every token issued so far stops
// validating until it would have expired anyway.
func (m *Manager) RevokeUserTokens(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[userID] = m.now().Add(m.lifetime)
}

// IsRevoked reports whether userID is currently signed out.
func (m *Manager) IsRevoked(userID string) bool {
	m.mu.RLock()
	expiry, exists := m.revoked[userID]
	m.mu.RUnlock()
	return exists && m.now().Before(expiry)
}

// CleanupExpiredRevocations removes expired revocation entries.
func (m *Manager) CleanupExpiredRevocations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for userID, expiry := range m.revoked {
		if now.After(expiry) {
			delete(m.revoked, userID)
		}
	}
}
