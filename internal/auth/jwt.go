// Package auth issues and verifies session tokens, hashes passwords and
// resolves HTTP requests to the signed-in user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

const defaultKid = "default"

// TokenManager signs and validates the HS256 session tokens. Several keys
// may be loaded at once so tokens issued before a rotation keep verifying;
// new tokens are always signed with the active kid.
type TokenManager struct {
	keys      map[string][]byte
	activeKid string
	duration  time.Duration
	now       func() time.Time
}

// Claims is the session token payload. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// NewTokenManager returns a manager with a single signing secret.
// An empty secret is apperr.ErrMisconfigured: the caller must refuse to start
// rather than hand out tokens nobody can verify.
func NewTokenManager(secret string, duration time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("session signing secret: %w", apperr.ErrMisconfigured)
	}
	return NewTokenManagerFromKeys(map[string]string{defaultKid: secret}, defaultKid, duration)
}

// NewTokenManagerFromKeys returns a manager holding kid -> secret pairs.
// activeKid may be empty when exactly one key is supplied.
func NewTokenManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) (*TokenManager, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("session signing keys: %w", apperr.ErrMisconfigured)
	}

	m := &TokenManager{
		keys:      make(map[string][]byte, len(keys)),
		activeKid: activeKid,
		duration:  duration,
		now:       time.Now,
	}
	for kid, secret := range keys {
		if secret == "" {
			return nil, fmt.Errorf("empty secret for kid %q: %w", kid, apperr.ErrMisconfigured)
		}
		m.keys[kid] = []byte(secret)
		if activeKid == "" && len(keys) == 1 {
			m.activeKid = kid
		}
	}
	if _, ok := m.keys[m.activeKid]; !ok {
		return nil, fmt.Errorf("active kid %q has no key: %w", activeKid, apperr.ErrMisconfigured)
	}
	return m, nil
}

// Duration is the validity window of issued tokens.
func (m *TokenManager) Duration() time.Duration {
	return m.duration
}

// GenerateToken issues a signed token for userID and returns its expiry.
func (m *TokenManager) GenerateToken(userID string) (string, time.Time, error) {
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.duration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKid

	signed, err := token.SignedString(m.keys[m.activeKid])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken checks signature, algorithm and expiry and returns the claims.
func (m *TokenManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// keyFunc picks the verification key by the kid header, falling back to the
// active key for tokens issued without one.
func (m *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = m.activeKid
	}
	key, ok := m.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}
