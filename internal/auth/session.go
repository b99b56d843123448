package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/middleware"
)

const (
	// SessionCookieName carries the signed session token.
	SessionCookieName = "amana_session"
	// SessionMaxAge is both the token lifetime and the cookie Max-Age.
	SessionMaxAge = 7 * 24 * time.Hour
)

// SessionManager resolves requests to users via the session cookie.
type SessionManager struct {
	tokens *TokenManager
	users  data.UserStore
	secure bool
}

// NewSessionManager wires token verification to the user store. secure marks
// cookies Secure and should be set in production.
func NewSessionManager(tokens *TokenManager, users data.UserStore, secure bool) *SessionManager {
	return &SessionManager{tokens: tokens, users: users, secure: secure}
}

// CreateSessionToken signs a token for userID valid for the token manager's
// duration.
func (s *SessionManager) CreateSessionToken(userID string) (string, time.Time, error) {
	return s.tokens.GenerateToken(userID)
}

// ApplySessionCookie sets the session cookie on the response.
func (s *SessionManager) ApplySessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionMaxAge / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie. Safe to call without a session.
func (s *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetSessionUser returns the signed-in user or nil. A missing, forged, expired
// or orphaned session is nil without error; only store failures are returned.
// A successful lookup refreshes the user's activity timestamp.
func (s *SessionManager) GetSessionUser(ctx context.Context, r *http.Request) (*data.SessionUser, error) {
	ctx, span := middleware.StartSpan(ctx, "session.resolve")
	defer span.End()

	logger := zerolog.Ctx(ctx)

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		span.SetAttributes(attribute.Bool("session.present", false))
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("session.present", true))

	claims, err := s.tokens.VerifyToken(cookie.Value)
	if err != nil {
		span.SetAttributes(attribute.Bool("session.valid", false))
		logger.Debug().Err(err).Msg("Rejected session token")
		return nil, nil
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		span.SetAttributes(attribute.Bool("session.valid", false))
		logger.Debug().Str("user_id", claims.Subject).Msg("Session user no longer exists")
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve session user: %w", err)
	}
	span.SetAttributes(attribute.Bool("session.valid", true), attribute.String("user_id", user.ID))

	if err := s.users.UpdateUserTimestamp(ctx, user.ID); err != nil {
		logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to refresh user activity timestamp")
	}

	return user.Session(), nil
}

// RequireSessionUser is GetSessionUser with a missing session reported as
// apperr.ErrUnauthorized.
func (s *SessionManager) RequireSessionUser(ctx context.Context, r *http.Request) (*data.SessionUser, error) {
	user, err := s.GetSessionUser(ctx, r)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.ErrUnauthorized
	}
	return user, nil
}
