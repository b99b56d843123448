package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/auth"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/middleware"
	"github.com/PaulBabatuyi/amana-chat/internal/validate"
)

const invalidCredentials = "Invalid email or password"

// respondError writes err as {"error": msg} with the status apperr assigns.
func respondError(c *gin.Context, err error) {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message})
	case errors.Is(err, apperr.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, apperr.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case errors.Is(err, apperr.ErrMisconfigured):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server misconfiguration"})
	case errors.Is(err, apperr.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
	default:
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": "Internal server error"})
	}
}

func startSpan(c *gin.Context, name string) (*zerolog.Logger, trace.Span) {
	ctx, span := middleware.StartSpan(c.Request.Context(), name, trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.FullPath()),
	))
	c.Request = c.Request.WithContext(ctx)
	return zerolog.Ctx(ctx), span
}

// issueSession signs a token for user and sets the cookie.
func (s *Server) issueSession(c *gin.Context, userID string) error {
	token, _, err := s.sessions.CreateSessionToken(userID)
	if err != nil {
		return err
	}
	s.sessions.ApplySessionCookie(c.Writer, token)
	return nil
}

// Register creates an account and signs the new user in.
func (s *Server) Register(c *gin.Context) {
	logger, span := startSpan(c, "auth.register")
	defer span.End()
	ctx := c.Request.Context()

	var req validate.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := validate.Register(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		respondError(c, err)
		return
	}
	span.SetAttributes(attribute.Bool("request.valid", true))

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}

	user, err := s.users.CreateUser(ctx, data.NewUser{Email: req.Email, Name: req.Name, PasswordHash: hash})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, apperr.ErrDuplicateEmail) {
			logger.Info().Msg("Registration with existing email")
		} else {
			logger.Error().Err(err).Msg("Create user failed")
		}
		respondError(c, err)
		return
	}

	if err := s.issueSession(c, user.ID); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to sign session")
		respondError(c, err)
		return
	}

	logger.Info().Str("user_id", user.ID).Msg("User registered")
	c.JSON(http.StatusCreated, gin.H{"user": user.Session()})
}

// Login verifies credentials and starts a session. Unknown email and wrong
// password produce the same response.
func (s *Server) Login(c *gin.Context) {
	logger, span := startSpan(c, "auth.login")
	defer span.End()
	ctx := c.Request.Context()

	var req validate.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := validate.Login(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		respondError(c, err)
		return
	}
	span.SetAttributes(attribute.Bool("request.valid", true))

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": invalidCredentials})
			return
		}
		span.RecordError(err)
		logger.Error().Err(err).Msg("User lookup failed")
		respondError(c, err)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		logger.Info().Str("user_id", user.ID).Msg("Login with wrong password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidCredentials})
		return
	}

	if err := s.issueSession(c, user.ID); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to sign session")
		respondError(c, err)
		return
	}

	logger.Info().Str("user_id", user.ID).Msg("Login successful")
	c.JSON(http.StatusOK, gin.H{"user": user.Session()})
}

// Logout clears the session cookie whether or not one was sent.
func (s *Server) Logout(c *gin.Context) {
	s.sessions.ClearSessionCookie(c.Writer)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns the signed-in user.
func (s *Server) Me(c *gin.Context) {
	logger, span := startSpan(c, "auth.me")
	defer span.End()

	user, err := s.sessions.GetSessionUser(c.Request.Context(), c.Request)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("Session lookup failed")
		respondError(c, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// parseLimit reads ?limit=; anything that is not an integer means the default.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return data.DefaultHistoryLimit
	}
	return data.ClampLimit(n)
}

// ListMessages returns recent history, oldest first.
func (s *Server) ListMessages(c *gin.Context) {
	logger, span := startSpan(c, "messages.list")
	defer span.End()

	limit := parseLimit(c.Query("limit"))
	span.SetAttributes(attribute.Int("messages.limit", limit))

	msgs, err := s.msgs.FetchRecentMessages(c.Request.Context(), limit)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("Fetch messages failed")
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*data.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage persists a chat message as the signed-in user.
func (s *Server) PostMessage(c *gin.Context) {
	logger, span := startSpan(c, "messages.create")
	defer span.End()

	user, ok := getUserFromContext(c)
	if !ok {
		respondError(c, apperr.ErrUnauthorized)
		return
	}

	var req validate.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := validate.Message(&req); err != nil {
		respondError(c, err)
		return
	}

	msg, err := s.msgs.SaveChatMessage(c.Request.Context(), data.NewMessage{
		UserID:   user.ID,
		Username: user.Name,
		Text:     req.Text,
	})
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("user_id", user.ID).Msg("Save message failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// RealtimeAuth issues a broker credential for the signed-in user.
func (s *Server) RealtimeAuth(c *gin.Context) {
	logger, span := startSpan(c, "realtime.auth")
	defer span.End()

	user, ok := getUserFromContext(c)
	if !ok {
		respondError(c, apperr.ErrUnauthorized)
		return
	}

	cred, err := s.issuer.IssueChannelAuth(user.ID, c.Query("clientId"))
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, apperr.ErrMisconfigured):
			logger.Error().Err(err).Bool("misconfigured", true).Msg("Realtime credential issuance unavailable")
		case errors.Is(err, apperr.ErrForbidden):
			logger.Warn().Str("user_id", user.ID).Str("client_id", c.Query("clientId")).Msg("Realtime credential for another identity refused")
		default:
			logger.Error().Err(err).Msg("Realtime credential issuance failed")
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cred)
}
