package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/amana-chat/internal/data"
)

// gin context key for the resolved session user
const sessionUserKey = "session_user"

// getUserFromContext returns the user attached by requireSession.
func getUserFromContext(c *gin.Context) (*data.SessionUser, bool) {
	v, ok := c.Get(sessionUserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*data.SessionUser)
	return u, ok && u != nil
}

// requireSession rejects requests without a valid session cookie and attaches
// the user for the handlers behind it.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		user, err := s.sessions.GetSessionUser(ctx, c.Request)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Session lookup failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(sessionUserKey, user)
		c.Next()
	}
}
