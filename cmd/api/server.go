package main

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PaulBabatuyi/amana-chat/internal/auth"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/middleware"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	users    data.UserStore
	msgs     data.MessageStore
	sessions *auth.SessionManager
	issuer   *realtime.Issuer
	broker   http.Handler
	limiter  *middleware.LimiterStore

	serviceName    string
	isShuttingDown atomic.Bool
}

// newServer returns a ready-to-use Server wired with stores, sessions and the
// realtime broker.
func newServer(
	users data.UserStore,
	msgs data.MessageStore,
	sessions *auth.SessionManager,
	issuer *realtime.Issuer,
	broker http.Handler,
	limiter *middleware.LimiterStore,
	serviceName string,
) *Server {
	return &Server{
		users:       users,
		msgs:        msgs,
		sessions:    sessions,
		issuer:      issuer,
		broker:      broker,
		limiter:     limiter,
		serviceName: serviceName,
	}
}

// routes builds the gin engine.
func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TracingMiddleware(s.serviceName))
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.PrometheusMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 503 once shutdown has started so load balancers drain us first
	r.GET("/ready", func(c *gin.Context) {
		if s.isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", middleware.RateLimit(s.limiter), s.Register)
		authGroup.POST("/login", middleware.RateLimit(s.limiter), s.Login)
		authGroup.POST("/logout", s.Logout)
		authGroup.GET("/me", s.Me)
	}

	protected := r.Group("/", s.requireSession())
	{
		protected.GET("/messages", s.ListMessages)
		protected.POST("/messages", s.PostMessage)
		protected.GET("/realtime-auth", s.RealtimeAuth)
	}

	r.GET("/realtime", gin.WrapH(s.broker))

	return r
}
