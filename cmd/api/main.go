package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/auth"
	"github.com/PaulBabatuyi/amana-chat/internal/config"
	"github.com/PaulBabatuyi/amana-chat/internal/middleware"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Service.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	// handlers fall back to the global logger outside a request
	zerolog.DefaultContextLogger = &log.Logger
}

func newTokenManager(cfg *config.Config) (*auth.TokenManager, error) {
	if len(cfg.Auth.Keys) > 0 {
		return auth.NewTokenManagerFromKeys(cfg.Auth.Keys, cfg.Auth.ActiveKid, auth.SessionMaxAge)
	}
	return auth.NewTokenManager(cfg.Auth.Secret, auth.SessionMaxAge)
}

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Bool("misconfigured", errors.Is(err, apperr.ErrMisconfigured)).Msg("Configuration validation failed")
	}

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("port", cfg.Service.Port).
		Str("store", cfg.Store.Driver).
		Msg("Service starting")

	if cfg.Service.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	var tp interface{ Shutdown(context.Context) error }
	if cfg.Tracing.Enabled {
		p, err := middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			tp = p
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().Str("endpoint", cfg.Profiling.Endpoint).Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	}

	tokens, err := newTokenManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Bool("misconfigured", true).Msg("Session signing is not configured")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openBackend(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store ready")

	if cfg.Realtime.APIKey == "" {
		// the server still starts; credential requests fail with 500
		log.Error().Bool("misconfigured", true).Msg("REALTIME_API_KEY is not set")
	}
	issuer := realtime.NewIssuer(cfg.Realtime.APIKey, cfg.Realtime.Channel)
	hub := realtime.NewHub()
	broker := realtime.NewServer(hub, issuer, log.With().Str("component", "realtime").Logger())

	sessions := auth.NewSessionManager(tokens, store.users, cfg.IsProduction())

	limiter := middleware.NewLimiterStore(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, time.Minute)
	defer limiter.Stop()

	app := newServer(store.users, store.msgs, sessions, issuer, broker, limiter, cfg.Service.Name)

	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminSrv, healthSrv, err := newAdminServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build gRPC admin server")
	}
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.GRPC.Port).Msg("Failed to listen for gRPC")
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go watchHealth(healthCtx, healthSrv, store.pinger, cfg.Service.Name)

	go func() {
		log.Info().Str("port", cfg.GRPC.Port).Msg("Starting gRPC admin server")
		if err := adminSrv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC admin server exited")
		}
	}()

	go func() {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	// fail readiness first and give load balancers time to notice
	app.isShuttingDown.Store(true)
	stopHealth()
	healthSrv.Shutdown()
	if drain := cfg.GetReadinessDrainDelayDuration(); drain > 0 {
		log.Info().Dur("delay", drain).Msg("Readiness drain delay started")
		time.Sleep(drain)
	}

	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")

	// 1. HTTP (websocket peers are hijacked and not tracked by Shutdown)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		log.Info().Msg("HTTP server shutdown complete")
	}
	adminSrv.GracefulStop()

	// 2. Store
	if err := store.close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Store close error")
	} else {
		log.Info().Msg("Store closed")
	}

	// 3. Tracer
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown error")
		} else {
			log.Info().Msg("Tracer shutdown complete")
		}
	}

	log.Info().Msg("Graceful shutdown complete")
}
