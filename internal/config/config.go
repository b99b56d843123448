// Package config loads server configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
)

// Store drivers.
const (
	DriverMongo    = "mongo"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Store     StoreConfig
	Auth      AuthConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Shutdown  ShutdownConfig
	GRPC      GRPCConfig
}

type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

type LoggingConfig struct {
	Level string
}

type StoreConfig struct {
	Driver      string
	MongoURI    string
	MongoDB     string
	SQLitePath  string
	DatabaseURL string
}

// AuthConfig holds the session signing material. Either Secret or Keys must be
// set; Keys (kid -> secret) enables rotation with ActiveKid used for new tokens.
type AuthConfig struct {
	Secret    string
	Keys      map[string]string
	ActiveKid string
}

type RealtimeConfig struct {
	APIKey  string
	Channel string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

type GRPCConfig struct {
	Port       string
	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// Load reads a .env file if one exists and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "amana-chat"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("APP_ENV", "development"),
			Port:    getEnv("PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", DriverMongo)),
			MongoURI:    os.Getenv("MONGODB_URI"),
			MongoDB:     os.Getenv("MONGODB_DB"),
			SQLitePath:  getEnv("SQLITE_PATH", "./data/amana.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Auth: AuthConfig{
			Secret:    os.Getenv("AUTH_SECRET"),
			Keys:      parseKeys(os.Getenv("AUTH_KEYS")),
			ActiveKid: os.Getenv("AUTH_ACTIVE_KID"),
		},
		Realtime: RealtimeConfig{
			APIKey:  os.Getenv("REALTIME_API_KEY"),
			Channel: getEnv("REALTIME_CHANNEL", "global-chat"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_RPM", 10),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 3),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_ENDPOINT", "http://localhost:4040"),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", "10s"),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "0s"),
		},
		GRPC: GRPCConfig{
			Port:       getEnv("GRPC_PORT", "50051"),
			TLSCert:    os.Getenv("TLS_CERT"),
			TLSKey:     os.Getenv("TLS_KEY"),
			RequireTLS: getEnvBool("REQUIRE_TLS", false),
		},
	}
}

// Validate fails on settings the server cannot start without. A missing
// session secret is reported as apperr.ErrMisconfigured.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}

	if c.Auth.Secret == "" && len(c.Auth.Keys) == 0 {
		errs = append(errs, fmt.Errorf("AUTH_SECRET or AUTH_KEYS must be set: %w", apperr.ErrMisconfigured))
	}
	if len(c.Auth.Keys) > 0 && c.Auth.ActiveKid != "" {
		if _, ok := c.Auth.Keys[c.Auth.ActiveKid]; !ok {
			errs = append(errs, fmt.Errorf("AUTH_ACTIVE_KID %q not present in AUTH_KEYS: %w", c.Auth.ActiveKid, apperr.ErrMisconfigured))
		}
	}

	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI must be set"))
		}
		if c.Store.MongoDB == "" {
			errs = append(errs, errors.New("MONGODB_DB must be set"))
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set"))
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACING_SAMPLE_RATE must be within [0,1], got %v", c.Tracing.SampleRate))
	}
	if _, err := time.ParseDuration(c.Shutdown.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err))
	}
	if _, err := time.ParseDuration(c.Shutdown.ReadinessDrainDelay); err != nil {
		errs = append(errs, fmt.Errorf("READINESS_DRAIN_DELAY: %w", err))
	}
	if c.GRPC.RequireTLS && (c.GRPC.TLSCert == "" || c.GRPC.TLSKey == "") {
		errs = append(errs, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Service.Env == "production"
}

// GetShutdownTimeoutDuration returns the HTTP shutdown timeout.
func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Shutdown.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetReadinessDrainDelayDuration returns how long /ready reports 503 before
// the HTTP server stops accepting connections.
func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.Shutdown.ReadinessDrainDelay)
	if err != nil {
		return 0
	}
	return d
}

// parseKeys parses "kid:secret,kid2:secret2". Malformed entries are skipped.
func parseKeys(v string) map[string]string {
	keys := map[string]string{}
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			continue
		}
		keys[kid] = secret
	}
	return keys
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
