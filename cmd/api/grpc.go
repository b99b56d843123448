package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/PaulBabatuyi/amana-chat/internal/config"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
)

const healthProbeInterval = 10 * time.Second

// newAdminServer builds the gRPC admin server: the standard health service
// and server reflection. TLS is used when a certificate is configured.
func newAdminServer(cfg *config.Config) (*grpc.Server, *health.Server, error) {
	var opts []grpc.ServerOption
	if cfg.GRPC.TLSCert != "" && cfg.GRPC.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.TLSCert, cfg.GRPC.TLSKey)
		if err != nil {
			return nil, nil, fmt.Errorf("load TLS certs: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs, nil
}

// watchHealth mirrors the store's ping into the health service until ctx ends.
func watchHealth(ctx context.Context, hs *health.Server, pinger data.Pinger, service string) {
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err := pinger.Ping(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			log.Warn().Err(err).Msg("Storage ping failed")
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(service, status)
	}

	probe()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-ctx.Done():
			return
		}
	}
}
