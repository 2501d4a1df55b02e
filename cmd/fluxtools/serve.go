package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxorio/fluxtools/pkg/app"
	"github.com/fluxorio/fluxtools/pkg/config"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/gateway"
	"github.com/fluxorio/fluxtools/pkg/observability/prometheus"
	"github.com/fluxorio/fluxtools/pkg/observability/tracing"
	"github.com/fluxorio/fluxtools/pkg/web"
	"github.com/fluxorio/fluxtools/pkg/web/middleware"
	"github.com/fluxorio/fluxtools/pkg/web/middleware/auth"
	"github.com/fluxorio/fluxtools/pkg/web/middleware/security"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	shutdownTimeout     = 30 * time.Second
	poolMetricsInterval = 15 * time.Second
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, gatewayAddr string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Serve the HTTP API and the WebSocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.loadWithLogger()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("gateway-addr") {
				cfg.Gateway.Addr = gatewayAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override server.addr")
	cmd.Flags().StringVar(&gatewayAddr, "gateway-addr", "", "override gateway.addr (empty disables the gateway)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger core.Logger) error {
	tracingCfg := cfg.Observability.Tracing
	provider, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    tracingCfg.ServiceName,
		ServiceVersion: version,
		Exporter:       tracingCfg.Exporter,
		Endpoint:       tracingCfg.ZipkinEndpoint,
		SampleRate:     tracingCfg.SampleRatio,
	})
	if err != nil {
		return err
	}
	tracer := provider.Tracer("github.com/fluxorio/fluxtools")

	var metrics *prometheus.Metrics
	if cfg.Observability.Metrics {
		metrics = prometheus.GetMetrics()
	}

	opts := []app.Option{app.WithLogger(logger), app.WithTracer(tracer)}
	if metrics != nil {
		opts = append(opts, app.WithMetrics(metrics))
	}
	svc, err := app.New(ctx, cfg, opts...)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return err
	}

	server := newHTTPServer(cfg, svc, logger, metrics, tracer)
	gw := newGateway(cfg, svc, logger, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	if gw != nil {
		g.Go(gw.ListenAndServe)
	}
	if metrics != nil {
		g.Go(func() error {
			t := time.NewTicker(poolMetricsInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					svc.RefreshPoolMetrics()
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if gw != nil {
			errs = append(errs, gw.Shutdown(sctx))
		}
		errs = append(errs, server.Shutdown(sctx))
		errs = append(errs, svc.Close())
		errs = append(errs, provider.Shutdown(sctx))
		return errors.Join(errs...)
	})

	logger.Info("fluxtools started",
		"version", version,
		"addr", cfg.Server.Addr,
		"gateway", cfg.Gateway.Addr,
		"transport", cfg.Transport.Mode)

	err = g.Wait()
	logger.Info("fluxtools stopped")
	return err
}

func newHTTPServer(cfg config.Config, svc *app.Services, logger core.Logger, metrics *prometheus.Metrics, tracer trace.Tracer) *web.Server {
	server := web.NewServer(web.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		MaxInFlight:  cfg.Server.MaxInFlight,
		Logger:       logger,
	})

	router := server.Router()
	router.Use(
		middleware.Recovery(middleware.RecoveryConfig{Logger: logger}),
		middleware.Logging(logger),
		security.Headers(security.DefaultHeadersConfig()),
	)
	if metrics != nil {
		router.Use(middleware.Metrics(metrics))
	}
	router.Use(middleware.Tracing(tracer))

	var apiMW []web.Middleware
	if cfg.Server.RequestTimeout > 0 {
		apiMW = append(apiMW, middleware.Timeout(cfg.Server.RequestTimeout))
	}
	if cfg.Server.RateLimitPerSecond > 0 {
		apiMW = append(apiMW, security.RateLimit(security.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitPerSecond,
			Burst:             cfg.Server.RateLimitBurst,
		}))
	}
	if cfg.Auth.Enabled {
		jwtCfg := auth.DefaultJWTConfig(cfg.Auth.Secret)
		jwtCfg.Issuer = cfg.Auth.Issuer
		apiMW = append(apiMW, auth.JWT(jwtCfg))
	}

	api := &web.API{
		Hash:    svc.Hash,
		Diff:    svc.Diff,
		Catalog: svc.Catalog,
		Bridges: svc.Bridges(),
	}
	if metrics != nil {
		api.Metrics = prometheus.Handler(prometheus.DefaultRegistry)
	}
	api.Register(router, apiMW...)
	return server
}

func newGateway(cfg config.Config, svc *app.Services, logger core.Logger, metrics *prometheus.Metrics) *gateway.Gateway {
	if cfg.Gateway.Addr == "" {
		return nil
	}
	gwCfg := gateway.DefaultConfig(cfg.Gateway.Addr)
	gwCfg.Path = cfg.Gateway.Path
	gwCfg.RatePerSecond = cfg.Gateway.RatePerSecond
	gwCfg.Burst = cfg.Gateway.Burst
	gwCfg.MaxFrameBytes = cfg.Gateway.MaxFrameBytes
	gwCfg.Logger = logger
	if metrics != nil {
		gwCfg.Recorder = metrics
	}
	if cfg.Auth.Enabled {
		jwtCfg := auth.DefaultJWTConfig(cfg.Auth.Secret)
		jwtCfg.Issuer = cfg.Auth.Issuer
		gwCfg.Verifier = auth.NewVerifier(jwtCfg)
	}
	return gateway.New(gwCfg, svc.Hash, svc.Diff)
}
