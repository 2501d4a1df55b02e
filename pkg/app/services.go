// Package app assembles the fluxtools services from a config.Config: the
// hash and diff bridges with their worker transport, the client facades,
// and the tool catalog.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/catalog"
	"github.com/fluxorio/fluxtools/pkg/config"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/db"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/fluxorio/fluxtools/pkg/observability/prometheus"
	"github.com/fluxorio/fluxtools/pkg/worker"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// Services is everything the HTTP API, the gateway and the CLI call into.
type Services struct {
	Hash    *hash.Client
	Diff    *diff.Client
	Catalog *catalog.Catalog

	hashBridge *bridge.Bridge
	diffBridge *bridge.Bridge

	logger  core.Logger
	metrics *prometheus.Metrics
	embed   *natssrv.Server
	nc      *nats.Conn
	workers []*worker.NATSService
	pool    *db.Pool
	closers []func() error
}

// Option configures New.
type Option func(*settings)

type settings struct {
	logger  core.Logger
	metrics *prometheus.Metrics
	tracer  trace.Tracer
}

func WithLogger(l core.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics exports bridge and catalog database metrics to m.
func WithMetrics(m *prometheus.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// New builds the services described by cfg. Worker contexts start lazily
// on the first call; the embedded NATS server, in-process NATS workers and
// the catalog database are set up before New returns.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Services, error) {
	st := settings{logger: core.NewNopLogger()}
	for _, opt := range opts {
		opt(&st)
	}
	if st.logger == nil {
		st.logger = core.NewNopLogger()
	}

	s := &Services{logger: st.logger, metrics: st.metrics}
	if err := s.buildBridges(ctx, cfg, st); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.buildCatalog(ctx, cfg.Catalog); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Bridges returns the hash and diff bridges.
func (s *Services) Bridges() []*bridge.Bridge {
	return []*bridge.Bridge{s.hashBridge, s.diffBridge}
}

// NATSURL returns the client URL of the embedded server, or "" when none
// was started.
func (s *Services) NATSURL() string {
	if s.embed == nil {
		return ""
	}
	return s.embed.ClientURL()
}

// Close stops the bridges first, so pending calls fail with unavailable,
// then the workers, the connection and the embedded server.
func (s *Services) Close() error {
	var errs []error
	for _, b := range s.Bridges() {
		if b != nil {
			errs = append(errs, b.Stop())
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Services) buildBridges(ctx context.Context, cfg config.Config, st settings) error {
	opts := cfg.Bridge.BridgeOptions()
	if st.metrics != nil {
		opts = append(opts, bridge.WithObserver(st.metrics))
	}
	if st.tracer != nil {
		opts = append(opts, bridge.WithTracer(st.tracer))
	}

	hashMux := worker.NewMux()
	hash.RegisterHandlers(hashMux, cfg.Hash)
	diffMux := worker.NewMux()
	diff.RegisterHandlers(diffMux, cfg.Diff)

	var hashFactory, diffFactory worker.Factory
	switch cfg.Transport.Mode {
	case config.TransportNATS:
		natsCfg, err := s.startNATS(ctx, cfg, hashMux, diffMux)
		if err != nil {
			return err
		}
		hashFactory = worker.NATSFactory(envelope.FamilyHash, natsCfg.WorkerConfig("hash", s.logger))
		diffFactory = worker.NATSFactory(envelope.FamilyDiff, natsCfg.WorkerConfig("diff", s.logger))
	default:
		hashFactory = worker.LocalFactory(hashMux, cfg.Bridge.LocalConfig("hash", s.logger))
		diffFactory = worker.LocalFactory(diffMux, cfg.Bridge.LocalConfig("diff", s.logger))
	}

	s.hashBridge = bridge.New(envelope.FamilyHash, hashFactory, append(opts, bridge.WithLogger(s.logger.With("component", "bridge")))...)
	s.diffBridge = bridge.New(envelope.FamilyDiff, diffFactory, append(opts, bridge.WithLogger(s.logger.With("component", "bridge")))...)
	s.Hash = hash.NewClient(s.hashBridge, cfg.Hash)
	s.Diff = diff.NewClient(s.diffBridge, cfg.Diff)

	s.logger.Info("bridges ready",
		"transport", cfg.Transport.Mode,
		"contexts", cfg.Bridge.Contexts,
		"call_timeout", cfg.Bridge.CallTimeout.String())
	return nil
}

// startNATS starts the embedded server and the in-process workers when
// asked to, and returns the NATS section with the URL to dial.
func (s *Services) startNATS(ctx context.Context, cfg config.Config, hashMux, diffMux *worker.Mux) (config.NATSConfig, error) {
	natsCfg := cfg.Transport.NATS

	if natsCfg.Embedded {
		srv, err := StartEmbeddedNATS(natsCfg.EmbeddedPort, 5*time.Second)
		if err != nil {
			return natsCfg, err
		}
		s.embed = srv
		s.closers = append(s.closers, func() error {
			srv.Shutdown()
			return nil
		})
		natsCfg.URL = srv.ClientURL()
		s.logger.Info("embedded nats server started", "url", natsCfg.URL)
	}

	if !natsCfg.ServeWorkers {
		return natsCfg, nil
	}

	nc, err := nats.Connect(natsCfg.URL, nats.Name("fluxtools-workers"))
	if err != nil {
		return natsCfg, core.NewError(core.CodeUnavailable, "connect %s: %v", natsCfg.URL, err)
	}
	s.nc = nc
	s.closers = append(s.closers, func() error {
		nc.Close()
		return nil
	})

	svcCfg := natsCfg.ServiceConfig(cfg.Bridge, s.logger)
	for _, w := range []struct {
		family envelope.Family
		mux    *worker.Mux
	}{
		{envelope.FamilyHash, hashMux},
		{envelope.FamilyDiff, diffMux},
	} {
		svc, err := worker.ServeNATS(context.WithoutCancel(ctx), nc, w.family, w.mux, svcCfg)
		if err != nil {
			return natsCfg, fmt.Errorf("serve %s workers: %w", w.family, err)
		}
		s.workers = append(s.workers, svc)
		s.closers = append(s.closers, svc.Close)
	}
	return natsCfg, nil
}

func (s *Services) buildCatalog(ctx context.Context, cfg config.CatalogConfig) error {
	s.Catalog = catalog.NewDefault()
	if cfg.DSN == "" {
		return nil
	}

	pool, err := db.NewPool(ctx, cfg.DBConfig())
	if err != nil {
		return fmt.Errorf("catalog database: %w", err)
	}
	s.pool = pool
	s.closers = append(s.closers, pool.Close)

	var storeOpts []catalog.StoreOption
	if s.metrics != nil {
		storeOpts = append(storeOpts, catalog.WithQueryRecorder(s.metrics))
	}
	store := catalog.NewSQLStore(pool, storeOpts...)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if cfg.Seed {
		if err := store.Sync(ctx, s.Catalog); err != nil {
			return err
		}
	}
	n, err := store.Load(ctx, s.Catalog)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.UpdateDatabasePool(pool.Stats())
	}
	s.logger.Info("catalog loaded", "driver", cfg.Driver, "stored", n, "entries", s.Catalog.Len())
	return nil
}

// RefreshPoolMetrics exports the catalog pool statistics, if any.
func (s *Services) RefreshPoolMetrics() {
	if s.pool != nil && s.metrics != nil {
		s.metrics.UpdateDatabasePool(s.pool.Stats())
	}
}

// StartEmbeddedNATS runs an in-process NATS server on port (-1 picks a
// free one) and waits until it accepts clients.
func StartEmbeddedNATS(port int, ready time.Duration) (*natssrv.Server, error) {
	srv, err := natssrv.NewServer(&natssrv.Options{Host: "127.0.0.1", Port: port, NoSigs: true})
	if err != nil {
		return nil, core.NewError(core.CodeUnavailable, "embedded nats: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(ready) {
		srv.Shutdown()
		return nil, core.NewError(core.CodeUnavailable, "embedded nats not ready after %s", ready)
	}
	return srv, nil
}
