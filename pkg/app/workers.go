package app

import (
	"context"
	"errors"

	"github.com/fluxorio/fluxtools/pkg/config"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/fluxorio/fluxtools/pkg/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// RunWorkers serves the hash and diff families on the configured NATS
// server until ctx is done or a service stops on its own. A service that
// stops with an error fails the others.
func RunWorkers(ctx context.Context, cfg config.Config, logger core.Logger) error {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	natsCfg := cfg.Transport.NATS

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name("fluxtools-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}))
	if err != nil {
		return core.NewError(core.CodeUnavailable, "connect %s: %v", natsCfg.URL, err)
	}
	defer nc.Close()

	hashMux := worker.NewMux()
	hash.RegisterHandlers(hashMux, cfg.Hash)
	diffMux := worker.NewMux()
	diff.RegisterHandlers(diffMux, cfg.Diff)

	svcCfg := natsCfg.ServiceConfig(cfg.Bridge, logger)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range []struct {
		family envelope.Family
		mux    *worker.Mux
	}{
		{envelope.FamilyHash, hashMux},
		{envelope.FamilyDiff, diffMux},
	} {
		svc, err := worker.ServeNATS(gctx, nc, w.family, w.mux, svcCfg)
		if err != nil {
			return errors.Join(err, stopGroup(g))
		}
		g.Go(func() error {
			<-svc.Done()
			if err := svc.Err(); err != nil {
				return err
			}
			// A clean stop of one family ends the run for both.
			return errStopped
		})
	}

	logger.Info("workers serving", "url", nc.ConnectedUrl(), "prefix", svcCfg.Prefix)
	if err := g.Wait(); !errors.Is(err, errStopped) {
		return err
	}
	return nil
}

var errStopped = errors.New("worker service stopped")

// stopGroup stops the services already running in g.
func stopGroup(g *errgroup.Group) error {
	g.Go(func() error { return errStopped })
	if err := g.Wait(); !errors.Is(err, errStopped) {
		return err
	}
	return nil
}
