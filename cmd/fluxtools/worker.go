package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/fluxtools/pkg/app"
	"github.com/spf13/cobra"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve hash and diff requests published on NATS",
		Long: `worker subscribes to the hash and diff request subjects of
transport.nats.prefix and computes what serve instances in nats mode send.
Several workers share the load through NATS queue groups.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.loadWithLogger()
			if err != nil {
				return err
			}
			if url != "" {
				cfg.Transport.NATS.URL = url
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunWorkers(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", "", "override transport.nats.url")
	return cmd
}
