package main

import (
	"os"

	"github.com/fluxorio/fluxtools/pkg/config"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/spf13/cobra"
)

// configEnv names the config file when --config is not given.
const configEnv = config.EnvPrefix + "_CONFIG"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fluxtools",
		Short: "Developer tools API with background task dispatch",
		Long: `fluxtools serves hashing, diffing and a tool catalog over HTTP and
WebSocket. Hash and diff computations run on worker contexts, in process or
on remote workers reached through NATS.

Configuration is read from --config (or ` + configEnv + `), then
overridden by ` + config.EnvPrefix + `_<SECTION>_<FIELD> environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml or .json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newHashCmd(opts),
		newDiffCmd(opts),
		newTokenCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// load reads the configuration and applies the flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func (o *rootOptions) loadWithLogger() (config.Config, core.Logger, error) {
	cfg, err := o.load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
