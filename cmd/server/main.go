package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirelobby-server/internal/app"
	"github.com/vovakirdan/wirelobby-server/internal/config"
	"github.com/vovakirdan/wirelobby-server/internal/log"
)

type rootOptions struct {
	configPath string
	addr       string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "wirelobby-server",
		Short:         "Multiplayer lobby and game relay server",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the YAML config file (created with defaults if missing)")
	flags.StringVar(&opts.addr, "addr", "", "listen address, overrides the config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newBanCmd(opts))
	return cmd
}

// loadConfig resolves the configuration the same way for every subcommand.
func loadConfig(opts *rootOptions) (config.Config, string, *zerolog.Logger, error) {
	bootstrap := log.New("info", "console")
	cfg, path, err := config.Load(bootstrap, opts.configPath)
	if err != nil {
		return cfg, path, bootstrap, err
	}
	cfg.UpdateFrom(config.Config{Addr: opts.addr, LogLevel: opts.logLevel})
	return cfg, path, log.New(cfg.LogLevel, cfg.LogFormat), nil
}

func runServer(ctx context.Context, opts *rootOptions) error {
	cfg, path, logger, err := loadConfig(opts)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Str("config", path).Msg("starting wirelobby server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
