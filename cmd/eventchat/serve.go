package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/eventchat/internal/app"
	"github.com/vovakirdan/eventchat/internal/config"
	"github.com/vovakirdan/eventchat/internal/log"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
		noSeed bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend (login, history and realtime chat)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(log.New("info"), config.Config{
				Server: config.ServerConfig{Addr: addr, DatabasePath: dbPath},
			})
			if err != nil {
				return err
			}
			if noSeed {
				cfg.Server.SeedDemo = false
			}
			logger := log.New(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg.Server, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Server.Addr).Msg("starting eventchat dev server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "do not create the demo event and accounts")
	return cmd
}
