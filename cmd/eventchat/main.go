package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/eventchat/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "eventchat",
		Short:         "Terminal chat for ticketed events, with a local development backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newLoginCmd(opts))
	return root
}

// load reads the config file and env, then applies the persistent flags.
func (o *rootOptions) load(logger *zerolog.Logger, overrides config.Config) (config.Config, error) {
	cfg, path, err := config.Load(logger, o.configPath)
	if err != nil {
		return cfg, err
	}
	overrides.LogLevel = o.logLevel
	cfg.UpdateFrom(overrides)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, nil
}
