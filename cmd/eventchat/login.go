package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/eventchat/internal/config"
	"github.com/vovakirdan/eventchat/internal/log"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		username string
		password string
		apiBase  string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print a token for the chat command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New("warn")
			cfg, err := opts.load(logger, config.Config{Client: config.ClientConfig{APIBase: apiBase}})
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("EVENTCHAT_PASSWORD")
			}

			client := rest.NewClient(cfg.Client.APIBase, cfg.Client.HTTPTimeout, logger)
			res, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "signed in as %s (%s), id %s\n", res.User.Username, res.User.Role, res.User.ID)
			fmt.Fprintln(cmd.OutOrStdout(), res.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (or EVENTCHAT_PASSWORD)")
	cmd.Flags().StringVar(&apiBase, "api", "", "REST base URL")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
