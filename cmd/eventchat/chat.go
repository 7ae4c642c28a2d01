package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/config"
	"github.com/vovakirdan/eventchat/internal/log"
	"github.com/vovakirdan/eventchat/internal/session"
	"github.com/vovakirdan/eventchat/internal/transport/rest"
	"github.com/vovakirdan/eventchat/internal/transport/ws"
	"github.com/vovakirdan/eventchat/internal/tui"
)

// hintNavigator records where the user should go next. The hint is printed
// once the screen has closed.
type hintNavigator struct {
	hint string
}

func (n *hintNavigator) ToLogin() { n.hint = "sign in with `eventchat login` and pass the token via --token" }
func (n *hintNavigator) Back()    { n.hint = "choose an event with --event" }

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		eventID  string
		token    string
		apiBase  string
		realtime string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat of an event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nop := zerolog.Nop()
			cfg, err := opts.load(&nop, config.Config{Client: config.ClientConfig{
				APIBase:     apiBase,
				RealtimeURL: realtime,
				Token:       token,
			}})
			if err != nil {
				return err
			}

			// the screen owns the terminal, so logs go to a file
			logger, closer, err := log.NewFile(cfg.LogLevel, cfg.Client.LogFile)
			if err != nil {
				return err
			}
			defer closer.Close()

			var provider auth.Provider
			me := ""
			if p, err := auth.FromToken(cfg.Client.Token); err != nil {
				logger.Warn().Err(err).Msg("no usable token")
			} else {
				provider = p
				if u, ok := p.CurrentUser(); ok {
					me = u.Username
				}
			}

			nav := &hintNavigator{}
			ctrl, err := session.New(session.Options{
				Auth:      provider,
				Navigator: nav,
				History:   rest.NewClient(cfg.Client.APIBase, cfg.Client.HTTPTimeout, logger),
				Transports: session.WebSocketTransports(ws.Config{
					URLTemplate:    cfg.Client.RealtimeURL,
					ConnectTimeout: cfg.Client.ConnectTimeout,
				}, logger),
				Logger:      logger,
				DedupWindow: cfg.Client.DedupWindow,
				Reconnect: session.ReconnectPolicy{
					Initial: cfg.Client.Reconnect.Initial,
					Max:     cfg.Client.Reconnect.Max,
					Retries: cfg.Client.Reconnect.Retries,
				},
			})
			if err != nil {
				return err
			}
			defer ctrl.Deactivate()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			program := tea.NewProgram(tui.New(ctx, ctrl, eventID, me), tea.WithAltScreen(), tea.WithContext(ctx))
			final, err := program.Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("run chat screen: %w", err)
			}

			if m, ok := final.(tui.Model); ok && m.Err() != nil {
				if nav.hint != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), nav.hint)
				}
				return m.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&eventID, "event", "e", "", "event id")
	cmd.Flags().StringVar(&token, "token", "", "auth token (or client.token / EVENTCHAT_CLIENT_TOKEN)")
	cmd.Flags().StringVar(&apiBase, "api", "", "REST base URL")
	cmd.Flags().StringVar(&realtime, "ws", "", "realtime URL template containing {eventId}")
	return cmd
}
