package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/config"
	"github.com/vovakirdan/eventchat/internal/devserver"
	"github.com/vovakirdan/eventchat/internal/store"
	"github.com/vovakirdan/eventchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/eventchat/internal/transport/http"
)

const tokenTTL = 24 * time.Hour

// App wires the development backend: store, hub and HTTP server.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *devserver.Hub
	store           store.Store
	auth            *auth.Service
	seedDemo        bool
	log             *zerolog.Logger
}

// New opens the database and builds the server. Nothing listens until Run.
func New(cfg config.ServerConfig, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    tokenTTL,
	})
	hub := devserver.NewHub(st, cfg.HistoryPageSize, logger)

	return &App{
		server:          transporthttp.NewServer(hub, authService, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		auth:            authService,
		seedDemo:        cfg.SeedDemo,
		log:             logger,
	}, nil
}

// Run migrates the schema, seeds demo data when enabled and serves until ctx
// is cancelled or the server fails. The store is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	if a.seedDemo {
		demo, err := devserver.SeedDemo(ctx, a.store, a.auth, a.log)
		if err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
		if demo != nil {
			a.log.Info().
				Int64("event_id", demo.EventID).
				Str("password", devserver.DemoPassword).
				Msg("demo accounts ready")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	// websocket handlers outlive Shutdown; tie their contexts to the app
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
		return
	}
	a.log.Info().Msg("store closed")
}
