package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/config"
	"github.com/DoyleJ11/challenge-zone-backend/internal/httpapi"
	"github.com/DoyleJ11/challenge-zone-backend/internal/hub"
	"github.com/DoyleJ11/challenge-zone-backend/internal/identity"
	"github.com/DoyleJ11/challenge-zone-backend/internal/logging"
	"github.com/DoyleJ11/challenge-zone-backend/internal/pages"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/tab"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "challengezone",
		Short:        "Challenge zone party backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(configFile)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(configFile)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if cfg.MemoryStore() {
				return errors.New("migrate needs a postgres database.dsn")
			}
			db, err := store.Open(cfg.Database.DSN, log, cfg.Database.SlowQuery)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("schema migrated")
			return nil
		},
	})
	return root
}

func setup(configFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func openBackend(cfg config.Config, log *zap.Logger) (store.Backend, func() error, error) {
	if cfg.MemoryStore() {
		log.Warn("using in-memory store; data is lost on restart")
		return store.NewMemory(), func() error { return nil }, nil
	}
	db, err := store.Open(cfg.Database.DSN, log, cfg.Database.SlowQuery)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	backend, closeBackend, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend() //nolint:errcheck

	sessions := identity.NewSessions(cfg.Auth.SessionSecret, "challengezone", cfg.Auth.SessionTTL, cfg.Auth.CookieSecure)
	svc := assignment.NewService(backend,
		assignment.WithLogger(log),
		assignment.WithTimeout(cfg.App.BackendTimeout),
	)

	h := hub.NewHub(ctx, tab.Config{
		Backend:  backend,
		Resolver: sessions,
		Pages: pages.Config{
			EventStarted:    cfg.App.EventStarted,
			AutoRefresh:     cfg.App.AutoRefresh,
			RefreshInterval: cfg.App.RefreshInterval,
			HostUsername:    cfg.App.HostUsername,
			Assignments:     svc,
		},
		AdminUsernames: cfg.App.AdminUsernames,
		DebugEvents:    cfg.App.DebugEvents,
		HistoryLimit:   cfg.App.EventHistoryLimit,
		SessionWait:    cfg.App.SessionWait,
		Logger:         log,
	})

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.SetupRoutes(ctx, httpapi.Deps{
			Hub:            h,
			Backend:        backend,
			Assignments:    svc,
			Keys:           identity.NewKeys(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer),
			Sessions:       sessions,
			AdminUsernames: cfg.App.AdminUsernames,
			CORSOrigins:    cfg.Server.CORSOrigins,
			LoginRPS:       cfg.Auth.LoginRPS,
			LoginBurst:     cfg.Auth.LoginBurst,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// The hub stops with ctx; waiting for it lets open sockets see their
	// outboxes close before the server drains.
	select {
	case <-h.Done():
	case <-shutdownCtx.Done():
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
