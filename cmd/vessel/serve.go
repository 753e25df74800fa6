package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/vessel-dashboard/internal/cleanup"
	"github.com/p-blackswan/vessel-dashboard/internal/health"
	"github.com/p-blackswan/vessel-dashboard/internal/metrics"
	"github.com/p-blackswan/vessel-dashboard/internal/pin"
	"github.com/p-blackswan/vessel-dashboard/internal/plugins"
	"github.com/p-blackswan/vessel-dashboard/internal/scheduler"
	"github.com/p-blackswan/vessel-dashboard/internal/server"
	"github.com/p-blackswan/vessel-dashboard/internal/session"
	"github.com/p-blackswan/vessel-dashboard/internal/store"
	"github.com/p-blackswan/vessel-dashboard/internal/tlscert"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Bool("https_enabled", bool(cfg.HTTPSEnabled)).
		Str("version", version).
		Msg("starting vessel dashboard")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	registry := session.NewRegistry(session.Config{
		SessionTimeout: cfg.SessionTimeout,
		SnapshotPath:   cfg.SessionFile,
	}, logger)
	if err := registry.Load(); err != nil {
		logger.Warn().Err(err).Msg("session snapshot not loaded")
	}

	checker := health.NewChecker(version, logger)
	checker.Register("sqlite", health.PingCheck(st))
	m := metrics.New()
	m.SetSessions(registry.SessionCount())

	catalog, err := plugins.NewCatalog(cfg.PluginsDir, logger)
	if err != nil {
		return fmt.Errorf("loading plugins: %w", err)
	}
	if err := catalog.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("plugins hot reload disabled")
	}

	srv := server.New(server.Config{
		MaxAuthAttempts:  cfg.MaxAuthAttempts,
		AuthLockout:      cfg.AuthLockout,
		WSMaxConnections: cfg.WSMaxConnections,
		Version:          version,
	}, server.Deps{
		Registry: registry,
		Store:    st,
		PIN:      pin.NewVerifier(cfg.PinFile, logger),
		Archiver: cleanup.NewArchiver(st, logger),
		Checker:  checker,
		Metrics:  m,
		Plugins:  catalog,
	}, logger)

	sched := scheduler.New(logger, srv.Jobs(cfg.SweepInterval, cfg.ArchiveInterval, cfg.StatsInterval)...)
	sched.OnResult(func(job string, err error, _ time.Duration) {
		m.RecordJob(job, err)
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	useTLS := tlscert.Ensure(tlscert.Config{
		Enabled:  bool(cfg.HTTPSEnabled),
		Dir:      cfg.CertsDir,
		CertFile: cfg.CertFile(),
		KeyFile:  cfg.KeyFile(),
		Hostname: tlscert.Hostname(),
		Days:     cfg.CertDays,
	}, logger)
	if bool(cfg.HTTPSEnabled) && !useTLS {
		logger.Warn().Msg("HTTPS requested but no certificate available, falling back to HTTP")
	}

	if !checker.IsReady(ctx) {
		logger.Warn().Interface("checks", checker.Last()).Msg("starting with failing health checks")
	}

	errCh := make(chan error, 1)
	go func() {
		if useTLS {
			logger.Info().Str("url", fmt.Sprintf("https://%s:%d", tlscert.Hostname(), cfg.HTTPSPort)).Msg("dashboard ready")
			errCh <- srv.ListenTLS(cfg.HTTPSAddr(), cfg.CertFile(), cfg.KeyFile())
			return
		}
		logger.Info().Str("url", fmt.Sprintf("http://%s:%d", tlscert.Hostname(), cfg.Port)).Msg("dashboard ready")
		errCh <- srv.Listen(cfg.HTTPAddr())
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	}

	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	sched.Stop()
	if err := registry.Flush(); err != nil {
		logger.Error().Err(err).Msg("session snapshot not saved")
	}

	logger.Info().Msg("vessel dashboard stopped")
	return nil
}
