package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"dishwatch/internal/auth"
	"dishwatch/internal/config"
	transporthttp "dishwatch/internal/http"
	"dishwatch/internal/monitor"
	"dishwatch/internal/nest"
	"dishwatch/internal/persist"
	"dishwatch/internal/platform/database"
	"dishwatch/internal/platform/logging"
	"dishwatch/internal/platform/migrate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	snapshotter, cleanup, err := buildSnapshotter(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize snapshot store", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	store := monitor.NewStore(nil)
	restored, err := persist.Restore(ctx, store, snapshotter)
	if err != nil {
		logger.Error("failed to restore users", "error", err)
		os.Exit(1)
	}
	logger.Info("restored monitored users", "users", restored, "store", cfg.DataStore)

	outbound := &http.Client{Timeout: cfg.RequestTimeout}

	authenticator, err := auth.NewGoogleAuthenticator(ctx, auth.GoogleOptions{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		RedirectURL:    cfg.RedirectURI,
		AllowedDomains: cfg.AllowedDomains,
		AllowedEmails:  cfg.AllowedEmails,
		VerifyIDToken:  cfg.VerifyIDToken,
		HTTPClient:     outbound,
	})
	if err != nil {
		logger.Error("failed to initialize google oauth", "error", err)
		os.Exit(1)
	}
	if !cfg.OAuthEnabled() {
		logger.Warn("google oauth client is not configured; sign-in will fail")
	}

	sdm := nest.NewClient(outbound,
		nest.WithBaseURL(cfg.SDMBaseURL),
		nest.WithRateLimit(cfg.SDMRequestsPerSecond, cfg.SDMBurst),
		nest.WithLogger(logger),
	)

	tokens := monitor.NewTokenLifecycle(authenticator, store, monitor.WithRefreshTimeout(cfg.RequestTimeout))
	poller := monitor.NewEventPoller(sdm, logger, cfg.RequestTimeout)
	handler := monitor.NewLogEventHandler(logger)

	supervisorConfig := monitor.DefaultSupervisorConfig()
	supervisorConfig.PollInterval = cfg.PollInterval
	supervisorConfig.ShutdownTimeout = cfg.ShutdownTimeout
	supervisor := monitor.NewSupervisor(store, tokens, poller, handler, logger, supervisorConfig)

	supervisor.Start()
	supervisor.Add(persist.NewSaver(store, snapshotter, cfg.SnapshotInterval, logger))
	supervisorDone := supervisor.ServeBackground(ctx)

	router, err := transporthttp.NewRouter(cfg, transporthttp.Dependencies{
		Store:         store,
		Registrar:     supervisor,
		Authenticator: authenticator,
		Devices:       sdm,
	}, logger)
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("Dishwatch listening", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	select {
	case err := <-supervisorDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("supervisor stopped with error", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("supervisor did not stop before the shutdown deadline")
	}

	if unstopped, err := supervisor.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn("service did not stop in time", "service", svc.Name)
		}
	}
}

func buildSnapshotter(ctx context.Context, cfg config.Config, logger *slog.Logger) (persist.Snapshotter, func(), error) {
	switch cfg.DataStore {
	case "memory":
		logger.Info("using in-memory snapshots; users are lost on restart")
		return persist.NewMemorySnapshotter(), nil, nil
	case "file":
		logger.Info("using file snapshots", "path", cfg.DataFile)
		return persist.NewFileSnapshotter(cfg.DataFile), nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("connected to postgres")
	return persist.NewPostgresSnapshotter(db), cleanup, nil
}
