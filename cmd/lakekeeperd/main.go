// lakekeeperd is the Iceberg REST catalog server.
// It serves the catalog and management APIs, runs the background task
// queue, and mediates every request through the authorization backend.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 migration
// failure, 3 bind failure, 4 fatal runtime error.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lakekeeper/lakekeeper/internal/api"
	"github.com/lakekeeper/lakekeeper/internal/auth"
	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/config"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/events"
	"github.com/lakekeeper/lakekeeper/internal/health"
	"github.com/lakekeeper/lakekeeper/internal/leader"
	"github.com/lakekeeper/lakekeeper/internal/license"
	"github.com/lakekeeper/lakekeeper/internal/postgres"
	"github.com/lakekeeper/lakekeeper/internal/ratelimit"
	"github.com/lakekeeper/lakekeeper/internal/secrets"
	"github.com/lakekeeper/lakekeeper/internal/signer"
	"github.com/lakekeeper/lakekeeper/internal/stats"
	"github.com/lakekeeper/lakekeeper/internal/storage"
	"github.com/lakekeeper/lakekeeper/internal/tasks"
	"github.com/lakekeeper/lakekeeper/internal/transport"
)

const (
	exitConfig    = 1
	exitMigration = 2
	exitBind      = 3
	exitFatal     = 4
)

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /lakekeeperd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8181/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(exitConfig)
	}
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	}

	ctx := context.Background()

	// License: a missing or undecodable token runs the community edition.
	checker := license.NewUnlicensed()
	if cfg.LicenseToken != "" {
		c, err := license.New(cfg.LicenseToken, "")
		if err != nil {
			logger.Warn("failed to decode license token, running unlicensed", "error", err)
		} else {
			checker = c
			logger.Info("license decoded", "org_id", c.OrgID())
		}
	}

	pool, err := postgres.NewPool(ctx, cfg.PGDatabase, postgres.PoolOptions{
		MaxConns: int32(cfg.PGMaxConns),
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(exitFatal)
	}
	defer pool.Close()

	if cfg.Debug.MigrateBeforeServe {
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(exitMigration)
		}
		logger.Info("migrations applied")
	}

	store := postgres.NewStore(pool)

	var secretStore secrets.Store
	switch cfg.SecretBackend {
	case config.SecretsKV2:
		secretStore, err = secrets.NewVaultStore(secrets.VaultConfig{
			Address:    cfg.KV2.Address,
			Token:      cfg.KV2.Token,
			Mount:      cfg.KV2.Mount,
			PathPrefix: cfg.KV2.PathPrefix,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to vault", "error", err)
			os.Exit(exitFatal)
		}
		logger.Info("secret backend initialized", "backend", "kv2", "address", cfg.KV2.Address)
	default:
		secretStore = postgres.NewSecretStore(pool)
		logger.Info("secret backend initialized", "backend", "postgres")
	}

	var authzBackend authz.Backend
	switch cfg.AuthorizationBackend {
	case config.AuthzOpenFGA:
		fgaClient, err := transport.NewClient(transport.TLSConfig{
			CACertFile: cfg.OpenFGA.CACertFile,
			CertFile:   cfg.OpenFGA.CertFile,
			KeyFile:    cfg.OpenFGA.KeyFile,
		})
		if err != nil {
			logger.Error("failed to build openfga client", "error", err)
			os.Exit(exitConfig)
		}
		authzBackend = authz.NewOpenFGABackend(authz.OpenFGAConfig{
			Endpoint: cfg.OpenFGA.Endpoint,
			StoreID:  cfg.OpenFGA.StoreID,
			APIKey:   cfg.OpenFGA.APIKey,
			Client:   fgaClient,
		}, logger)
		logger.Info("authorization backend initialized", "backend", "openfga", "endpoint", cfg.OpenFGA.Endpoint)
	default:
		authzBackend = authz.AllowAll{}
		logger.Warn("authorization backend is AllowAll, every check passes")
	}
	mediator := authz.NewMediator(authzBackend, logger)

	// Pin the server id for server-scope checks when already bootstrapped.
	if server, err := store.ServerInfo(ctx); err == nil {
		mediator.SetServerID(server.ServerID)
	} else if !domain.IsNotFound(err) {
		logger.Warn("failed to read server info", "error", err)
	}

	if cfg.Debug.AutoServe {
		err := catalog.RunWriteTx(ctx, store, func(tx catalog.Transaction) error {
			server, err := tx.BootstrapServer(ctx, true)
			if err != nil {
				return err
			}
			mediator.SetServerID(server.ServerID)
			return nil
		})
		if err != nil && !domain.IsType(err, domain.ErrTypeEntityAlreadyExists) {
			logger.Warn("auto bootstrap failed", "error", err)
		}
	}

	dispatcher := events.NewDispatcher(
		[]events.Backend{events.NewLogBackend(logger)},
		events.DispatcherOptions{}, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	tracker := stats.NewTracker()
	flusher := stats.NewFlusher(tracker, store, cfg.Stats.FlushInterval, logger)
	flusher.Start(ctx)
	defer flusher.Stop()

	s3 := storage.NewS3()

	// Only the leader replica runs the task workers. The queue itself is
	// safe against duplicates; this keeps lease churn to one replica.
	workerOpts := tasks.WorkerOptions{
		PollInterval: cfg.Queue.PollInterval,
		BatchSize:    cfg.Queue.BatchSize,
		Lease:        cfg.Queue.LeaseDuration,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryDelay:   cfg.Queue.RetryDelay,
	}
	elector := leader.New(leader.PoolLock(pool), leader.DefaultRetryInterval,
		func(ctx context.Context) func() {
			purgeWorker := tasks.NewWorker(store,
				tasks.NewPurgeHandler(store, secretStore, s3, logger), workerOpts, logger)
			purgeWorker.Start(ctx)

			statsWorker := tasks.NewWorker(store,
				tasks.NewStatsRefreshHandler(store, logger), workerOpts, logger)
			statsWorker.Start(ctx)

			reaper := tasks.NewReaper(store, cfg.Queue.PollInterval, logger)
			reaper.Start(ctx)

			if err := tasks.EnsureStatsSchedule(ctx, store, cfg.Stats.RefreshCron); err != nil {
				logger.Error("failed to schedule statistics refresh", "error", err)
			}
			return func() {
				reaper.Stop()
				statsWorker.Stop()
				purgeWorker.Stop()
			}
		}, logger)
	elector.Start(ctx)
	defer elector.Stop()

	monitor := health.NewMonitor(health.MonitorOptions{
		Interval: cfg.Health.ProbeInterval,
		Timeout:  cfg.Health.ProbeTimeout,
	}, logger)
	monitor.Register("postgres", health.CheckerFunc(func(ctx context.Context) error {
		return pool.Ping(ctx)
	}))
	monitor.Register("secrets", secretStore)
	monitor.Register(authzBackend.Name(), mediator)
	monitor.Register("events", dispatcher)
	monitor.Start(ctx)
	defer monitor.Stop()

	srv := &api.Server{
		Catalog: store,
		Authz:   mediator,
		Secrets: secretStore,
		Events:  dispatcher,
		Tracker: tracker,
		Signer:  signer.New(store, secretStore, mediator, logger),
		Storage: s3,
		Health:  monitor,
		License: checker,

		BaseURI:         cfg.BaseURI,
		ServeOpenAPIDoc: cfg.ServeOpenAPIDoc,
	}
	if cfg.DefaultProject != "" {
		projectID, err := domain.ParseProjectID(cfg.DefaultProject)
		if err != nil {
			logger.Error("invalid default project id", "value", cfg.DefaultProject, "error", err)
			os.Exit(exitConfig)
		}
		srv.DefaultProject = projectID
	}
	if apiKey := os.Getenv("LAKEKEEPER__API_KEY"); apiKey != "" {
		srv.Auth = auth.APIKey(apiKey)
		logger.Info("API key authentication enabled")
	}
	if corsEnv := os.Getenv("LAKEKEEPER__CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}
	if cfg.RateLimit.Enabled {
		srv.RateLimit = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTimeout:       cfg.RateLimit.IdleTimeout,
		})
		logger.Info("request throttling enabled",
			"requests_per_second", cfg.RateLimit.RequestsPerSecond,
			"burst", cfg.RateLimit.Burst)
	}

	router := api.NewRouter(srv)

	httpServer := &http.Server{
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		logger.Error("failed to bind", "addr", cfg.BindAddress, "error", err)
		os.Exit(exitBind)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	logger.Info("starting lakekeeperd", "addr", cfg.BindAddress, "version", api.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(exitFatal)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("lakekeeperd shutdown complete")
}
