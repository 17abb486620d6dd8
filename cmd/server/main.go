package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"scriptflow/internal/api"
	"scriptflow/internal/config"
	"scriptflow/internal/credential"
	"scriptflow/internal/deploy"
	"scriptflow/internal/executor"
	"scriptflow/internal/gate"
	"scriptflow/internal/integration"
	"scriptflow/internal/ledger"
	"scriptflow/internal/monitor"
	"scriptflow/internal/schedule"
	"scriptflow/internal/script"
	"scriptflow/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Stores: Postgres when a DSN is configured, in-memory otherwise. The
	// in-memory variant loses state on restart and exists for development.
	var (
		db        *storage.DB
		depStore  deploy.Store
		runStore  ledger.Store
		credStore credential.Store
	)
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("database unavailable")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		depStore = storage.NewDeploymentStore(db)
		runStore = storage.NewRunStore(db)
		credStore = storage.NewCredentialStore(db)
	} else {
		log.Warn().Msg("no database DSN configured, using in-memory stores")
		depStore = deploy.NewMemoryStore()
		runStore = ledger.NewMemoryStore()
		credStore = credential.NewMemoryStore()
	}

	// Validation pipeline
	integrations := integration.NewRegistry()
	extractor := script.NewExtractor(integrations)
	sdk := script.NewSDK(script.NewRegistry(), integrations)
	pipeline := gate.NewPipeline(extractor, gate.NewSecurity(nil), gate.NewCorrectness(sdk))

	// Execution backend
	backend, err := executor.NewBackend(ctx, executor.BackendOptions{
		Kind:             cfg.Executor.Backend,
		RunnerBinary:     cfg.Executor.RunnerBinary,
		WorkDir:          cfg.Executor.WorkDir,
		ContainerdSocket: cfg.Executor.ContainerdSocket,
		Namespace:        cfg.Executor.Namespace,
		Image:            cfg.Executor.Image,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("no execution backend available")
	}

	resolver := credential.NewResolver(credStore, integrations)
	dispatcher := executor.NewDispatcher(backend, depStore, runStore, resolver, metrics, log.Logger, executor.DispatcherOptions{
		Workers:    cfg.Executor.Workers,
		QueueDepth: cfg.Executor.QueueDepth,
		RunTimeout: cfg.Executor.RunTimeout,
		Limits: executor.Limits{
			CPUShares: cfg.Executor.DefaultLimits.CPUShares,
			MemoryMB:  cfg.Executor.DefaultLimits.MemoryMB,
			PidsLimit: cfg.Executor.DefaultLimits.PidsLimit,
		},
	})

	scheduler := schedule.NewScheduler(dispatcher, depStore, log.Logger)
	service := deploy.NewService(depStore, pipeline, credStore, integrations, scheduler, log.Logger)

	// Audit trail of lifecycle changes, buffered off the request path.
	if db != nil {
		audit := storage.NewAuditWriter(db, 10000)
		audit.Start()
		defer audit.Flush(10 * time.Second)
		service.SetEventSink(audit)
	}

	// Runs left pending or running by a crashed process would otherwise sit in
	// a transient status forever. Anything older than the run timeout cannot
	// still be executing.
	if n, err := runStore.SweepStale(ctx, time.Now().Add(-cfg.Executor.RunTimeout)); err != nil {
		log.Error().Err(err).Msg("sweeping stale runs")
	} else if n > 0 {
		log.Warn().Int("runs", n).Msg("failed runs abandoned by previous process")
	}

	// Re-arm schedules for deployments that were active before the restart.
	if cfg.Scheduler.Enabled {
		if err := service.RearmActive(ctx); err != nil {
			log.Error().Err(err).Msg("re-arming active deployments")
		}
	}

	handlers := api.NewHandlers(pipeline, service, runStore, credStore, integrations, scheduler, dispatcher, metrics)
	server := api.NewServer(cfg, handlers, db, metrics)

	// Periodic gauges that have no natural inc/dec point.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SchedulerArmedTriggers.Set(float64(scheduler.ArmedTriggers()))
				if active, err := depStore.ListActive(ctx); err == nil {
					metrics.DeploymentsActive.Set(float64(len(active)))
				}
			}
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// No new fires after this point; in-flight runs drain.
		scheduler.Stop()
		dispatcher.Stop()

		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("backend close error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Str("backend", cfg.Executor.Backend).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
