package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/backupd/internal/api"
	"github.com/edvin/backupd/internal/archive"
	"github.com/edvin/backupd/internal/config"
	"github.com/edvin/backupd/internal/encrypt"
	"github.com/edvin/backupd/internal/logging"
	"github.com/edvin/backupd/internal/metrics"
	"github.com/edvin/backupd/internal/retention"
	"github.com/edvin/backupd/internal/scheduler"
	"github.com/edvin/backupd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.SourcesFile).Msg("failed to load sources")
	}
	if len(sources) == 0 {
		logger.Warn().Str("file", cfg.SourcesFile).Msg("no sources configured")
	}

	// Temp directories left behind by a previous crash are removed before
	// any new job runs.
	archive.SweepOrphans(logger, cfg.WorkDir)

	encryptor, err := encrypt.New(logger, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize encryptor")
	}

	st := store.NewS3Store(logger, cfg)
	builder := archive.NewBuilder(logger, encryptor, cfg.WorkDir)
	engine := retention.NewEngine(logger, st)
	sched := scheduler.New(logger, builder, st, engine, sources)

	apiServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      api.NewServer(logger, sched, st),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)

	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}
	logger.Info().Int("sources", len(sources)).Msg("scheduler started")

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting status API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		// Stop firing new jobs and let in-flight ones finish before the
		// HTTP surfaces go away.
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := sched.Stop(drainCtx); err != nil {
			logger.Error().Err(err).Msg("scheduler drain timed out")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		apiServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
	logger.Info().Msg("daemon stopped")
}
