package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/arblens/core/internal/config"
	"github.com/arblens/core/pkg/detector"
	"github.com/arblens/core/pkg/jobs"
	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/oddsapi"
	"github.com/arblens/core/pkg/oddsmath"
	"github.com/arblens/core/pkg/scheduler"
	"github.com/arblens/core/pkg/server"
	"github.com/arblens/core/pkg/services"
	"github.com/arblens/core/pkg/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Setup structured logging
	logger.SetupLogger()
	log := logger.New("api-service")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "config_invalid").
			Msg("Configuration rejected")
	}

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "store_open_failed").
			Str("db_path", cfg.Store.Path).
			Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	feed, err := oddsapi.New(cfg.OddsAPI, log)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "feed_client_failed").
			Msg("Failed to build odds feed client")
	}

	format, err := oddsmath.ParseFormat(cfg.OddsAPI.OddsFormat)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "odds_format_invalid").
			Msg("Unsupported odds format")
	}

	sportService := services.NewSportService(st, feed, cfg.Scheduler.Sports, log)
	det := detector.New(detector.Config{
		Markets:      cfg.OddsAPI.Markets,
		MinProfitPct: cfg.Detector.MinProfitPct,
		MinBooks:     cfg.Detector.MinBooks,
	}, format, log)
	sched := scheduler.New(feed, sportService, st, det, log)

	jobManager := jobs.NewJobManager(log)
	if err := jobManager.RegisterStartupJob(jobs.NewCatalogSyncJob(sportService)); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "register_job_failed").
			Msg("Failed to register catalog sync job")
	}
	if cfg.Scheduler.RefreshIntervalS > 0 {
		interval := time.Duration(cfg.Scheduler.RefreshIntervalS) * time.Second
		if err := jobManager.RegisterStartupJob(jobs.NewRefreshTickJob(sched, interval)); err != nil {
			log.Fatal().
				Err(err).
				Str("action", "register_job_failed").
				Msg("Failed to register refresh tick job")
		}
	} else {
		log.Info().
			Str("action", "refresh_manual_only").
			Msg("Refresh interval disabled; refresh runs only via POST /api/refresh")
	}
	if err := jobManager.RegisterJob(jobs.NewPurgeJob(st, cfg.Store.RetentionDays)); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "register_job_failed").
			Msg("Failed to register purge job")
	}

	srv := server.New(cfg, st, sched, sportService, feed, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobManager.Start()

	go func() {
		<-ctx.Done()
		log.Info().
			Str("action", "shutdown_begin").
			Msg("Shutting down")

		jobManager.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := sched.Stop(drainCtx); err != nil {
			log.Warn().
				Err(err).
				Str("action", "scheduler_drain_failed").
				Msg("Refresh did not drain cleanly")
		}
		cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().
				Err(err).
				Str("action", "server_shutdown_failed").
				Msg("HTTP shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "server_failed").
			Msg("Server failed")
	}

	log.Info().
		Str("action", "shutdown_complete").
		Msg("Service stopped")
}
