package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arblens/core/internal/config"
	"github.com/arblens/core/pkg/detector"
	"github.com/arblens/core/pkg/jobs"
	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/oddsapi"
	"github.com/arblens/core/pkg/oddsmath"
	"github.com/arblens/core/pkg/scheduler"
	"github.com/arblens/core/pkg/services"
	"github.com/arblens/core/pkg/store"
)

func main() {
	// Parse command line flags
	var (
		jobName = flag.String("job", "", "Run specific job once (refresh, catalog, purge)")
		once    = flag.Bool("once", false, "Run job once and exit")
	)
	flag.Parse()

	logger.SetupLogger()
	zlog := logger.New("cron-service")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	st, err := store.Open(cfg.Store.Path, zlog)
	if err != nil {
		log.Fatalf("Failed to open store at %s: %v", cfg.Store.Path, err)
	}
	defer func() { _ = st.Close() }()

	feed, err := oddsapi.New(cfg.OddsAPI, zlog)
	if err != nil {
		log.Fatalf("Failed to build odds feed client: %v", err)
	}

	format, err := oddsmath.ParseFormat(cfg.OddsAPI.OddsFormat)
	if err != nil {
		log.Fatalf("Unsupported odds format: %v", err)
	}

	// Initialize the refresh pipeline
	sportService := services.NewSportService(st, feed, cfg.Scheduler.Sports, zlog)
	det := detector.New(detector.Config{
		Markets:      cfg.OddsAPI.Markets,
		MinProfitPct: cfg.Detector.MinProfitPct,
		MinBooks:     cfg.Detector.MinBooks,
	}, format, zlog)
	sched := scheduler.New(feed, sportService, st, det, zlog)

	catalogJob := jobs.NewCatalogSyncJob(sportService)
	purgeJob := jobs.NewPurgeJob(st, cfg.Store.RetentionDays)

	// Handle single job execution
	if *once && *jobName != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		switch *jobName {
		case "refresh":
			log.Println("Running refresh once...")
			res, err := sched.Trigger(ctx)
			if err != nil {
				log.Fatalf("Failed to execute refresh: %v", err)
			}
			if res.Status == models.RefreshFailed {
				log.Fatalf("Refresh failed: %v", res.Errors)
			}
			log.Printf("Refresh completed: status=%s events=%d detected=%d persisted=%d",
				res.Status, res.EventsFetched, res.Detected, res.Persisted)
		case "catalog":
			log.Println("Running catalog sync once...")
			if err := catalogJob.Execute(ctx); err != nil {
				log.Fatalf("Failed to execute catalog sync: %v", err)
			}
			log.Println("Catalog sync completed successfully")
		case "purge":
			log.Println("Running purge once...")
			if err := purgeJob.Execute(ctx); err != nil {
				log.Fatalf("Failed to execute purge: %v", err)
			}
			log.Println("Purge completed successfully")
		default:
			log.Fatalf("Unknown job: %s. Available jobs: refresh, catalog, purge", *jobName)
		}
		return
	}

	// Create job manager
	jobManager := jobs.NewJobManager(zlog)

	// Register jobs; catalog and refresh also run once at startup
	if err := jobManager.RegisterStartupJob(catalogJob); err != nil {
		log.Fatalf("Failed to register catalog sync job: %v", err)
	}
	if cfg.Scheduler.RefreshIntervalS > 0 {
		interval := time.Duration(cfg.Scheduler.RefreshIntervalS) * time.Second
		refreshJob := jobs.NewRefreshTickJob(sched, interval)
		if err := jobManager.RegisterStartupJob(refreshJob); err != nil {
			log.Fatalf("Failed to register refresh tick job: %v", err)
		}
	} else {
		log.Println("Refresh interval disabled; running without a refresh schedule")
	}
	if err := jobManager.RegisterJob(purgeJob); err != nil {
		log.Fatalf("Failed to register purge job: %v", err)
	}

	// Start job manager
	jobManager.Start()
	log.Printf("Cron job service started with %d jobs", len(jobManager.GetJobs()))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down cron job service...")
	jobManager.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Stop(drainCtx); err != nil {
		log.Printf("Refresh did not drain cleanly: %v", err)
	}
	log.Println("Cron job service stopped")
}
