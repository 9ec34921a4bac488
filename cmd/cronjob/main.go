package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/services"
)

func main() {
	// Parse command-line flags
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'status-sync')")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Starting booking cronjob runner...")

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// The runner has no queue client; overdue notices are logged here
	dispatcher := services.NewDispatcher(services.NewLogNotifier(logger), logger)
	defer dispatcher.Wait()

	bookingRepo := database.NewBookingRepository(db.DB)
	statusService := services.NewStatusService(bookingRepo, services.SystemClock{}, dispatcher, cfg.Scheduler.SyncWorkers, cfg.Scheduler.SyncBatchSize, logger)

	// Check if running a single job
	if *runOnce != "" {
		logger.WithField("job", *runOnce).Info("Running job once")
		runJobOnce(statusService, *runOnce, logger)
		logger.WithField("job", *runOnce).Info("Job execution completed")
		return
	}

	cronService := services.NewCronService(statusService, cfg.Scheduler.StatusSyncSpec, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down cronjob runner...")
	cronService.Stop()
}

func runJobOnce(syncer services.StatusSyncer, jobName string, logger *logrus.Logger) {
	switch jobName {
	case "status-sync":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		result, err := syncer.SyncAll(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Status sync failed")
		}
		logger.WithFields(logrus.Fields{
			"examined": result.Examined,
			"updated":  result.Updated,
			"failed":   len(result.Failed),
		}).Info("Status sync finished")
	default:
		logger.Fatalf("Unknown job: %s", jobName)
	}
}
