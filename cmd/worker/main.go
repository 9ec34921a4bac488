package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/services"
)

// The worker drains the booking notification queue. Delivery channels
// (email, push) are out of scope, so tasks are written to the log.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Redis.Enabled() {
		logger.Fatal("REDIS_ADDR is required to run the notification worker")
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.QueueDB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				cfg.Notifications.Queue: 1,
			},
			Logger: logger,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(services.TypeBookingNotification, services.NotificationTaskHandler(services.NewLogNotifier(logger), logger))

	if err := srv.Start(mux); err != nil {
		logger.Fatalf("Failed to start notification worker: %v", err)
	}
	logger.WithField("queue", cfg.Notifications.Queue).Info("Notification worker running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down notification worker...")
	srv.Shutdown()
}
