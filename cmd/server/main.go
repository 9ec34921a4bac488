package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/handlers"
	"github.com/stowbox/rental-backend/internal/middleware"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/services"
	"github.com/stowbox/rental-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting StowBox rental backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Redis backs the charge lock and the notification queue
	var redisClient *redis.Client
	var locker services.ChargeLocker = services.NoopLocker{}
	var notifier services.Notifier = services.NewLogNotifier(logger)

	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup; charge lock will retry per request")
		}
		cancel()
		locker = services.NewRedisChargeLocker(redisClient, cfg.Redis.ChargeLockTTL, logger)
		logger.Info("Redis charge lock enabled")

		if cfg.Notifications.Enabled {
			queueClient := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.QueueDB,
			})
			defer queueClient.Close()
			notifier = services.NewQueueNotifier(queueClient, cfg.Notifications.Queue)
			logger.WithField("queue", cfg.Notifications.Queue).Info("Notifications go through the task queue")
		}
	} else {
		logger.Warn("REDIS_ADDR not set: charge lock is process-local and notifications are only logged")
	}

	// Repositories
	bookingRepo := database.NewBookingRepository(db.DB)
	boxRepo := database.NewBoxRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)

	// Services
	logger.Info("Initializing services...")
	clock := services.SystemClock{}
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	provider := services.NewStripeProvider(cfg.Stripe, logger)
	dispatcher := services.NewDispatcher(notifier, logger)
	auditService := services.NewAuditService(auditRepo, logger)
	pricing := services.NewPricing(cfg.Pricing)
	availabilityService := services.NewAvailabilityService(bookingRepo, boxRepo, clock, cfg.Availability.OverdueHoldback)
	refunder := services.NewRefunder(provider, paymentRepo, auditService, logger)
	pinService := services.NewLockPINService(bookingRepo, cfg.Security.LockPINDigits, cfg.Security.BcryptCost)

	checkoutService := services.NewCheckoutService(boxRepo, paymentRepo, availabilityService, pricing, provider, auditService, clock, logger)
	materializer := services.NewMaterializerService(bookingRepo, paymentRepo, provider, locker, pinService, refunder, auditService, dispatcher, clock, logger)
	cancellationService := services.NewCancellationService(bookingRepo, paymentRepo, refunder, dispatcher, cfg.Cancellation, clock, logger)
	extensionService := services.NewExtensionService(bookingRepo, boxRepo, paymentRepo, pricing, provider, locker, refunder, auditService, dispatcher, clock, logger)
	statusService := services.NewStatusService(bookingRepo, clock, dispatcher, cfg.Scheduler.SyncWorkers, cfg.Scheduler.SyncBatchSize, logger)
	bookingService := services.NewBookingService(bookingRepo, boxRepo, clock, logger)

	// Initialize and start cron service
	cronService := services.NewCronService(statusService, cfg.Scheduler.StatusSyncSpec, logger)
	if cfg.Scheduler.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		logger.Info("✓ Cron service started - booking status sync enabled")
	}

	logger.Info("Services initialized")

	// Handlers
	availabilityHandler := handlers.NewAvailabilityHandler(availabilityService, clock, logger)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, materializer, cancellationService, extensionService, statusService, pinService, logger)
	webhookHandler := handlers.NewWebhookHandler(provider, materializer, extensionService, auditService, logger)
	adminHandler := handlers.NewAdminHandler(materializer, bookingService, statusService, cronService, auditRepo, logger)

	healthChecks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthHandler := handlers.NewHealthHandler(version, healthChecks, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	stopSweeper := startLimiterSweeper(limiter, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(requestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	{
		// Public availability
		v1.GET("/boxes/:id/availability", availabilityHandler.GetBoxAvailability)
		v1.GET("/boxes/:id/availability/check", availabilityHandler.CheckBoxAvailability)
		v1.GET("/boxes/:id/earliest-start", availabilityHandler.GetEarliestStart)
		v1.GET("/locations/:id/models/:model/availability", availabilityHandler.GetModelAvailability)

		// Checkout and confirmation work for guests too
		v1.POST("/checkout", limiter.Middleware(), middleware.OptionalAuth(jwtService), checkoutHandler.CreateCheckout)
		v1.POST("/bookings/confirm", limiter.Middleware(), middleware.OptionalAuth(jwtService), bookingHandler.ConfirmBooking)
		v1.POST("/bookings/extension/confirm", limiter.Middleware(), middleware.AuthMiddleware(jwtService), bookingHandler.ConfirmExtension)

		// Provider webhook: authenticated by signature, not by JWT
		v1.POST("/payments/webhook", limiter.Middleware(), webhookHandler.HandleStripeWebhook)

		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings.POST("/sync", bookingHandler.SyncMyBookings)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/problems", bookingHandler.ReportProblem)
			bookings.GET("/:id/cancellation", bookingHandler.PreviewCancellation)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
			bookings.POST("/:id/extension/quote", bookingHandler.QuoteExtension)
			bookings.POST("/:id/extension", bookingHandler.StartExtension)
			bookings.POST("/:id/lock/verify",
				middleware.RequireRole(models.RoleDistributor, models.RoleAdmin),
				bookingHandler.VerifyLockPIN)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService))
		{
			// Distributors record returns for their own boxes
			admin.POST("/bookings/:id/return",
				middleware.RequireRole(models.RoleDistributor, models.RoleAdmin),
				adminHandler.RecordReturn)

			adminOnly := admin.Group("")
			adminOnly.Use(middleware.RequireRole(models.RoleAdmin))
			{
				adminOnly.POST("/bookings/sync", adminHandler.SyncBookings)
				adminOnly.POST("/payments/:intent_id/materialize", adminHandler.ReplayMaterialization)
				adminOnly.GET("/payments/reconciliation", adminHandler.GetReconciliationGaps)
				adminOnly.GET("/cron/status", adminHandler.GetCronStatus)
				adminOnly.POST("/cron/status-sync/run", adminHandler.RunStatusSync)
			}
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop cron service
	logger.Info("Stopping cron service...")
	cronService.Stop()
	stopSweeper()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Let queued notifications drain before the queue client closes
	dispatcher.Wait()

	logger.Info("Server exited successfully")
}

// startLimiterSweeper evicts idle rate limiter entries until the returned stop func is called
func startLimiterSweeper(limiter *middleware.RateLimiter, logger *logrus.Logger) func() {
	ticker := time.NewTicker(5 * time.Minute)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if removed := limiter.Cleanup(); removed > 0 {
					logger.WithField("removed", removed).Debug("Rate limiter sweep")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Build log entry with basic fields
		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}

		// Add user context if available
		if userCtx, ok := middleware.GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
			fields["roles"] = userCtx.Roles
		}

		entry := logger.WithFields(fields)

		// Log errors with more details
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		// Log based on status code
		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}
