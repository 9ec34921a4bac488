package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// StatusSyncer is the job the scheduler runs. Implemented by *StatusService.
type StatusSyncer interface {
	SyncAll(ctx context.Context) (*models.SyncResult, error)
}

// CronService manages scheduled background jobs
type CronService struct {
	cron    *cron.Cron
	syncer  StatusSyncer
	spec    string
	timeout time.Duration
	logger  *logrus.Logger

	mu      sync.Mutex
	running bool
	last    *models.SyncResult
	lastRun time.Time
}

// NewCronService creates a new CronService
func NewCronService(syncer StatusSyncer, spec string, logger *logrus.Logger) *CronService {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	return &CronService{
		cron:    c,
		syncer:  syncer,
		spec:    spec,
		timeout: 4 * time.Minute,
		logger:  logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Cron format: second minute hour day month weekday
	if _, err := s.cron.AddFunc(s.spec, s.statusSyncJob); err != nil {
		return fmt.Errorf("failed to schedule status sync job: %w", err)
	}
	s.logger.WithField("spec", s.spec).Info("Scheduled: booking status sync")

	s.cron.Start()
	s.logger.Info("Cron service started")

	return nil
}

// Stop stops all cron jobs and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// statusSyncJob moves bookings along the time axis. Overlapping runs are skipped.
func (s *CronService) statusSyncJob() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("[CRON] Previous status sync still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Status sync failed")
		return
	}

	s.mu.Lock()
	s.last = result
	s.lastRun = startTime
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"examined": result.Examined,
		"updated":  result.Updated,
		"failed":   len(result.Failed),
		"duration": time.Since(startTime).String(),
	}).Info("[CRON] Status sync finished")
}

// RunStatusSyncNow runs the status sync job immediately
func (s *CronService) RunStatusSyncNow() *models.SyncResult {
	s.logger.Info("[MANUAL] Running status sync now...")
	s.statusSyncJob()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
		"in_flight": s.running,
	}
	if s.last != nil {
		status["last_run"] = s.lastRun
		status["last_result"] = s.last
	}
	return status
}
