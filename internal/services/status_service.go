package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// NextStatus derives the status a booking should have at now.
//
// Cancelled and Completed never change. A recorded return completes the booking.
// Past its end an unreturned booking is Overdue; inside its window it is Active;
// before its start it keeps its reserved status.
func NextStatus(b *models.Booking, now time.Time) models.BookingStatus {
	if b.Status.IsTerminal() {
		return b.Status
	}
	if b.HasReturn() {
		return models.BookingStatusCompleted
	}
	if !now.Before(b.EndDate) {
		return models.BookingStatusOverdue
	}
	if !now.Before(b.StartDate) {
		return models.BookingStatusActive
	}
	return b.Status
}

// StatusService reconciles stored statuses with the clock
type StatusService struct {
	bookings   BookingStore
	clock      Clock
	dispatcher *Dispatcher
	workers    int
	batchSize  int
	logger     *logrus.Logger
}

// NewStatusService creates a new StatusService. workers bounds concurrent row updates.
func NewStatusService(bookings BookingStore, clock Clock, dispatcher *Dispatcher, workers, batchSize int, logger *logrus.Logger) *StatusService {
	if workers <= 0 {
		workers = 1
	}
	return &StatusService{
		bookings:   bookings,
		clock:      clock,
		dispatcher: dispatcher,
		workers:    workers,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// SyncOne reconciles a single booking under its row lock and reports whether it changed
func (s *StatusService) SyncOne(ctx context.Context, id uuid.UUID) (bool, error) {
	now := s.clock.Now()

	var snapshot models.Booking
	var target models.BookingStatus
	changed, err := s.bookings.SyncStatus(ctx, id, func(b *models.Booking) models.BookingStatus {
		snapshot = *b
		target = NextStatus(b, now)
		return target
	})
	if err != nil {
		return false, err
	}

	if changed && target == models.BookingStatusOverdue {
		snapshot.Status = target
		s.dispatcher.Dispatch(NewBookingNotification(NotifyBookingOverdue, &snapshot))
	}

	return changed, nil
}

// SyncMany reconciles the given bookings on a bounded worker pool.
// One booking failing does not stop the others; failures are reported per id.
func (s *StatusService) SyncMany(ctx context.Context, ids []uuid.UUID) *models.SyncResult {
	result := &models.SyncResult{Examined: len(ids)}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			changed, err := s.SyncOne(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, models.SyncFailure{BookingID: id, Error: err.Error()})
				return nil
			}
			if changed {
				result.Updated++
			}
			return nil
		})
	}
	g.Wait()

	if len(result.Failed) > 0 {
		s.logger.WithFields(logrus.Fields{
			"examined": result.Examined,
			"updated":  result.Updated,
			"failed":   len(result.Failed),
		}).Warn("Status sync finished with failures")
	}

	return result
}

// SyncForUser reconciles the caller's own open bookings
func (s *StatusService) SyncForUser(ctx context.Context, userID uuid.UUID) (*models.SyncResult, error) {
	ids, err := s.bookings.ListSyncCandidates(ctx, &userID, s.clock.Now(), s.batchSize)
	if err != nil {
		return nil, err
	}
	return s.SyncMany(ctx, ids), nil
}

// SyncAll reconciles one batch of every open booking. Used by the scheduler.
func (s *StatusService) SyncAll(ctx context.Context) (*models.SyncResult, error) {
	ids, err := s.bookings.ListSyncCandidates(ctx, nil, s.clock.Now(), s.batchSize)
	if err != nil {
		return nil, err
	}

	if len(ids) == s.batchSize {
		s.logger.WithField("batch_size", s.batchSize).Info("Status sync batch is full, remaining bookings wait for the next run")
	}

	return s.SyncMany(ctx, ids), nil
}
