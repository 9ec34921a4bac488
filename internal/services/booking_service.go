package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// BookingService covers reads and the non-monetary booking mutations
type BookingService struct {
	bookings BookingStore
	boxes    BoxStore
	clock    Clock
	logger   *logrus.Logger
}

// NewBookingService creates a new BookingService
func NewBookingService(bookings BookingStore, boxes BoxStore, clock Clock, logger *logrus.Logger) *BookingService {
	return &BookingService{
		bookings: bookings,
		boxes:    boxes,
		clock:    clock,
		logger:   logger,
	}
}

// GetBooking returns a booking the actor may see
func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	if actor.CanAccess(booking) {
		return booking, nil
	}

	ok, err := s.isDistributorOf(ctx, actor, booking)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	return booking, nil
}

// ReportProblem appends a customer problem report to a booking in progress
func (s *BookingService) ReportProblem(ctx context.Context, actor models.Actor, id uuid.UUID, description string) (*models.Booking, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "description is required")
	}

	booking, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil || !actor.CanAccess(booking) {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	if booking.Status == models.BookingStatusCancelled {
		return nil, models.NewConflictError(models.CodeInvalidRequest, "cannot report a problem on a cancelled booking")
	}

	report := models.ProblemReport{
		Description: description,
		ReportedAt:  s.clock.Now(),
	}
	if actor.Email != "" {
		email := actor.Email
		report.ReportedBy = &email
	}

	updated, err := s.bookings.AppendProblemReport(ctx, id, report)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"box_id":     booking.BoxID,
		"reports":    len(updated.ReportedProblems),
	}).Warn("Problem reported for booking")

	return updated, nil
}

// RecordReturn marks the box as physically returned, which completes the booking.
// Only admins and the distributor operating the box's location may record it.
func (s *BookingService) RecordReturn(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Booking, error) {
	now := s.clock.Now()

	booking, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	if !actor.IsAdmin() {
		ok, err := s.isDistributorOf(ctx, actor, booking)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
		}
	}

	updated, err := s.bookings.RecordReturn(ctx, id, now, func(b *models.Booking) error {
		return checkReturnable(b, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"late":       now.After(booking.EndDate),
	}).Info("Box returned")

	return updated, nil
}

// checkReturnable allows a return once the rental window has opened
func checkReturnable(b *models.Booking, now time.Time) error {
	switch {
	case b.HasReturn() || b.Status == models.BookingStatusCompleted:
		return models.NewConflictError(models.CodeInvalidRequest, "box has already been returned")
	case b.Status == models.BookingStatusCancelled:
		return models.NewConflictError(models.CodeInvalidRequest, "booking is cancelled")
	case b.Status.IsReserved() && now.Before(b.StartDate):
		return models.NewConflictError(models.CodeInvalidRequest, "rental period has not started")
	}
	return nil
}

func (s *BookingService) isDistributorOf(ctx context.Context, actor models.Actor, b *models.Booking) (bool, error) {
	if actor.UserID == uuid.Nil || !actor.HasRole(models.RoleDistributor) {
		return false, nil
	}
	box, err := s.boxes.GetBoxByID(ctx, b.BoxID)
	if err != nil {
		return false, err
	}
	return box != nil && box.DistributorUserID != nil && *box.DistributorUserID == actor.UserID, nil
}
