package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/models"
)

// CancellationService applies the tiered refund policy
type CancellationService struct {
	bookings   BookingStore
	payments   PaymentStore
	refunder   *Refunder
	dispatcher *Dispatcher
	policy     config.CancellationConfig
	clock      Clock
	logger     *logrus.Logger
}

// NewCancellationService creates a new CancellationService
func NewCancellationService(
	bookings BookingStore,
	payments PaymentStore,
	refunder *Refunder,
	dispatcher *Dispatcher,
	policy config.CancellationConfig,
	clock Clock,
	logger *logrus.Logger,
) *CancellationService {
	return &CancellationService{
		bookings:   bookings,
		payments:   payments,
		refunder:   refunder,
		dispatcher: dispatcher,
		policy:     policy,
		clock:      clock,
		logger:     logger,
	}
}

// EvaluateCancellation computes eligibility and refund for cancelling b at now.
// Tiers must be sorted by MinHoursBeforeStart descending.
func EvaluateCancellation(b *models.Booking, now time.Time, policy config.CancellationConfig) *models.CancellationEvaluation {
	hoursUntilStart := b.StartDate.Sub(now).Hours()
	eval := &models.CancellationEvaluation{
		TransactionFee:  policy.TransactionFee,
		HoursUntilStart: hoursUntilStart,
	}

	switch {
	case b.Status == models.BookingStatusCancelled:
		eval.Reason = "booking is already cancelled"
		return eval
	case b.Status == models.BookingStatusCompleted:
		eval.Reason = "booking is already completed"
		return eval
	case b.Status == models.BookingStatusActive || b.Status == models.BookingStatusOverdue || !now.Before(b.StartDate):
		eval.Reason = "rental period has already started"
		return eval
	}

	eval.Eligible = true
	for _, tier := range policy.Tiers {
		if hoursUntilStart >= float64(tier.MinHoursBeforeStart) {
			hours := tier.MinHoursBeforeStart
			eval.AppliedTierHours = &hours
			eval.RefundPercentage = tier.Percent
			break
		}
	}

	refund := b.TotalAmount*int64(eval.RefundPercentage)/100 - policy.TransactionFee
	if refund < 0 {
		refund = 0
	}
	eval.RefundAmount = refund

	if eval.AppliedTierHours != nil {
		eval.Reason = fmt.Sprintf("cancelled at least %dh before start: %d%% refund", *eval.AppliedTierHours, eval.RefundPercentage)
	} else {
		eval.Reason = "cancelled too close to start: no refund"
	}

	return eval
}

// CanCancel previews the cancellation without changing anything
func (s *CancellationService) CanCancel(ctx context.Context, actor models.Actor, bookingID uuid.UUID) (*models.CancellationEvaluation, error) {
	booking, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || !actor.CanAccess(booking) {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}

	return EvaluateCancellation(booking, s.clock.Now(), s.policy), nil
}

// Cancel flips the booking to Cancelled under its row lock, then refunds.
// A failed refund does not undo the cancellation; it comes back as result.Warning.
func (s *CancellationService) Cancel(ctx context.Context, actor models.Actor, bookingID uuid.UUID, reason *string) (*models.CancellationResult, error) {
	now := s.clock.Now()
	var eval *models.CancellationEvaluation

	booking, err := s.bookings.Cancel(ctx, bookingID, func(b *models.Booking) (*database.CancellationDecision, error) {
		if !actor.CanAccess(b) {
			return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
		}

		eval = EvaluateCancellation(b, now, s.policy)
		if !eval.Eligible {
			return nil, models.NewConflictError(models.CodeNotCancellable, eval.Reason).
				WithDetail("status", b.Status)
		}

		refundStatus := models.RefundStatusNone
		if eval.RefundAmount > 0 {
			refundStatus = models.RefundStatusPending
		}

		return &database.CancellationDecision{
			RefundPercentage: eval.RefundPercentage,
			RefundAmount:     eval.RefundAmount,
			RefundStatus:     refundStatus,
			Reason:           reason,
			CancelledAt:      now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result := &models.CancellationResult{
		Success:          true,
		Booking:          booking,
		RefundPercentage: eval.RefundPercentage,
		RefundAmount:     eval.RefundAmount,
		RefundStatus:     models.RefundStatusNone,
		Reason:           eval.Reason,
	}

	if eval.RefundAmount > 0 {
		result.RefundStatus, result.Warning = s.refund(ctx, booking, eval.RefundAmount)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":    booking.ID,
		"refund_amount": eval.RefundAmount,
		"refund_status": result.RefundStatus,
	}).Info("Booking cancelled")

	n := NewBookingNotification(NotifyBookingCancelled, booking)
	n.Data = map[string]string{
		"refund_amount": fmt.Sprintf("%d", eval.RefundAmount),
		"refund_status": string(result.RefundStatus),
	}
	s.dispatcher.Dispatch(n)
	if result.Warning != nil {
		s.dispatcher.Dispatch(NewBookingNotification(NotifyRefundFailed, booking))
	}

	return result, nil
}

// refund spreads amount over the booking's settled charges, original charge first, never asking
// a charge for more than it holds. Each leg has its own idempotency key and audit entry.
func (s *CancellationService) refund(ctx context.Context, booking *models.Booking, amount int64) (models.RefundStatus, *models.AppError) {
	payments, err := s.payments.ListSettledByBooking(ctx, booking.ID)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to load payments for refund")
	}

	legs, uncovered := splitRefund(payments, amount)
	if uncovered > 0 && len(legs) > 0 {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"uncovered":  uncovered,
		}).Error("Refund exceeds the booking's settled charges")
	}
	if len(legs) == 0 {
		// nothing settled to refund against; the refunder records the gap
		legs = []RefundRequest{{Amount: amount, IdempotencyKey: "refund-cancel-" + booking.ID.String()}}
	}

	status := models.RefundStatusIssued
	var warning *models.AppError
	var refs []string

	for _, leg := range legs {
		leg.Booking = booking
		leg.Source = models.PaymentSourceSystem
		if leg.Payment != nil {
			leg.IdempotencyKey = "refund-cancel-" + booking.ID.String() + "-" + leg.Payment.ID.String()
		}

		refund, legWarning := s.refunder.Refund(ctx, leg)
		if legWarning != nil {
			status = models.RefundStatusFailed
			if warning == nil {
				warning = legWarning
			}
			continue
		}
		refs = append(refs, refund.ID)
	}

	var refundRef *string
	if len(refs) > 0 {
		joined := strings.Join(refs, ",")
		refundRef = &joined
	}

	if err := s.bookings.UpdateRefundOutcome(ctx, booking.ID, status, refundRef); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to record refund outcome")
	}
	booking.RefundStatus = &status
	booking.RefundRef = refundRef

	return status, warning
}

// splitRefund assigns amount to charges in order, capping each leg at the charge's amount.
// uncovered is what no charge could absorb.
func splitRefund(payments []*models.Payment, amount int64) (legs []RefundRequest, uncovered int64) {
	remaining := amount
	for _, p := range payments {
		if remaining <= 0 {
			break
		}
		if p.ChargeRef == nil || p.Amount <= 0 {
			continue
		}
		leg := p.Amount
		if remaining < leg {
			leg = remaining
		}
		legs = append(legs, RefundRequest{
			Payment:    p,
			ChargeRef:  *p.ChargeRef,
			Amount:     leg,
			FullRefund: leg == p.Amount,
		})
		remaining -= leg
	}
	return legs, remaining
}
