package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// ExtensionService quotes, charges and applies moving a booking's end forward
type ExtensionService struct {
	bookings   BookingStore
	boxes      BoxStore
	payments   PaymentStore
	pricing    *Pricing
	provider   PaymentProvider
	locker     ChargeLocker
	refunder   *Refunder
	audit      *AuditService
	dispatcher *Dispatcher
	clock      Clock
	logger     *logrus.Logger
}

// NewExtensionService creates a new ExtensionService
func NewExtensionService(
	bookings BookingStore,
	boxes BoxStore,
	payments PaymentStore,
	pricing *Pricing,
	provider PaymentProvider,
	locker ChargeLocker,
	refunder *Refunder,
	audit *AuditService,
	dispatcher *Dispatcher,
	clock Clock,
	logger *logrus.Logger,
) *ExtensionService {
	return &ExtensionService{
		bookings:   bookings,
		boxes:      boxes,
		payments:   payments,
		pricing:    pricing,
		provider:   provider,
		locker:     locker,
		refunder:   refunder,
		audit:      audit,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
	}
}

// Calculate prices an extension to newEnd and checks that no other booking holds the added time
func (s *ExtensionService) Calculate(ctx context.Context, actor models.Actor, bookingID uuid.UUID, newEnd time.Time) (*models.ExtensionQuote, error) {
	booking, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || !actor.CanAccess(booking) {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}

	return s.quote(ctx, booking, newEnd.UTC())
}

func (s *ExtensionService) quote(ctx context.Context, booking *models.Booking, newEnd time.Time) (*models.ExtensionQuote, error) {
	if !newEnd.After(booking.EndDate) {
		return nil, models.NewValidationError(models.CodeInvalidInterval, "new end date must be after the current end date")
	}

	box, err := s.boxes.GetBoxByID(ctx, booking.BoxID)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, models.NewNotFoundError(models.CodeBoxNotFound, "box not found")
	}

	added := interval.Interval{Start: booking.EndDate, End: newEnd}
	days, perDay, cost := s.pricing.Quote(box.Model, added)

	quote := &models.ExtensionQuote{
		AdditionalDays: days,
		AdditionalCost: cost,
		PricePerDay:    perDay,
		Currency:       s.pricing.Currency(),
		NewEndDate:     newEnd,
	}

	if reason := extensionBlocker(booking, newEnd, s.clock.Now()); reason != "" {
		quote.Reason = reason
		return quote, nil
	}

	conflict, err := s.bookings.FindConflict(ctx, booking.BoxID, added, &booking.ID)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		quote.ConflictingID = &conflict.ID
		quote.Reason = fmt.Sprintf("box is booked from %s by booking %s", conflict.StartDate.Format(time.RFC3339), conflict.ID)
		return quote, nil
	}

	quote.CanExtend = true
	quote.Reason = fmt.Sprintf("extend by %d day(s)", days)
	return quote, nil
}

// Start opens the second payment leg for an extension that currently passes its quote
func (s *ExtensionService) Start(ctx context.Context, actor models.Actor, bookingID uuid.UUID, newEnd time.Time) (*models.ExtensionCheckout, error) {
	quote, err := s.Calculate(ctx, actor, bookingID, newEnd)
	if err != nil {
		return nil, err
	}
	if !quote.CanExtend {
		if quote.ConflictingID != nil {
			return nil, models.NewConflictError(models.CodeExtensionConflict, quote.Reason).
				WithDetail("conflicting_booking_id", *quote.ConflictingID)
		}
		return nil, models.NewConflictError(models.CodeExtensionNotAllowed, quote.Reason)
	}

	metadata := models.NewExtensionMetadata(bookingID, quote.NewEndDate, quote.AdditionalCost)
	intent, err := s.provider.CreatePaymentIntent(ctx, quote.AdditionalCost, quote.Currency, metadata.ToMap(), nil)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		Kind:             models.PaymentKindExtension,
		PaymentIntentRef: intent.ID,
		Amount:           quote.AdditionalCost,
		Currency:         quote.Currency,
		Metadata:         metadata.ToJSONB(),
		CreatedAt:        s.clock.Now(),
	}
	if err := s.payments.CreateUnsettled(ctx, payment); err != nil {
		s.logger.WithError(err).WithField("payment_intent_ref", intent.ID).Error("Failed to store extension payment")
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceStripeAPI).
		SetPaymentIntent(intent.ID).
		SetBooking(bookingID).
		SetDetail("kind", string(models.PaymentKindExtension)).
		SetDetail("new_end", quote.NewEndDate.Format(time.RFC3339)))

	return &models.ExtensionCheckout{
		Quote:           quote,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	}, nil
}

// Apply moves the booking end once the extension payment settled. Replays return the
// already extended booking; a conflict found at apply time refunds the extension charge.
func (s *ExtensionService) Apply(ctx context.Context, intentRef string, source models.PaymentEventSource) (*models.ExtensionResult, error) {
	intent, metadata, err := fetchSettledIntent(ctx, s.provider, s.audit, intentRef, "", source)
	if err != nil {
		return nil, err
	}
	if metadata.Kind != models.PaymentKindExtension {
		return nil, models.NewValidationError(models.CodeInvalidMetadata, "payment is not an extension payment")
	}

	release, err := s.locker.Acquire(ctx, intent.ChargeRef)
	if err != nil {
		return nil, models.NewProviderTransientError("timed out waiting for concurrent confirmation", err)
	}
	defer release()

	now := s.clock.Now()
	outcome, err := s.bookings.ApplyExtension(ctx, database.SettlementInput{
		PaymentIntentRef: intent.ID,
		ChargeRef:        intent.ChargeRef,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		Metadata:         metadata,
		Now:              now,
	}, func(b *models.Booking) error {
		if b.Status.IsTerminal() {
			return models.NewConflictError(models.CodeExtensionNotAllowed, "booking is "+string(b.Status))
		}
		if !metadata.NewEnd.After(b.EndDate) {
			return models.NewConflictError(models.CodeExtensionNotAllowed, "booking already ends at or after the requested date")
		}
		return nil
	})
	if err != nil {
		appErr, _ := models.AsAppError(err)
		if appErr != nil && appErr.Code == models.CodeDuplicateSettledCharge {
			return s.resolveDuplicateCharge(ctx, intent, source)
		}
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventMaterializeFailed, source).
			SetPaymentIntent(intent.ID).
			SetBooking(metadata.BookingID).
			SetError(err))
		if appErr != nil && appErr.Code == models.CodeExtensionNotAllowed {
			payment, lookupErr := s.payments.GetByIntentRef(ctx, intent.ID)
			if lookupErr != nil {
				s.logger.WithError(lookupErr).WithField("payment_intent_ref", intent.ID).Warn("Failed to load extension payment for refund")
			}
			s.refundExtension(ctx, intent, payment, metadata, source)
		}
		return nil, err
	}

	if outcome.AlreadyProcessed {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateDelivery, source).
			SetPaymentIntent(intent.ID).
			SetBooking(outcome.Booking.ID).
			MarkAsDuplicate())
		return &models.ExtensionResult{Booking: outcome.Booking, AlreadyProcessed: true}, nil
	}

	if outcome.Conflict != nil {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventExtensionConflict, source).
			SetPaymentIntent(intent.ID).
			SetBooking(metadata.BookingID).
			SetDetail("conflicting_booking_id", outcome.Conflict.ID.String()))
		s.refundExtension(ctx, intent, outcome.Payment, metadata, source)
		return nil, models.NewConflictError(models.CodeExtensionConflict, "box was booked by someone else before the extension settled").
			WithDetail("conflicting_booking_id", outcome.Conflict.ID)
	}

	booking := outcome.Booking
	if _, err := s.bookings.SyncStatus(ctx, booking.ID, func(b *models.Booking) models.BookingStatus {
		return NextStatus(b, now)
	}); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to resync status after extension")
	} else {
		booking.Status = NextStatus(booking, now)
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventExtensionApplied, source).
		SetPaymentIntent(intent.ID).
		SetCharge(intent.ChargeRef).
		SetBooking(booking.ID).
		SetPayment(outcome.Payment.ID).
		SetDetail("new_end", booking.EndDate.Format(time.RFC3339)))

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"new_end":    booking.EndDate,
		"amount":     intent.Amount,
	}).Info("Booking extended")

	s.dispatcher.Dispatch(NewBookingNotification(NotifyBookingExtended, booking))

	return &models.ExtensionResult{Booking: booking}, nil
}

func (s *ExtensionService) refundExtension(ctx context.Context, intent *PaymentIntent, payment *models.Payment, metadata models.PaymentMetadata, source models.PaymentEventSource) {
	booking := &models.Booking{ID: metadata.BookingID}
	s.refunder.Refund(ctx, RefundRequest{
		Payment:        payment,
		Booking:        booking,
		ChargeRef:      intent.ChargeRef,
		Amount:         intent.Amount,
		IdempotencyKey: "refund-extension-" + intent.ChargeRef,
		FullRefund:     payment != nil,
		Source:         source,
	})
}

func (s *ExtensionService) resolveDuplicateCharge(ctx context.Context, intent *PaymentIntent, source models.PaymentEventSource) (*models.ExtensionResult, error) {
	payment, err := s.payments.GetByChargeRef(ctx, intent.ChargeRef)
	if err != nil {
		return nil, err
	}
	if payment == nil || !payment.IsLinked() {
		return nil, models.NewConflictError(models.CodeDuplicateSettledCharge, "charge is settled on another payment")
	}

	booking, err := s.bookings.GetBookingByID(ctx, *payment.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "linked booking not found")
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateDelivery, source).
		SetPaymentIntent(intent.ID).
		SetCharge(intent.ChargeRef).
		SetBooking(booking.ID).
		MarkAsDuplicate())

	return &models.ExtensionResult{Booking: booking, AlreadyProcessed: true}, nil
}

// extensionBlocker explains why a booking cannot be extended at all, or returns ""
func extensionBlocker(b *models.Booking, newEnd, now time.Time) string {
	switch {
	case b.Status.IsTerminal():
		return "booking is " + string(b.Status)
	case b.HasReturn():
		return "box has already been returned"
	case !newEnd.After(now):
		return "new end date must be in the future"
	}
	return ""
}
