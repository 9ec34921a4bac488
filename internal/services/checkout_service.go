package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
	"github.com/stowbox/rental-backend/pkg/validator"
)

// CheckoutService prices a rental and opens the provider payment for it
type CheckoutService struct {
	boxes        BoxStore
	payments     PaymentStore
	availability *AvailabilityService
	pricing      *Pricing
	provider     PaymentProvider
	audit        *AuditService
	clock        Clock
	logger       *logrus.Logger
}

// NewCheckoutService creates a new CheckoutService
func NewCheckoutService(
	boxes BoxStore,
	payments PaymentStore,
	availability *AvailabilityService,
	pricing *Pricing,
	provider PaymentProvider,
	audit *AuditService,
	clock Clock,
	logger *logrus.Logger,
) *CheckoutService {
	return &CheckoutService{
		boxes:        boxes,
		payments:     payments,
		availability: availability,
		pricing:      pricing,
		provider:     provider,
		audit:        audit,
		clock:        clock,
		logger:       logger,
	}
}

// CreateCheckout validates the request, prices it and creates the payment intent.
// Guests must supply a contact email; signed-in customers may override theirs.
func (s *CheckoutService) CreateCheckout(ctx context.Context, actor models.Actor, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	boxID, err := uuid.Parse(req.BoxID)
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "invalid box id")
	}

	window, err := interval.New(req.StartDate.UTC(), req.EndDate.UTC())
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidInterval, err.Error())
	}
	if !window.End.After(s.clock.Now()) {
		return nil, models.NewValidationError(models.CodeInvalidInterval, "rental must end in the future")
	}

	contactEmail, err := resolveContactEmail(actor, req.ContactEmail)
	if err != nil {
		return nil, err
	}

	box, err := s.boxes.GetBoxByID(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, models.NewNotFoundError(models.CodeBoxNotFound, "box not found")
	}
	if !box.IsOffered() {
		return nil, models.NewConflictError(models.CodeBoxInactive, "box is not available for rent")
	}

	free, err := s.availability.IsFree(ctx, boxID, window)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, models.NewConflictError(models.CodeBoxUnavailable, "box is already booked for part of this period")
	}

	days, perDay, total := s.pricing.Quote(box.Model, window)

	var userID *uuid.UUID
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		userID = &id
	}

	metadata := models.NewBookingMetadata(boxID, window.Start, window.End, userID, contactEmail, total)
	intent, err := s.provider.CreatePaymentIntent(ctx, total, s.pricing.Currency(), metadata.ToMap(), contactEmail)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		Kind:             models.PaymentKindBooking,
		PaymentIntentRef: intent.ID,
		Amount:           total,
		Currency:         s.pricing.Currency(),
		Metadata:         metadata.ToJSONB(),
		CreatedAt:        s.clock.Now(),
	}
	if err := s.payments.CreateUnsettled(ctx, payment); err != nil {
		// the intent exists at the provider; materialization can still claim it
		s.logger.WithError(err).WithField("payment_intent_ref", intent.ID).Error("Failed to store checkout payment")
	}

	audit := models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceStripeAPI).
		SetPaymentIntent(intent.ID).
		SetDetail("box_id", boxID.String()).
		SetDetail("days", days)
	audit.SetAmounts(total, intent.Amount, s.pricing.Currency())
	s.audit.Record(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"payment_intent_ref": intent.ID,
		"box_id":             boxID,
		"amount":             total,
	}).Info("Checkout created")

	return &models.CheckoutResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          total,
		Currency:        s.pricing.Currency(),
		Days:            days,
		PricePerDay:     perDay,
	}, nil
}

func resolveContactEmail(actor models.Actor, requested *string) (*string, error) {
	if requested != nil && *requested != "" {
		if err := validator.ValidateEmail(*requested); err != nil {
			return nil, models.NewValidationError(models.CodeInvalidRequest, err.Error())
		}
		email := validator.NormalizeEmail(*requested)
		return &email, nil
	}

	if actor.UserID == uuid.Nil {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "contact_email is required for guest bookings")
	}

	if actor.Email != "" {
		email := validator.NormalizeEmail(actor.Email)
		return &email, nil
	}
	return nil, nil
}
