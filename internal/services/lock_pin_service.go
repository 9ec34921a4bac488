package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// LockPINService issues and checks the PIN that opens a rented box
type LockPINService struct {
	bookings BookingStore
	digits   int
	cost     int
}

// NewLockPINService creates a new LockPINService
func NewLockPINService(bookings BookingStore, digits, cost int) *LockPINService {
	return &LockPINService{bookings: bookings, digits: digits, cost: cost}
}

// Issue generates a fresh PIN and its bcrypt hash
func (s *LockPINService) Issue() (pin string, hash string, err error) {
	pin, err = utils.GenerateNumericCode(s.digits)
	if err != nil {
		return "", "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash lock pin: %w", err)
	}

	return pin, string(hashed), nil
}

// Verify accepts the PIN only while the booking is active
func (s *LockPINService) Verify(ctx context.Context, bookingID uuid.UUID, pin string) error {
	booking, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}

	if booking.Status != models.BookingStatusActive {
		return models.NewConflictError(models.CodeInvalidPIN, "box can only be opened during an active rental").
			WithDetail("status", booking.Status)
	}

	if booking.LockPINHash == nil || bcrypt.CompareHashAndPassword([]byte(*booking.LockPINHash), []byte(pin)) != nil {
		return models.NewValidationError(models.CodeInvalidPIN, "invalid lock pin")
	}

	return nil
}
