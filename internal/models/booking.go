package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// BookingStatus represents the lifecycle status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusUpcoming  BookingStatus = "upcoming"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusOverdue   BookingStatus = "overdue"
)

// BlockingStatuses are the statuses whose interval makes a box unavailable
var BlockingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusUpcoming,
	BookingStatusConfirmed,
	BookingStatusActive,
	BookingStatusOverdue,
}

// SyncableStatuses are the statuses the time-driven sync can still move
var SyncableStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusUpcoming,
	BookingStatusConfirmed,
	BookingStatusActive,
}

// ReservedStatuses are the accepted statuses that have not started yet
var ReservedStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusUpcoming,
	BookingStatusConfirmed,
}

// IsBlocking reports whether the status blocks availability
func (s BookingStatus) IsBlocking() bool {
	for _, blocking := range BlockingStatuses {
		if s == blocking {
			return true
		}
	}
	return false
}

// IsReserved reports whether the booking is accepted but not started
func (s BookingStatus) IsReserved() bool {
	return s == BookingStatusPending || s == BookingStatusUpcoming || s == BookingStatusConfirmed
}

// IsTerminal reports whether no further transition can happen through time alone
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// ReflectsConfirmation reports whether the status shows the booking was accepted beyond the initial state
func (s BookingStatus) ReflectsConfirmation() bool {
	switch s {
	case BookingStatusUpcoming, BookingStatusConfirmed, BookingStatusActive, BookingStatusOverdue, BookingStatusCompleted:
		return true
	}
	return false
}

// Phase orders statuses along the time axis: reserved, in progress, past end
func (s BookingStatus) Phase() int {
	switch s {
	case BookingStatusActive:
		return 1
	case BookingStatusOverdue, BookingStatusCompleted:
		return 2
	}
	return 0
}

// RefundStatus tracks the monetary leg of a cancellation
type RefundStatus string

const (
	RefundStatusNone    RefundStatus = "none"
	RefundStatusPending RefundStatus = "pending"
	RefundStatusIssued  RefundStatus = "issued"
	RefundStatusFailed  RefundStatus = "failed"
)

// ProblemReport is a customer-reported issue with a box during a rental
type ProblemReport struct {
	Description string    `json:"description"`
	ReportedBy  *string   `json:"reported_by,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// ProblemReports is stored as a JSONB array
type ProblemReports []ProblemReport

// Value implements the driver.Valuer interface
func (p ProblemReports) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (p *ProblemReports) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed for ProblemReports")
	}
	return json.Unmarshal(bytes, p)
}

// Booking is the core temporal entity: one box reserved for [StartDate, EndDate)
type Booking struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	BoxID              uuid.UUID      `json:"box_id" db:"box_id"`
	UserID             *uuid.UUID     `json:"user_id,omitempty" db:"user_id"`
	ContactEmail       *string        `json:"contact_email,omitempty" db:"contact_email"`
	StartDate          time.Time      `json:"start_date" db:"start_date"`
	EndDate            time.Time      `json:"end_date" db:"end_date"`
	Status             BookingStatus  `json:"status" db:"status"`
	TotalAmount        int64          `json:"total_amount" db:"total_amount"`
	Currency           string         `json:"currency" db:"currency"`
	PaymentID          *uuid.UUID     `json:"payment_id,omitempty" db:"payment_id"`
	LockPINHash        *string        `json:"-" db:"lock_pin_hash"`
	ReportedProblems   ProblemReports `json:"reported_problems,omitempty" db:"reported_problems"`
	ReturnedAt         *time.Time     `json:"returned_at,omitempty" db:"returned_at"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason *string        `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	RefundPercentage   *int           `json:"refund_percentage,omitempty" db:"refund_percentage"`
	RefundAmount       *int64         `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundStatus       *RefundStatus  `json:"refund_status,omitempty" db:"refund_status"`
	RefundRef          *string        `json:"refund_ref,omitempty" db:"refund_ref"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// Interval returns the booking window as a half-open interval
func (b *Booking) Interval() interval.Interval {
	return interval.Interval{Start: b.StartDate, End: b.EndDate}
}

// HasReturn reports whether the box was physically returned
func (b *Booking) HasReturn() bool {
	return b.ReturnedAt != nil
}

// IsOwnedBy reports whether the booking belongs to the given user
func (b *Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID != nil && *b.UserID == userID
}

// Actor identifies who triggers an operation. A zero UserID means a guest or the system.
type Actor struct {
	UserID uuid.UUID
	Roles  []string
	Email  string
}

const (
	RoleCustomer    = "customer"
	RoleDistributor = "distributor"
	RoleAdmin       = "admin"
)

// HasRole reports whether the actor carries the role
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may act on any booking
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// CanAccess reports whether the actor may read or mutate the booking as its customer
func (a Actor) CanAccess(b *Booking) bool {
	return a.IsAdmin() || (a.UserID != uuid.Nil && b.IsOwnedBy(a.UserID))
}

// SystemActor is used by scheduled jobs and webhook processing
var SystemActor = Actor{Roles: []string{RoleAdmin}}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// ConfirmBookingRequest is the client-side success poll after payment. The client secret
// handed out at checkout proves the caller is the payer.
type ConfirmBookingRequest struct {
	PaymentIntentID string  `json:"payment_intent_id" binding:"required"`
	ClientSecret    string  `json:"client_secret" binding:"required"`
	ContactEmail    *string `json:"contact_email,omitempty"`
}

// ConfirmExtensionRequest is the client-side success poll after an extension payment
type ConfirmExtensionRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// MaterializeResult is the outcome of turning a settled payment into a booking
type MaterializeResult struct {
	Booking          *Booking `json:"booking"`
	AlreadyProcessed bool     `json:"already_processed"`
	AlreadyConfirmed bool     `json:"already_confirmed"`
	LockPIN          string   `json:"lock_pin,omitempty"`
}

// SyncRequest lists bookings to reconcile
type SyncRequest struct {
	BookingIDs []string `json:"booking_ids" binding:"required,min=1"`
}

// SyncFailure reports one booking that could not be reconciled
type SyncFailure struct {
	BookingID uuid.UUID `json:"booking_id"`
	Error     string    `json:"error"`
}

// SyncResult summarizes a batch status sync
type SyncResult struct {
	Examined int           `json:"examined"`
	Updated  int           `json:"updated"`
	Failed   []SyncFailure `json:"failed,omitempty"`
}

// CancellationEvaluation previews a cancellation without committing it
type CancellationEvaluation struct {
	Eligible         bool    `json:"eligible"`
	RefundPercentage int     `json:"refund_percentage"`
	RefundAmount     int64   `json:"refund_amount"`
	TransactionFee   int64   `json:"transaction_fee"`
	HoursUntilStart  float64 `json:"hours_until_start"`
	AppliedTierHours *int    `json:"applied_tier_hours,omitempty"`
	Reason           string  `json:"reason"`
}

// CancelBookingRequest carries an optional free-text reason
type CancelBookingRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// CancellationResult is returned after a committed cancellation
type CancellationResult struct {
	Success          bool         `json:"success"`
	Booking          *Booking     `json:"booking"`
	RefundPercentage int          `json:"refund_percentage"`
	RefundAmount     int64        `json:"refund_amount"`
	RefundStatus     RefundStatus `json:"refund_status"`
	Reason           string       `json:"reason"`
	Warning          *AppError    `json:"warning,omitempty"`
}

// ExtensionQuote is the priced preview of moving a booking's end forward
type ExtensionQuote struct {
	CanExtend      bool       `json:"can_extend"`
	AdditionalDays int        `json:"additional_days"`
	AdditionalCost int64      `json:"additional_cost"`
	PricePerDay    int64      `json:"price_per_day"`
	Currency       string     `json:"currency"`
	NewEndDate     time.Time  `json:"new_end_date"`
	ConflictingID  *uuid.UUID `json:"conflicting_booking_id,omitempty"`
	Reason         string     `json:"reason"`
}

// ExtensionRequest asks for a new end date
type ExtensionRequest struct {
	NewEndDate time.Time `json:"new_end_date" binding:"required"`
}

// ExtensionCheckout is the second payment leg for an accepted extension quote
type ExtensionCheckout struct {
	Quote           *ExtensionQuote `json:"quote"`
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
}

// ExtensionResult is the outcome of applying a paid extension
type ExtensionResult struct {
	Booking          *Booking `json:"booking"`
	AlreadyProcessed bool     `json:"already_processed"`
}

// ReportProblemRequest appends a problem report to a booking
type ReportProblemRequest struct {
	Description string `json:"description" binding:"required,max=2000"`
}

// VerifyLockPINRequest is sent by a stand when a customer enters their PIN
type VerifyLockPINRequest struct {
	PIN string `json:"pin" binding:"required"`
}
