package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentKind distinguishes the original booking charge from extension legs
type PaymentKind string

const (
	PaymentKindBooking   PaymentKind = "booking"
	PaymentKindExtension PaymentKind = "extension"
)

// PaymentStatus tracks the settlement of a payment row
type PaymentStatus string

const (
	PaymentStatusUnsettled PaymentStatus = "unsettled"
	PaymentStatusSettled   PaymentStatus = "settled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is created at checkout and linked to exactly one booking once it settles
type Payment struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	Kind             PaymentKind   `json:"kind" db:"kind"`
	BookingID        *uuid.UUID    `json:"booking_id,omitempty" db:"booking_id"`
	PaymentIntentRef string        `json:"payment_intent_ref" db:"payment_intent_ref"`
	ChargeRef        *string       `json:"charge_ref,omitempty" db:"charge_ref"`
	Amount           int64         `json:"amount" db:"amount"`
	Currency         string        `json:"currency" db:"currency"`
	Status           PaymentStatus `json:"status" db:"status"`
	Metadata         JSONB         `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	SettledAt        *time.Time    `json:"settled_at,omitempty" db:"settled_at"`
}

// IsLinked reports whether the payment already produced a booking
func (p *Payment) IsLinked() bool {
	return p.BookingID != nil
}

// ============================================================================
// PAYMENT METADATA
// ============================================================================

// PaymentMetadataVersion is the only metadata layout this service writes and accepts
const PaymentMetadataVersion = 1

const (
	metaVersion      = "v"
	metaKind         = "kind"
	metaBoxID        = "box_id"
	metaStart        = "start"
	metaEnd          = "end"
	metaUserID       = "user_id"
	metaContactEmail = "contact_email"
	metaBookingID    = "booking_id"
	metaNewEnd       = "new_end"
	metaAmount       = "amount"
)

var knownMetadataKeys = map[string]bool{
	metaVersion: true, metaKind: true, metaBoxID: true, metaStart: true, metaEnd: true,
	metaUserID: true, metaContactEmail: true, metaBookingID: true, metaNewEnd: true, metaAmount: true,
}

// PaymentMetadata is what travels with a payment intent through the provider.
// Booking legs carry BoxID/Start/End; extension legs carry BookingID/NewEnd.
type PaymentMetadata struct {
	Version      int
	Kind         PaymentKind
	BoxID        uuid.UUID
	Start        time.Time
	End          time.Time
	UserID       *uuid.UUID
	ContactEmail *string
	BookingID    uuid.UUID
	NewEnd       time.Time
	Amount       int64
}

// NewBookingMetadata builds metadata for a booking checkout
func NewBookingMetadata(boxID uuid.UUID, start, end time.Time, userID *uuid.UUID, contactEmail *string, amount int64) PaymentMetadata {
	return PaymentMetadata{
		Version:      PaymentMetadataVersion,
		Kind:         PaymentKindBooking,
		BoxID:        boxID,
		Start:        start.UTC(),
		End:          end.UTC(),
		UserID:       userID,
		ContactEmail: contactEmail,
		Amount:       amount,
	}
}

// NewExtensionMetadata builds metadata for an extension payment leg
func NewExtensionMetadata(bookingID uuid.UUID, newEnd time.Time, amount int64) PaymentMetadata {
	return PaymentMetadata{
		Version:   PaymentMetadataVersion,
		Kind:      PaymentKindExtension,
		BookingID: bookingID,
		NewEnd:    newEnd.UTC(),
		Amount:    amount,
	}
}

// ToMap flattens the metadata into provider string pairs
func (m PaymentMetadata) ToMap() map[string]string {
	out := map[string]string{
		metaVersion: strconv.Itoa(m.Version),
		metaKind:    string(m.Kind),
		metaAmount:  strconv.FormatInt(m.Amount, 10),
	}

	switch m.Kind {
	case PaymentKindBooking:
		out[metaBoxID] = m.BoxID.String()
		out[metaStart] = m.Start.UTC().Format(time.RFC3339)
		out[metaEnd] = m.End.UTC().Format(time.RFC3339)
		if m.UserID != nil {
			out[metaUserID] = m.UserID.String()
		}
		if m.ContactEmail != nil && *m.ContactEmail != "" {
			out[metaContactEmail] = *m.ContactEmail
		}
	case PaymentKindExtension:
		out[metaBookingID] = m.BookingID.String()
		out[metaNewEnd] = m.NewEnd.UTC().Format(time.RFC3339)
	}

	return out
}

// ToJSONB stores the flattened metadata on the payment row
func (m PaymentMetadata) ToJSONB() JSONB {
	out := JSONB{}
	for k, v := range m.ToMap() {
		out[k] = v
	}
	return out
}

// BookingLinkMetadata is merged into a settled booking intent so the provider dashboard points at the booking
func BookingLinkMetadata(bookingID uuid.UUID) map[string]string {
	return map[string]string{metaBookingID: bookingID.String()}
}

// PaymentKindOf peeks at the kind of raw provider metadata without validating the rest
func PaymentKindOf(raw map[string]string) PaymentKind {
	return PaymentKind(raw[metaKind])
}

// ParsePaymentMetadata validates provider metadata. Missing, malformed or unknown keys
// and unknown versions are validation errors rather than silent defaults.
func ParsePaymentMetadata(raw map[string]string) (PaymentMetadata, error) {
	var m PaymentMetadata

	for key := range raw {
		if !knownMetadataKeys[key] {
			return m, invalidMetadata(fmt.Sprintf("unknown metadata key %q", key))
		}
	}

	version, err := strconv.Atoi(raw[metaVersion])
	if err != nil {
		return m, invalidMetadata("metadata version is missing or malformed")
	}
	if version != PaymentMetadataVersion {
		return m, invalidMetadata(fmt.Sprintf("unsupported metadata version %d", version))
	}
	m.Version = version

	amount, err := strconv.ParseInt(raw[metaAmount], 10, 64)
	if err != nil || amount <= 0 {
		return m, invalidMetadata("metadata amount is missing or malformed")
	}
	m.Amount = amount

	m.Kind = PaymentKind(raw[metaKind])
	switch m.Kind {
	case PaymentKindBooking:
		if m.BoxID, err = parseMetaUUID(raw, metaBoxID); err != nil {
			return m, err
		}
		if m.Start, err = parseMetaTime(raw, metaStart); err != nil {
			return m, err
		}
		if m.End, err = parseMetaTime(raw, metaEnd); err != nil {
			return m, err
		}
		if !m.End.After(m.Start) {
			return m, invalidMetadata("metadata end must be after start")
		}
		if v, ok := raw[metaUserID]; ok {
			id, err := uuid.Parse(v)
			if err != nil {
				return m, invalidMetadata("metadata user_id is malformed")
			}
			m.UserID = &id
		}
		if v, ok := raw[metaContactEmail]; ok && strings.TrimSpace(v) != "" {
			email := strings.TrimSpace(v)
			m.ContactEmail = &email
		}
	case PaymentKindExtension:
		if m.BookingID, err = parseMetaUUID(raw, metaBookingID); err != nil {
			return m, err
		}
		if m.NewEnd, err = parseMetaTime(raw, metaNewEnd); err != nil {
			return m, err
		}
	default:
		return m, invalidMetadata(fmt.Sprintf("unknown payment kind %q", raw[metaKind]))
	}

	return m, nil
}

func parseMetaUUID(raw map[string]string, key string) (uuid.UUID, error) {
	v, ok := raw[key]
	if !ok {
		return uuid.Nil, invalidMetadata(fmt.Sprintf("metadata %s is missing", key))
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, invalidMetadata(fmt.Sprintf("metadata %s is malformed", key))
	}
	return id, nil
}

func parseMetaTime(raw map[string]string, key string) (time.Time, error) {
	v, ok := raw[key]
	if !ok {
		return time.Time{}, invalidMetadata(fmt.Sprintf("metadata %s is missing", key))
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, invalidMetadata(fmt.Sprintf("metadata %s is malformed", key))
	}
	return t.UTC(), nil
}

func invalidMetadata(message string) *AppError {
	return NewValidationError(CodeInvalidMetadata, message)
}

// ============================================================================
// CHECKOUT
// ============================================================================

// CheckoutRequest starts the payment for a new booking
type CheckoutRequest struct {
	BoxID        string    `json:"box_id" binding:"required"`
	StartDate    time.Time `json:"start_date" binding:"required"`
	EndDate      time.Time `json:"end_date" binding:"required"`
	ContactEmail *string   `json:"contact_email,omitempty"`
}

// CheckoutResponse is handed to the client to complete payment
type CheckoutResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Days            int    `json:"days"`
	PricePerDay     int64  `json:"price_per_day"`
}
