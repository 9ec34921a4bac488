package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventIntentCreated          PaymentEventType = "intent_created"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventIntentRetrieved        PaymentEventType = "intent_retrieved"
	PaymentEventNotSucceeded           PaymentEventType = "payment_not_succeeded"
	PaymentEventBookingMaterialized    PaymentEventType = "booking_materialized"
	PaymentEventDuplicateDelivery      PaymentEventType = "duplicate_delivery"
	PaymentEventMaterializeFailed      PaymentEventType = "materialize_failed"
	PaymentEventBoxConflict            PaymentEventType = "box_conflict"
	PaymentEventExtensionApplied       PaymentEventType = "extension_applied"
	PaymentEventExtensionConflict      PaymentEventType = "extension_conflict"
	PaymentEventRefundInitiated        PaymentEventType = "refund_initiated"
	PaymentEventRefundCompleted        PaymentEventType = "refund_completed"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventError                  PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceStripeWebhook PaymentEventSource = "stripe_webhook"
	PaymentSourceStripeAPI     PaymentEventSource = "stripe_api"
	PaymentSourceClientPoll    PaymentEventSource = "client_poll"
	PaymentSourceAdminReplay   PaymentEventSource = "admin_replay"
	PaymentSourceSystem        PaymentEventSource = "system"
)

// PaymentAudit is an immutable trail entry for anything that touches money or links money to a booking
type PaymentAudit struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	BookingID        *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID        *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	PaymentIntentRef *string    `json:"payment_intent_ref,omitempty" db:"payment_intent_ref"`
	ChargeRef        *string    `json:"charge_ref,omitempty" db:"charge_ref"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amounts in minor units
	ExpectedAmount *int64  `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64  `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	ProviderStatus *string `json:"provider_status,omitempty" db:"provider_status"`
	RefundRef      *string `json:"refund_ref,omitempty" db:"refund_ref"`

	Details JSONB   `json:"details,omitempty" db:"details"`
	RawBody *string `json:"raw_body,omitempty" db:"raw_body"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`

	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool    `json:"is_duplicate" db:"is_duplicate"`
	IdempotencyKey   *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`
	Device    JSONB   `json:"device,omitempty" db:"device"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking links the entry to a booking
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetPayment links the entry to a payment row
func (pa *PaymentAudit) SetPayment(paymentID uuid.UUID) *PaymentAudit {
	pa.PaymentID = &paymentID
	return pa
}

// SetPaymentIntent sets the provider payment intent reference
func (pa *PaymentAudit) SetPaymentIntent(ref string) *PaymentAudit {
	if ref != "" {
		pa.PaymentIntentRef = &ref
	}
	return pa
}

// SetCharge sets the settled charge reference
func (pa *PaymentAudit) SetCharge(ref string) *PaymentAudit {
	if ref != "" {
		pa.ChargeRef = &ref
	}
	return pa
}

// SetAmounts records expected vs received amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetProviderStatus sets the status reported by the payment provider
func (pa *PaymentAudit) SetProviderStatus(status string) *PaymentAudit {
	pa.ProviderStatus = &status
	return pa
}

// SetRefund records the provider refund reference
func (pa *PaymentAudit) SetRefund(ref string) *PaymentAudit {
	pa.RefundRef = &ref
	return pa
}

// SetError sets error information, taking the code from an *AppError when present
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	message := err.Error()
	pa.ErrorMessage = &message
	if appErr, ok := AsAppError(err); ok {
		code := appErr.Code
		pa.ErrorCode = &code
	}
	return pa
}

// SetRawBody stores the raw inbound body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetDetail adds a key to the free-form details payload
func (pa *PaymentAudit) SetDetail(key string, value interface{}) *PaymentAudit {
	if pa.Details == nil {
		pa.Details = JSONB{}
	}
	pa.Details[key] = value
	return pa
}

// SetClient records where the request came from. device is the parsed user agent.
func (pa *PaymentAudit) SetClient(ip, userAgent string, device map[string]interface{}) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if len(device) > 0 {
		pa.Device = JSONB(device)
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	now := time.Now()
	pa.ProcessedAt = &now
	return pa
}

// MarkAsDuplicate marks this event as a duplicate delivery
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}

// SetIdempotencyKey sets the idempotency key (provider event id for webhooks)
func (pa *PaymentAudit) SetIdempotencyKey(key string) *PaymentAudit {
	if key != "" {
		pa.IdempotencyKey = &key
	}
	return pa
}
