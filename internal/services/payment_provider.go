package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Provider event types this service reacts to
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// PaymentIntent is the provider view of a payment, reduced to what the booking engine needs
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
	ChargeRef    string
	ReceiptEmail string
	Metadata     map[string]string
}

// Succeeded reports whether the provider settled the payment
func (pi *PaymentIntent) Succeeded() bool {
	return pi.Status == string(stripe.PaymentIntentStatusSucceeded)
}

// Refund is a refund issued against a charge
type Refund struct {
	ID     string
	Status string
}

// WebhookEvent is a verified provider notification
type WebhookEvent struct {
	ID     string
	Type   string
	Intent *PaymentIntent
}

// PaymentProvider abstracts the payment gateway.
// Errors are *models.AppError of kind ProviderTransient or ProviderPermanent.
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string, receiptEmail *string) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error)
	IssueRefund(ctx context.Context, chargeRef string, amount int64, idempotencyKey string) (*Refund, error)
	UpdateMetadata(ctx context.Context, ref string, metadata map[string]string) error
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// StripeProvider talks to Stripe with a per-attempt timeout and bounded retries
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	maxRetries    int
	backoff       time.Duration
	logger        *logrus.Logger
}

// NewStripeProvider creates a Stripe client. The SDK's own retries are disabled;
// retries happen here so that every attempt gets the configured timeout.
func NewStripeProvider(cfg config.StripeConfig, logger *logrus.Logger) *StripeProvider {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIBaseURL != "" {
		backendConfig.URL = stripe.String(cfg.APIBaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		backoff:       cfg.RetryBackoff,
		logger:        logger,
	}
}

// CreatePaymentIntent creates an intent carrying the booking metadata
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string, receiptEmail *string) (*PaymentIntent, error) {
	idempotencyKey := uuid.NewString()

	var intent *stripe.PaymentIntent
	err := p.withRetry(ctx, "create_payment_intent", func(attemptCtx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(amount),
			Currency: stripe.String(currency),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		if receiptEmail != nil && *receiptEmail != "" {
			params.ReceiptEmail = stripe.String(*receiptEmail)
		}
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		params.Context = attemptCtx
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		intent, err = p.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return toPaymentIntent(intent), nil
}

// RetrievePaymentIntent fetches an intent with its latest charge expanded
func (p *StripeProvider) RetrievePaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error) {
	var intent *stripe.PaymentIntent
	err := p.withRetry(ctx, "retrieve_payment_intent", func(attemptCtx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.AddExpand("latest_charge")
		params.Context = attemptCtx

		var err error
		intent, err = p.api.PaymentIntents.Get(ref, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return toPaymentIntent(intent), nil
}

// IssueRefund refunds amount of the charge. The idempotency key makes retries and
// repeated cancellations safe to send.
func (p *StripeProvider) IssueRefund(ctx context.Context, chargeRef string, amount int64, idempotencyKey string) (*Refund, error) {
	var refund *stripe.Refund
	err := p.withRetry(ctx, "issue_refund", func(attemptCtx context.Context) error {
		params := &stripe.RefundParams{
			Charge: stripe.String(chargeRef),
			Amount: stripe.Int64(amount),
		}
		params.Context = attemptCtx
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		refund, err = p.api.Refunds.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Refund{ID: refund.ID, Status: string(refund.Status)}, nil
}

// UpdateMetadata merges keys into the intent metadata. Existing keys not named are left alone.
func (p *StripeProvider) UpdateMetadata(ctx context.Context, ref string, metadata map[string]string) error {
	return p.withRetry(ctx, "update_metadata", func(attemptCtx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		params.Context = attemptCtx

		_, err := p.api.PaymentIntents.Update(ref, params)
		return err
	})
}

// ParseWebhook verifies the signature and decodes payment intent events
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "invalid webhook signature")
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}

	switch out.Type {
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, models.NewValidationError(models.CodeInvalidRequest, "malformed payment intent payload")
		}
		out.Intent = toPaymentIntent(&intent)
	}

	return out, nil
}

func (p *StripeProvider) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.NewProviderTransientError("payment provider call cancelled", ctx.Err())
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = classifyStripeError(err)
		if !models.IsKind(lastErr, models.KindProviderTransient) {
			return lastErr
		}

		p.logger.WithError(err).WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt + 1,
		}).Warn("Payment provider call failed, retrying")
	}

	return lastErr
}

// classifyStripeError maps SDK errors onto transient (retryable) or permanent failures
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI {
			return models.NewProviderTransientError("payment provider unavailable", err)
		}
		return models.NewProviderPermanentError(fmt.Sprintf("payment provider rejected request: %s", stripeErr.Msg), err)
	}

	// network failures and timeouts never reached a decision
	return models.NewProviderTransientError("payment provider unreachable", err)
}

func toPaymentIntent(intent *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		Amount:       intent.Amount,
		Currency:     string(intent.Currency),
		ReceiptEmail: intent.ReceiptEmail,
		Metadata:     intent.Metadata,
	}
	if intent.LatestCharge != nil {
		out.ChargeRef = intent.LatestCharge.ID
	}
	return out
}
