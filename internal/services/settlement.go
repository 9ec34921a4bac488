package services

import (
	"context"
	"crypto/subtle"

	"github.com/stowbox/rental-backend/internal/models"
)

// fetchSettledIntent reads the authoritative intent from the provider and checks it
// settled with a charge and well-formed metadata. A non-empty clientSecret must match the intent.
func fetchSettledIntent(ctx context.Context, provider PaymentProvider, audit *AuditService, intentRef, clientSecret string, source models.PaymentEventSource) (*PaymentIntent, models.PaymentMetadata, error) {
	var metadata models.PaymentMetadata

	intent, err := provider.RetrievePaymentIntent(ctx, intentRef)
	if err != nil {
		audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventError, source).
			SetPaymentIntent(intentRef).
			SetError(err))
		return nil, metadata, err
	}

	if clientSecret != "" && !matchesClientSecret(intent, clientSecret) {
		// indistinguishable from an unknown intent
		mismatch := models.NewNotFoundError(models.CodePaymentNotFound, "payment not found")
		audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventError, source).
			SetPaymentIntent(intentRef).
			SetError(mismatch))
		return nil, metadata, mismatch
	}

	audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventIntentRetrieved, source).
		SetPaymentIntent(intent.ID).
		SetCharge(intent.ChargeRef).
		SetProviderStatus(intent.Status))

	if !intent.Succeeded() {
		audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventNotSucceeded, source).
			SetPaymentIntent(intent.ID).
			SetProviderStatus(intent.Status))
		return nil, metadata, models.NewPaymentNotSucceededError(intent.Status)
	}

	if intent.ChargeRef == "" {
		missing := models.NewProviderTransientError("provider reported success without a settled charge", nil)
		missing.Code = models.CodeChargeMissing
		return nil, metadata, missing
	}

	metadata, err = models.ParsePaymentMetadata(intent.Metadata)
	if err != nil {
		audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventMaterializeFailed, source).
			SetPaymentIntent(intent.ID).
			SetError(err))
		return nil, metadata, err
	}

	return intent, metadata, nil
}

func matchesClientSecret(intent *PaymentIntent, clientSecret string) bool {
	return intent.ClientSecret != "" && subtle.ConstantTimeCompare([]byte(intent.ClientSecret), []byte(clientSecret)) == 1
}
