package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/services"
)

// replay-payment re-runs materialization for settled payment intents whose webhook
// and client poll both failed. It is safe to run repeatedly.
func main() {
	var intents string
	var kind string
	flag.StringVar(&intents, "intents", "", "Comma-separated payment intent ids to replay")
	flag.StringVar(&kind, "kind", "booking", "Payment kind: booking or extension")
	flag.Parse()

	if intents == "" {
		log.Fatal("-intents is required")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	bookingRepo := database.NewBookingRepository(db.DB)
	boxRepo := database.NewBoxRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)

	clock := services.SystemClock{}
	provider := services.NewStripeProvider(cfg.Stripe, logger)
	dispatcher := services.NewDispatcher(services.NewLogNotifier(logger), logger)
	defer dispatcher.Wait()
	audit := services.NewAuditService(auditRepo, logger)
	refunder := services.NewRefunder(provider, paymentRepo, audit, logger)
	pins := services.NewLockPINService(bookingRepo, cfg.Security.LockPINDigits, cfg.Security.BcryptCost)

	// A single replay process needs no cross-process lock; the database
	// unique constraint on charge_ref still guards against a racing server.
	locker := services.NoopLocker{}

	var replay func(ctx context.Context, ref string) (interface{}, error)
	switch models.PaymentKind(kind) {
	case models.PaymentKindBooking:
		materializer := services.NewMaterializerService(bookingRepo, paymentRepo, provider, locker, pins, refunder, audit, dispatcher, clock, logger)
		replay = func(ctx context.Context, ref string) (interface{}, error) {
			return materializer.Materialize(ctx, ref, nil, models.PaymentSourceAdminReplay)
		}
	case models.PaymentKindExtension:
		pricing := services.NewPricing(cfg.Pricing)
		extension := services.NewExtensionService(bookingRepo, boxRepo, paymentRepo, pricing, provider, locker, refunder, audit, dispatcher, clock, logger)
		replay = func(ctx context.Context, ref string) (interface{}, error) {
			return extension.Apply(ctx, ref, models.PaymentSourceAdminReplay)
		}
	default:
		log.Fatalf("unknown -kind %q", kind)
	}

	failed := 0
	for _, ref := range strings.Split(intents, ",") {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		result, err := replay(ctx, ref)
		cancel()

		if err != nil {
			failed++
			fmt.Printf("%s\tFAILED\t%v\n", ref, err)
			continue
		}
		out, _ := json.Marshal(result)
		fmt.Printf("%s\tOK\t%s\n", ref, out)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
