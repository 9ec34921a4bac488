package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// memStore implements BookingStore, BoxStore and PaymentStore with the same
// serialization guarantees the SQL repositories get from row locks
type memStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*models.Booking
	boxes    map[uuid.UUID]*models.Box
	payments map[string]*models.Payment
	syncErr  map[uuid.UUID]error
}

func newMemStore() *memStore {
	return &memStore{
		bookings: make(map[uuid.UUID]*models.Booking),
		boxes:    make(map[uuid.UUID]*models.Box),
		payments: make(map[string]*models.Payment),
		syncErr:  make(map[uuid.UUID]error),
	}
}

func (m *memStore) addBox(locationID uuid.UUID, model models.BoxModel, distributor *uuid.UUID) *models.Box {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := &models.Box{
		ID:                uuid.New(),
		StandID:           uuid.New(),
		LocationID:        locationID,
		DistributorUserID: distributor,
		Model:             model,
		Status:            models.BoxStatusActive,
	}
	m.boxes[box.ID] = box
	return box
}

func (m *memStore) addBooking(boxID uuid.UUID, start, end time.Time, status models.BookingStatus) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &models.Booking{
		ID:          uuid.New(),
		BoxID:       boxID,
		StartDate:   start,
		EndDate:     end,
		Status:      status,
		TotalAmount: 3000,
		Currency:    "eur",
	}
	m.bookings[b.ID] = b
	return copyBooking(b)
}

func (m *memStore) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func copyBooking(b *models.Booking) *models.Booking {
	c := *b
	c.ReportedProblems = append(models.ProblemReports(nil), b.ReportedProblems...)
	return &c
}

func copyPayment(p *models.Payment) *models.Payment {
	c := *p
	return &c
}

func (m *memStore) GetBookingByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	return copyBooking(b), nil
}

func (m *memStore) ListBlockingByBox(ctx context.Context, boxID uuid.UUID) ([]*models.Booking, error) {
	return m.ListBlockingByBoxes(ctx, []uuid.UUID{boxID})
}

func (m *memStore) ListBlockingByBoxes(_ context.Context, boxIDs []uuid.UUID) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(boxIDs))
	for _, id := range boxIDs {
		wanted[id] = true
	}
	var out []*models.Booking
	for _, b := range m.bookings {
		if wanted[b.BoxID] && b.Status.IsBlocking() {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *memStore) FindConflict(_ context.Context, boxID uuid.UUID, window interval.Interval, excludeID *uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findConflictLocked(boxID, window, excludeID), nil
}

func (m *memStore) findConflictLocked(boxID uuid.UUID, window interval.Interval, excludeID *uuid.UUID) *models.Booking {
	for _, b := range m.bookings {
		if b.BoxID != boxID || !b.Status.IsBlocking() {
			continue
		}
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		if interval.Overlaps(b.Interval(), window) {
			return copyBooking(b)
		}
	}
	return nil
}

func (m *memStore) ListSyncCandidates(_ context.Context, ownerID *uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, b := range m.bookings {
		due := b.Status.IsReserved() && !now.Before(b.StartDate) ||
			b.Status == models.BookingStatusActive && !now.Before(b.EndDate) ||
			b.Status.IsBlocking() && b.HasReturn()
		if !due {
			continue
		}
		if ownerID != nil && !b.IsOwnedBy(*ownerID) {
			continue
		}
		ids = append(ids, b.ID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (m *memStore) SyncStatus(_ context.Context, id uuid.UUID, next func(*models.Booking) models.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.syncErr[id]; err != nil {
		return false, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return false, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	target := next(copyBooking(b))
	if target == b.Status {
		return false, nil
	}
	b.Status = target
	return true, nil
}

func (m *memStore) Cancel(_ context.Context, id uuid.UUID, decide func(*models.Booking) (*database.CancellationDecision, error)) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	decision, err := decide(copyBooking(b))
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatusCancelled
	b.CancelledAt = &decision.CancelledAt
	b.CancellationReason = decision.Reason
	b.RefundPercentage = &decision.RefundPercentage
	b.RefundAmount = &decision.RefundAmount
	b.RefundStatus = &decision.RefundStatus
	return copyBooking(b), nil
}

func (m *memStore) UpdateRefundOutcome(_ context.Context, id uuid.UUID, status models.RefundStatus, refundRef *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	b.RefundStatus = &status
	b.RefundRef = refundRef
	return nil
}

func (m *memStore) RecordReturn(_ context.Context, id uuid.UUID, returnedAt time.Time, check func(*models.Booking) error) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	if err := check(copyBooking(b)); err != nil {
		return nil, err
	}
	b.ReturnedAt = &returnedAt
	b.Status = models.BookingStatusCompleted
	return copyBooking(b), nil
}

func (m *memStore) AppendProblemReport(_ context.Context, id uuid.UUID, report models.ProblemReport) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	b.ReportedProblems = append(b.ReportedProblems, report)
	return copyBooking(b), nil
}

func (m *memStore) claimLocked(in database.SettlementInput, kind models.PaymentKind) *models.Payment {
	p, ok := m.payments[in.PaymentIntentRef]
	if !ok {
		p = &models.Payment{
			ID:               uuid.New(),
			Kind:             kind,
			PaymentIntentRef: in.PaymentIntentRef,
			Amount:           in.Amount,
			Currency:         in.Currency,
			Status:           models.PaymentStatusUnsettled,
			CreatedAt:        in.Now,
		}
		m.payments[in.PaymentIntentRef] = p
	}
	return p
}

func (m *memStore) settleLocked(p *models.Payment, bookingID uuid.UUID, chargeRef string, now time.Time) error {
	for _, other := range m.payments {
		if other.ID != p.ID && other.ChargeRef != nil && *other.ChargeRef == chargeRef {
			return models.NewConflictError(models.CodeDuplicateSettledCharge, "charge is already linked to another payment")
		}
	}
	p.BookingID = &bookingID
	p.ChargeRef = &chargeRef
	p.Status = models.PaymentStatusSettled
	p.SettledAt = &now
	return nil
}

func (m *memStore) Materialize(_ context.Context, in database.MaterializeInput) (*database.SettlementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.claimLocked(in.SettlementInput, models.PaymentKindBooking)
	if p.IsLinked() {
		return &database.SettlementOutcome{Booking: copyBooking(m.bookings[*p.BookingID]), Payment: copyPayment(p), AlreadyProcessed: true}, nil
	}
	if p.Status == models.PaymentStatusRefunded {
		return nil, models.NewConflictError(models.CodeBoxNoLongerAvailable, "payment was refunded").
			WithDetail("refund_status", models.RefundStatusIssued)
	}
	if _, ok := m.boxes[in.Metadata.BoxID]; !ok {
		return nil, models.NewNotFoundError(models.CodeBoxNotFound, "box not found")
	}

	window := interval.Interval{Start: in.Metadata.Start, End: in.Metadata.End}
	if conflict := m.findConflictLocked(in.Metadata.BoxID, window, nil); conflict != nil {
		return &database.SettlementOutcome{Payment: copyPayment(p), Conflict: conflict}, nil
	}

	b := &models.Booking{
		ID:           uuid.New(),
		BoxID:        in.Metadata.BoxID,
		UserID:       in.Metadata.UserID,
		ContactEmail: in.ContactEmail,
		StartDate:    window.Start,
		EndDate:      window.End,
		Status:       in.InitialStatus,
		TotalAmount:  in.Amount,
		Currency:     in.Currency,
		PaymentID:    &p.ID,
		LockPINHash:  in.LockPINHash,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	if err := m.settleLocked(p, b.ID, in.ChargeRef, in.Now); err != nil {
		return nil, err
	}
	m.bookings[b.ID] = b

	return &database.SettlementOutcome{Booking: copyBooking(b), Payment: copyPayment(p)}, nil
}

func (m *memStore) ApplyExtension(_ context.Context, in database.SettlementInput, check func(*models.Booking) error) (*database.SettlementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.claimLocked(in, models.PaymentKindExtension)
	if p.IsLinked() {
		return &database.SettlementOutcome{Booking: copyBooking(m.bookings[*p.BookingID]), Payment: copyPayment(p), AlreadyProcessed: true}, nil
	}
	if p.Status == models.PaymentStatusRefunded {
		return nil, models.NewConflictError(models.CodeExtensionConflict, "payment was refunded").
			WithDetail("refund_status", models.RefundStatusIssued)
	}

	b, ok := m.bookings[in.Metadata.BookingID]
	if !ok {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	if err := check(copyBooking(b)); err != nil {
		return nil, err
	}

	window := interval.Interval{Start: b.EndDate, End: in.Metadata.NewEnd}
	if conflict := m.findConflictLocked(b.BoxID, window, &b.ID); conflict != nil {
		return &database.SettlementOutcome{Booking: copyBooking(b), Payment: copyPayment(p), Conflict: conflict}, nil
	}

	if err := m.settleLocked(p, b.ID, in.ChargeRef, in.Now); err != nil {
		return nil, err
	}
	b.EndDate = in.Metadata.NewEnd
	b.TotalAmount += in.Amount

	return &database.SettlementOutcome{Booking: copyBooking(b), Payment: copyPayment(p)}, nil
}

func (m *memStore) GetBoxByID(_ context.Context, id uuid.UUID) (*models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[id]
	if !ok {
		return nil, nil
	}
	c := *box
	return &c, nil
}

func (m *memStore) ListActiveBoxIDs(_ context.Context, locationID uuid.UUID, model models.BoxModel) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, box := range m.boxes {
		if box.LocationID == locationID && box.Model == model && box.IsOffered() {
			ids = append(ids, box.ID)
		}
	}
	return ids, nil
}

func (m *memStore) CreateUnsettled(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.PaymentIntentRef]; ok {
		return nil
	}
	c := *payment
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = models.PaymentStatusUnsettled
	m.payments[c.PaymentIntentRef] = &c
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (m *memStore) GetByIntentRef(_ context.Context, ref string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[ref]; ok {
		return copyPayment(p), nil
	}
	return nil, nil
}

func (m *memStore) GetByChargeRef(_ context.Context, ref string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ChargeRef != nil && *p.ChargeRef == ref {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (m *memStore) ListSettledByBooking(_ context.Context, bookingID uuid.UUID) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for _, p := range m.payments {
		if p.BookingID != nil && *p.BookingID == bookingID && p.Status == models.PaymentStatusSettled {
			out = append(out, copyPayment(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == models.PaymentKindBooking
		}
		return out[i].PaymentIntentRef < out[j].PaymentIntentRef
	})
	return out, nil
}

func (m *memStore) MarkRefunded(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			p.Status = models.PaymentStatusRefunded
		}
	}
	return nil
}

// ============================================================================
// PROVIDER, AUDIT AND NOTIFIER FAKES
// ============================================================================

type refundCall struct {
	ChargeRef      string
	Amount         int64
	IdempotencyKey string
}

type fakeProvider struct {
	mu          sync.Mutex
	seq         int
	intents     map[string]*PaymentIntent
	refunds     []refundCall
	refundErr   error
	retrieveErr error
	metadataErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: make(map[string]*PaymentIntent)}
}

func (p *fakeProvider) CreatePaymentIntent(_ context.Context, amount int64, currency string, metadata map[string]string, receiptEmail *string) (*PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	intent := &PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", p.seq),
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.seq),
		Status:       "requires_payment_method",
		Amount:       amount,
		Currency:     currency,
		Metadata:     metadata,
	}
	if receiptEmail != nil {
		intent.ReceiptEmail = *receiptEmail
	}
	p.intents[intent.ID] = intent
	c := *intent
	return &c, nil
}

// succeed settles the intent with the given charge
func (p *fakeProvider) succeed(ref, chargeRef string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[ref].Status = "succeeded"
	p.intents[ref].ChargeRef = chargeRef
}

func (p *fakeProvider) RetrievePaymentIntent(_ context.Context, ref string) (*PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	intent, ok := p.intents[ref]
	if !ok {
		return nil, models.NewProviderPermanentError("no such payment intent", nil)
	}
	c := *intent
	return &c, nil
}

func (p *fakeProvider) IssueRefund(_ context.Context, chargeRef string, amount int64, idempotencyKey string) (*Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	p.refunds = append(p.refunds, refundCall{ChargeRef: chargeRef, Amount: amount, IdempotencyKey: idempotencyKey})
	return &Refund{ID: "re_" + idempotencyKey, Status: "succeeded"}, nil
}

func (p *fakeProvider) UpdateMetadata(_ context.Context, ref string, metadata map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metadataErr != nil {
		return p.metadataErr
	}
	intent, ok := p.intents[ref]
	if !ok {
		return models.NewProviderPermanentError("no such payment intent", nil)
	}
	merged := make(map[string]string, len(intent.Metadata)+len(metadata))
	for k, v := range intent.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	intent.Metadata = merged
	return nil
}

func (p *fakeProvider) ParseWebhook([]byte, string) (*WebhookEvent, error) {
	return nil, errors.New("not supported")
}

func (p *fakeProvider) refundCalls() []refundCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]refundCall(nil), p.refunds...)
}

type memAuditLog struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (a *memAuditLog) Log(_ context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, audit)
	return nil
}

func (a *memAuditLog) CheckDuplicate(_ context.Context, eventType models.PaymentEventType, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.EventType == eventType && e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (a *memAuditLog) count(eventType models.PaymentEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
	return nil
}

func (r *recordingNotifier) count(event NotificationEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// ============================================================================
// ENGINE
// ============================================================================

type testEngine struct {
	now          time.Time
	store        *memStore
	provider     *fakeProvider
	auditLog     *memAuditLog
	notifier     *recordingNotifier
	dispatcher   *Dispatcher
	availability *AvailabilityService
	checkout     *CheckoutService
	materializer *MaterializerService
	cancellation *CancellationService
	extension    *ExtensionService
	status       *StatusService
	bookings     *BookingService
	pins         *LockPINService
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPolicy() config.CancellationConfig {
	return config.CancellationConfig{
		Tiers: []config.RefundTier{
			{MinHoursBeforeStart: 72, Percent: 100},
			{MinHoursBeforeStart: 24, Percent: 50},
			{MinHoursBeforeStart: 0, Percent: 0},
		},
		TransactionFee: 100,
	}
}

func newTestEngine(t *testing.T, now time.Time) *testEngine {
	t.Helper()

	logger := testLogger()
	clock := FixedClock{At: now}
	store := newMemStore()
	provider := newFakeProvider()
	auditLog := &memAuditLog{}
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, logger)

	audit := NewAuditService(auditLog, logger)
	pricing := NewPricing(config.PricingConfig{
		Currency:          "eur",
		BaseDailyPrice:    1000,
		ClassicMultiplier: 1.0,
		ProMultiplier:     1.5,
	})
	availability := NewAvailabilityService(store, store, clock, 24*time.Hour)
	refunder := NewRefunder(provider, store, audit, logger)
	pins := NewLockPINService(store, 6, bcrypt.MinCost)

	e := &testEngine{
		now:          now,
		store:        store,
		provider:     provider,
		auditLog:     auditLog,
		notifier:     notifier,
		dispatcher:   dispatcher,
		availability: availability,
		pins:         pins,
	}
	e.checkout = NewCheckoutService(store, store, availability, pricing, provider, audit, clock, logger)
	e.materializer = NewMaterializerService(store, store, provider, NoopLocker{}, pins, refunder, audit, dispatcher, clock, logger)
	e.cancellation = NewCancellationService(store, store, refunder, dispatcher, testPolicy(), clock, logger)
	e.extension = NewExtensionService(store, store, store, pricing, provider, NoopLocker{}, refunder, audit, dispatcher, clock, logger)
	e.status = NewStatusService(store, clock, dispatcher, 4, 100, logger)
	e.bookings = NewBookingService(store, store, clock, logger)

	return e
}

// paidCheckout runs checkout for the actor and settles the intent with chargeRef
func (e *testEngine) paidCheckout(t *testing.T, actor models.Actor, boxID uuid.UUID, start, end time.Time, chargeRef string) string {
	t.Helper()
	email := "renter@example.com"
	resp, err := e.checkout.CreateCheckout(context.Background(), actor, models.CheckoutRequest{
		BoxID:        boxID.String(),
		StartDate:    start,
		EndDate:      end,
		ContactEmail: &email,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	e.provider.succeed(resp.PaymentIntentID, chargeRef)
	return resp.PaymentIntentID
}
