package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/middleware"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/services"
	"github.com/stowbox/rental-backend/pkg/interval"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// withActor simulates AuthMiddleware
func withActor(actor models.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserContextKey, middleware.UserContext{
			UserID: actor.UserID,
			Email:  actor.Email,
			Roles:  actor.Roles,
		})
		c.Next()
	}
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// ============================================================================
// STUBS
// ============================================================================

type stubMaterializer struct {
	calls   []string
	sources []models.PaymentEventSource
	secrets []string
	result  *models.MaterializeResult
	err     error
}

func (s *stubMaterializer) ConfirmWithSecret(_ context.Context, intentRef, clientSecret string, _ *string) (*models.MaterializeResult, error) {
	s.calls = append(s.calls, intentRef)
	s.sources = append(s.sources, models.PaymentSourceClientPoll)
	s.secrets = append(s.secrets, clientSecret)
	return s.result, s.err
}

func (s *stubMaterializer) Materialize(_ context.Context, intentRef string, _ *string, source models.PaymentEventSource) (*models.MaterializeResult, error) {
	s.calls = append(s.calls, intentRef)
	s.sources = append(s.sources, source)
	return s.result, s.err
}

type stubExtension struct {
	applied []string
	quote   *models.ExtensionQuote
	result  *models.ExtensionResult
	err     error
}

func (s *stubExtension) Apply(_ context.Context, intentRef string, _ models.PaymentEventSource) (*models.ExtensionResult, error) {
	s.applied = append(s.applied, intentRef)
	return s.result, s.err
}

func (s *stubExtension) Calculate(_ context.Context, _ models.Actor, _ uuid.UUID, newEnd time.Time) (*models.ExtensionQuote, error) {
	if s.err != nil {
		return nil, s.err
	}
	q := *s.quote
	q.NewEndDate = newEnd
	return &q, nil
}

func (s *stubExtension) Start(_ context.Context, _ models.Actor, _ uuid.UUID, _ time.Time) (*models.ExtensionCheckout, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.ExtensionCheckout{Quote: s.quote, PaymentIntentID: "pi_ext", ClientSecret: "secret"}, nil
}

type stubCancellation struct {
	lastReason *string
	result     *models.CancellationResult
	err        error
}

func (s *stubCancellation) CanCancel(context.Context, models.Actor, uuid.UUID) (*models.CancellationEvaluation, error) {
	return &models.CancellationEvaluation{Eligible: true, RefundPercentage: 50}, s.err
}

func (s *stubCancellation) Cancel(_ context.Context, _ models.Actor, _ uuid.UUID, reason *string) (*models.CancellationResult, error) {
	s.lastReason = reason
	return s.result, s.err
}

type stubBookings struct {
	booking *models.Booking
	actor   models.Actor
	err     error
}

func (s *stubBookings) GetBooking(_ context.Context, actor models.Actor, _ uuid.UUID) (*models.Booking, error) {
	s.actor = actor
	return s.booking, s.err
}

func (s *stubBookings) ReportProblem(_ context.Context, actor models.Actor, _ uuid.UUID, description string) (*models.Booking, error) {
	s.actor = actor
	if s.err != nil {
		return nil, s.err
	}
	b := *s.booking
	b.ReportedProblems = append(b.ReportedProblems, models.ProblemReport{Description: description, ReportedAt: testNow})
	return &b, nil
}

func (s *stubBookings) RecordReturn(_ context.Context, actor models.Actor, _ uuid.UUID) (*models.Booking, error) {
	s.actor = actor
	return s.booking, s.err
}

type stubSyncer struct {
	ids    []uuid.UUID
	userID uuid.UUID
}

func (s *stubSyncer) SyncMany(_ context.Context, ids []uuid.UUID) *models.SyncResult {
	s.ids = ids
	return &models.SyncResult{Examined: len(ids)}
}

func (s *stubSyncer) SyncForUser(_ context.Context, userID uuid.UUID) (*models.SyncResult, error) {
	s.userID = userID
	return &models.SyncResult{Examined: 1, Updated: 1}, nil
}

type stubPINs struct{ err error }

func (s *stubPINs) Verify(context.Context, uuid.UUID, string) error { return s.err }

type stubAvailability struct {
	free     bool
	earliest *time.Time
	from     time.Time
}

func (s *stubAvailability) ForBox(_ context.Context, boxID uuid.UUID) (*services.BoxAvailability, error) {
	return &services.BoxAvailability{BoxID: boxID}, nil
}

func (s *stubAvailability) ForLocationModel(_ context.Context, locationID uuid.UUID, model models.BoxModel, from time.Time, _ time.Duration) (*services.ModelAvailability, error) {
	s.from = from
	if !model.IsValid() {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "unknown box model")
	}
	return &services.ModelAvailability{LocationID: locationID, Model: model}, nil
}

func (s *stubAvailability) IsFree(_ context.Context, _ uuid.UUID, window interval.Interval) (bool, error) {
	if !window.End.After(window.Start) {
		return false, models.NewValidationError(models.CodeInvalidInterval, "interval end must be after start")
	}
	return s.free, nil
}

func (s *stubAvailability) EarliestAvailableStart(_ context.Context, _ uuid.UUID, from time.Time, _ time.Duration) (*time.Time, error) {
	s.from = from
	return s.earliest, nil
}

type stubWebhookParser struct {
	event *services.WebhookEvent
	err   error
}

func (s *stubWebhookParser) ParseWebhook([]byte, string) (*services.WebhookEvent, error) {
	return s.event, s.err
}

type stubAuditor struct {
	seen    map[string]bool
	records []*models.PaymentAudit
}

func (s *stubAuditor) SeenEvent(_ context.Context, eventID string) bool { return s.seen[eventID] }

func (s *stubAuditor) Record(_ context.Context, audit *models.PaymentAudit) {
	s.records = append(s.records, audit)
	if audit.EventType == models.PaymentEventWebhookReceived && audit.IdempotencyKey != nil {
		if s.seen == nil {
			s.seen = map[string]bool{}
		}
		s.seen[*audit.IdempotencyKey] = true
	}
}

type stubJobs struct{ result *models.SyncResult }

func (s *stubJobs) RunStatusSyncNow() *models.SyncResult { return s.result }

func (s *stubJobs) GetJobStatus() map[string]interface{} {
	return map[string]interface{}{"running": true, "job_count": 1}
}

var errDatabaseDown = errors.New("database is down")
