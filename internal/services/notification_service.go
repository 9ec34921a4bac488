package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// NotificationEvent names a customer-facing lifecycle event
type NotificationEvent string

const (
	NotifyBookingConfirmed NotificationEvent = "booking_confirmed"
	NotifyBookingCancelled NotificationEvent = "booking_cancelled"
	NotifyBookingExtended  NotificationEvent = "booking_extended"
	NotifyBookingOverdue   NotificationEvent = "booking_overdue"
	NotifyRefundFailed     NotificationEvent = "refund_failed"
	NotifyConflictRefunded NotificationEvent = "conflict_refunded"
)

// TypeBookingNotification is the asynq task type for booking notifications
const TypeBookingNotification = "booking:notify"

// Notification is the payload handed to the delivery channel
type Notification struct {
	Event        NotificationEvent `json:"event"`
	BookingID    uuid.UUID         `json:"booking_id,omitempty"`
	UserID       *uuid.UUID        `json:"user_id,omitempty"`
	ContactEmail *string           `json:"contact_email,omitempty"`
	LockPIN      string            `json:"lock_pin,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// NewBookingNotification builds a notification addressed to the booking's customer
func NewBookingNotification(event NotificationEvent, booking *models.Booking) Notification {
	return Notification{
		Event:        event,
		BookingID:    booking.ID,
		UserID:       booking.UserID,
		ContactEmail: booking.ContactEmail,
	}
}

// Notifier delivers a notification to some channel
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// QueueNotifier enqueues notifications for the background worker
type QueueNotifier struct {
	client *asynq.Client
	queue  string
}

// NewQueueNotifier creates a notifier backed by an asynq client
func NewQueueNotifier(client *asynq.Client, queue string) *QueueNotifier {
	return &QueueNotifier{client: client, queue: queue}
}

// Notify enqueues the notification
func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	task := asynq.NewTask(TypeBookingNotification, payload)
	_, err = q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// LogNotifier only logs notifications. Used when no queue is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.WithFields(logrus.Fields{
		"event":      n.Event,
		"booking_id": n.BookingID,
	}).Info("Notification")
	return nil
}

// Dispatcher sends notifications without blocking or failing the caller
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *logrus.Logger
	wg       sync.WaitGroup
}

// NewDispatcher creates a fire-and-forget dispatcher
func NewDispatcher(notifier Notifier, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Dispatch delivers n in the background. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(n Notification) {
	if d == nil || d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.WithField("panic", r).Error("Notification delivery panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"event":      n.Event,
				"booking_id": n.BookingID,
			}).Warn("Failed to deliver notification")
		}
	}()
}

// Wait blocks until in-flight deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// NotificationTaskHandler processes queued notifications in the worker.
// Delivery goes to the configured notifier (log only by default).
func NotificationTaskHandler(delivery Notifier, logger *logrus.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var n Notification
		if err := json.Unmarshal(task.Payload(), &n); err != nil {
			logger.WithError(err).Error("Invalid notification payload")
			return fmt.Errorf("invalid notification payload: %w: %v", asynq.SkipRetry, err)
		}
		return delivery.Notify(ctx, n)
	}
}
