// Package notify delivers best-effort in-app notifications. Producers enqueue
// a delivery task; the worker persists it into the notifications table.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-workforce/jobs"
)

// Notifier sends one notification.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind, message, link string) error
}

// Dispatcher wraps a Notifier and swallows its failures with a warning.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher. A nil notifier drops every message.
func NewDispatcher(notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifier: notifier, logger: logger}
}

// Notify sends the message and never fails the caller.
func (d *Dispatcher) Notify(ctx context.Context, userID int64, kind, message, link string) {
	if d == nil || d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, userID, kind, message, link); err != nil {
		d.logger.Warn("notification dropped",
			slog.Int64("user_id", userID),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}

// Enqueuer submits notification tasks.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, payload jobs.NotifyPayload) (*asynq.TaskInfo, error)
}

// QueueNotifier enqueues an asynq delivery task per notification.
type QueueNotifier struct {
	queue Enqueuer
	now   func() time.Time
}

// NewQueueNotifier builds the production notifier.
func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue, now: time.Now}
}

// WithNow overrides the clock.
func (q *QueueNotifier) WithNow(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

// Notify enqueues the delivery.
func (q *QueueNotifier) Notify(ctx context.Context, userID int64, kind, message, link string) error {
	_, err := q.queue.EnqueueNotification(ctx, jobs.NotifyPayload{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		Link:      link,
		CreatedAt: q.now().UTC(),
	})
	return err
}
