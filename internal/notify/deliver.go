package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-workforce/internal/jobs"
	"github.com/odyssey-erp/odyssey-workforce/jobs"
)

// Deliverer is the worker handler for jobs.TaskNotifyDeliver.
type Deliverer struct {
	store   Store
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewDeliverer builds the delivery handler. metrics may be nil.
func NewDeliverer(store Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{store: store, logger: logger, metrics: metrics}
}

// Handle persists the notification carried by t. Redelivered tasks are no-ops.
func (d *Deliverer) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	payload, err := jobs.ParseNotifyPayload(t)
	if err != nil {
		d.logger.Warn("discard notification task", slog.Any("error", err))
		return err
	}

	tracker := d.metrics.Track(jobs.TaskNotifyDeliver)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	created, err := d.store.Insert(ctx, Notification{
		ID:        payload.ID,
		UserID:    payload.UserID,
		Kind:      payload.Kind,
		Message:   payload.Message,
		Link:      payload.Link,
		CreatedAt: payload.CreatedAt,
	})
	if err != nil {
		d.logger.Error("persist notification",
			slog.String("id", payload.ID.String()),
			slog.Any("error", err))
		return err
	}
	d.metrics.NotificationDelivered(created)
	if !created {
		d.logger.Debug("notification already delivered", slog.String("id", payload.ID.String()))
	}
	return nil
}
