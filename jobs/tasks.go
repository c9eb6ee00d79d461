package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries in-app notification deliveries.
	QueueNotifications = "notifications"
	// TaskNotifyDeliver persists one in-app notification.
	TaskNotifyDeliver = "notify:deliver"
	// TaskImportsDedup runs the imported record deduplicator.
	TaskImportsDedup = "imports:dedup"
)

// NotifyPayload describes one notification for a user.
type NotifyPayload struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotifyTask constructs a delivery task. The notification id doubles as the
// task id so a retried enqueue cannot create a second row.
func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	if payload.ID == uuid.Nil {
		payload.ID = uuid.New()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyDeliver, data,
		asynq.TaskID(payload.ID.String()),
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
	), nil
}

// ParseNotifyPayload decodes a delivery task. Malformed payloads are not retried.
func ParseNotifyPayload(t *asynq.Task) (NotifyPayload, error) {
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return NotifyPayload{}, fmt.Errorf("notify payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ID == uuid.Nil || payload.UserID <= 0 || payload.Kind == "" {
		return NotifyPayload{}, fmt.Errorf("notify payload incomplete: %w", asynq.SkipRetry)
	}
	return payload, nil
}

// DedupPayload configures a scheduled deduplication run.
type DedupPayload struct {
	ActorID int64 `json:"actor_id"`
}

// NewDedupTask constructs a deduplication task.
func NewDedupTask(actorID int64) (*asynq.Task, error) {
	data, err := json.Marshal(DedupPayload{ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportsDedup, data, asynq.Queue(QueueDefault)), nil
}
