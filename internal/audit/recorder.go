package audit

import (
	"context"
	"log/slog"
)

// FailureObserver counts audit writes that could not be persisted.
type FailureObserver interface {
	AuditWriteFailed(kind string)
}

// Recorder is the best-effort entry point used by business components. Failures
// are logged and counted, never returned.
type Recorder struct {
	store    *Store
	logger   *slog.Logger
	observer FailureObserver
}

// NewRecorder wraps store. observer may be nil.
func NewRecorder(store *Store, logger *slog.Logger, observer FailureObserver) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, observer: observer}
}

// Record appends entry, logging any failure.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Error("audit append failed",
			slog.String("entity_type", entry.EntityType),
			slog.String("entity_id", entry.EntityID),
			slog.String("action", string(entry.Action)),
			slog.Any("error", err))
		r.fail("entry")
	}
}

// Snapshot stores a new version of the entity, logging any failure.
func (r *Recorder) Snapshot(ctx context.Context, entityType, entityID string, state any, changedBy int64) {
	if r == nil || r.store == nil {
		return
	}
	if _, err := r.store.Snapshot(ctx, entityType, entityID, state, changedBy); err != nil {
		r.logger.Error("audit snapshot failed",
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.Any("error", err))
		r.fail("snapshot")
	}
}

func (r *Recorder) fail(kind string) {
	if r.observer != nil {
		r.observer.AuditWriteFailed(kind)
	}
}
