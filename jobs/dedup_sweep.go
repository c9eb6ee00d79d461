package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-workforce/internal/dedup"
	jobmetrics "github.com/odyssey-erp/odyssey-workforce/internal/jobs"
)

// DedupRunner executes both deduplication passes.
type DedupRunner interface {
	Run(ctx context.Context, actorID int64) (dedup.Report, error)
}

// DedupSweepJob runs the imported record deduplicator from the queue.
type DedupSweepJob struct {
	Runner  DedupRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDedupSweepJob wires dependencies for the sweep handler.
func NewDedupSweepJob(runner DedupRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *DedupSweepJob {
	return &DedupSweepJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle processes TaskImportsDedup tasks.
func (j *DedupSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Runner == nil {
		return errors.New("dedup sweep: handler not configured")
	}
	var payload DedupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("dedup payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskImportsDedup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("actor_id", payload.ActorID))
	report, err := j.Runner.Run(ctx, payload.ActorID)
	if err != nil {
		logger.Error("dedup sweep", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDeletions(string(dedup.PassStrict), report.StrictDeleted)
	j.Metrics.AddDeletions(string(dedup.PassLegacy), report.LegacyDeleted)
	logger.Info("dedup sweep complete",
		slog.Int("strict_deleted", report.StrictDeleted),
		slog.Int("legacy_deleted", report.LegacyDeleted))
	return nil
}

func (j *DedupSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
