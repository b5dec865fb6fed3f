package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskIdempotencyCleanup purges expired Idempotency-Key claims.
const TaskIdempotencyCleanup = "idempotency:cleanup"

// KeyCleaner deletes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupJob purges expired keys.
type IdempotencyCleanupJob struct {
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics JobRecorder
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(keys KeyCleaner, logger *slog.Logger, metrics JobRecorder) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle deletes keys older than the payload retention, 72h by default.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observe(j.Metrics, TaskIdempotencyCleanup, "invalid")
		return fmt.Errorf("%w: decode cleanup payload: %v", asynq.SkipRetry, err)
	}
	if payload.Retention <= 0 {
		payload.Retention = 72 * time.Hour
	}
	removed, err := j.Keys.Cleanup(ctx, payload.Retention)
	if err != nil {
		loggerOr(j.Logger).Error("idempotency cleanup", slog.Any("error", err))
		observe(j.Metrics, TaskIdempotencyCleanup, "failure")
		return err
	}
	loggerOr(j.Logger).Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("retention", payload.Retention))
	observe(j.Metrics, TaskIdempotencyCleanup, "success")
	return nil
}
