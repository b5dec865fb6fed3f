package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/budget"
)

// SourceReleaser releases the active encumbrances of a source document.
type SourceReleaser interface {
	ReleaseSource(ctx context.Context, source budget.Encumberable) (int, error)
}

// BudgetReleaseJob returns reserved budget when a purchase document is
// cancelled upstream.
type BudgetReleaseJob struct {
	Service SourceReleaser
	Logger  *slog.Logger
	Metrics JobRecorder
}

// NewBudgetReleaseJob initialises the release handler.
func NewBudgetReleaseJob(service SourceReleaser, logger *slog.Logger, metrics JobRecorder) *BudgetReleaseJob {
	return &BudgetReleaseJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle releases every active encumbrance of the payload source. Releasing
// a source without active encumbrances is a no-op, so redelivery is safe.
func (j *BudgetReleaseJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("budget release: handler not configured")
	}
	var payload BudgetReleasePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observe(j.Metrics, TaskBudgetRelease, "invalid")
		return fmt.Errorf("%w: decode budget release: %v", asynq.SkipRetry, err)
	}
	logger := loggerOr(j.Logger).With(slog.String("source", payload.Source.String()))

	released, err := j.Service.ReleaseSource(ctx, payload.Source)
	if err != nil {
		if errors.Is(err, budget.ErrInvalidSource) {
			observe(j.Metrics, TaskBudgetRelease, "invalid")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		logger.Error("release encumbrances", slog.Any("error", err))
		observe(j.Metrics, TaskBudgetRelease, "failure")
		return err
	}
	logger.Info("encumbrances released", slog.Int("released", released), slog.String("reason", payload.Reason))
	observe(j.Metrics, TaskBudgetRelease, "success")
	return nil
}
