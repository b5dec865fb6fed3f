package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
)

// JobRecorder meters task executions.
type JobRecorder interface {
	ObserveJob(task, status string)
}

// EventPoster posts one business event.
type EventPoster interface {
	Handle(ctx context.Context, ev posting.Event) (*journals.JournalEntry, error)
}

// PostingEventJob drains queued business events into the ledger.
type PostingEventJob struct {
	Service EventPoster
	Logger  *slog.Logger
	Metrics JobRecorder
}

// NewPostingEventJob initialises the posting handler.
func NewPostingEventJob(service EventPoster, logger *slog.Logger, metrics JobRecorder) *PostingEventJob {
	return &PostingEventJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle posts the task's event. A reference that is already posted counts
// as done; events the ledger rejects are not retried.
func (j *PostingEventJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("posting event: handler not configured")
	}
	ev, err := decodeEvent(t.Payload())
	if err != nil {
		observe(j.Metrics, TaskPostingEvent, "invalid")
		return err
	}
	logger := loggerOr(j.Logger).With(
		slog.String("event_type", ev.Type),
		slog.String("reference", ev.ReferenceNumber),
	)

	entry, err := j.Service.Handle(ctx, ev)
	switch outcome := posting.Classify(err); {
	case err == nil:
		if entry != nil {
			logger.Info("queued event posted", slog.Int64("entry_id", entry.ID))
		}
		observe(j.Metrics, TaskPostingEvent, "success")
		return nil
	case errors.Is(err, accounting.ErrDuplicateReference):
		logger.Info("queued event already posted")
		observe(j.Metrics, TaskPostingEvent, "duplicate")
		return nil
	case outcome == posting.OutcomeRejected:
		logger.Warn("queued event rejected", slog.Any("error", err))
		observe(j.Metrics, TaskPostingEvent, "rejected")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		logger.Error("queued event failed", slog.String("outcome", string(outcome)), slog.Any("error", err))
		observe(j.Metrics, TaskPostingEvent, "failure")
		return err
	}
}

func observe(m JobRecorder, task, status string) {
	if m != nil {
		m.ObserveJob(task, status)
	}
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
