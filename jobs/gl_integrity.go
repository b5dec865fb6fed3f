package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reports"
)

// ImbalanceFinder lists stored entries that violate double entry and totals
// the ledger per account.
type ImbalanceFinder interface {
	Imbalances(ctx context.Context, since time.Time) ([]journals.Imbalance, error)
	TrialBalance(ctx context.Context) (reports.TrialBalance, error)
}

// ErrLedgerImbalanced reports that the integrity scan found broken entries.
var ErrLedgerImbalanced = errors.New("ledger integrity: unbalanced entries found")

// LedgerIntegrityJob re-checks recently posted entries.
type LedgerIntegrityJob struct {
	Finder  ImbalanceFinder
	Logger  *slog.Logger
	Metrics JobRecorder
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(finder ImbalanceFinder, logger *slog.Logger, metrics JobRecorder) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Finder:  finder,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle scans entries dated within the lookback window and checks that the
// whole ledger still balances. Findings are logged and fail the task without
// retry so they surface in the queue.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Finder == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observe(j.Metrics, TaskLedgerIntegrity, "invalid")
		return fmt.Errorf("%w: decode integrity payload: %v", asynq.SkipRetry, err)
	}
	if payload.LookbackDays <= 0 {
		payload.LookbackDays = 31
	}
	start := j.clock()
	since := start.AddDate(0, 0, -payload.LookbackDays).Truncate(24 * time.Hour)
	logger := loggerOr(j.Logger).With(slog.String("job", TaskLedgerIntegrity), slog.Time("since", since))

	found, err := j.Finder.Imbalances(ctx, since)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		observe(j.Metrics, TaskLedgerIntegrity, "failure")
		return err
	}
	for _, im := range found {
		logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", im.EntryID),
			slog.String("reference", im.Reference),
			slog.String("debit", im.Debit.String()),
			slog.String("credit", im.Credit.String()),
			slog.Int("lines", im.Lines),
		)
	}
	tb, err := j.Finder.TrialBalance(ctx)
	if err != nil {
		logger.Error("trial balance failed", slog.Any("error", err))
		observe(j.Metrics, TaskLedgerIntegrity, "failure")
		return err
	}
	violations := len(found)
	if !tb.Balanced() {
		violations++
		logger.Error("trial balance out of balance",
			slog.String("total_debit", tb.TotalDebit.String()),
			slog.String("total_credit", tb.TotalCredit.String()),
			slog.String("difference", tb.Difference().String()),
		)
	}
	logger.Info("integrity scan completed", slog.Int("violations", violations), slog.Duration("duration", j.clock().Sub(start)))
	if violations > 0 {
		observe(j.Metrics, TaskLedgerIntegrity, "violations")
		return fmt.Errorf("%w: %w (%d)", asynq.SkipRetry, ErrLedgerImbalanced, violations)
	}
	observe(j.Metrics, TaskLedgerIntegrity, "success")
	return nil
}
