package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Recorder meters commitment attempts.
type Recorder interface {
	ObserveBudgetCommit(outcome string)
}

// AuditPort records budget actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the encumbrance ledger.
type Service struct {
	repo     Repository
	audit    AuditPort
	metrics  Recorder
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. audit and metrics may be nil.
func NewService(repo Repository, audit AuditPort, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, validate: validator.New(), logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBudget validates and persists a budget.
func (s *Service) CreateBudget(ctx context.Context, in CreateBudgetInput) (Budget, error) {
	if err := s.validate.Struct(in); err != nil {
		return Budget{}, err
	}
	if err := in.Validate(); err != nil {
		return Budget{}, err
	}
	return s.repo.CreateBudget(ctx, in)
}

// GetBudget returns a budget.
func (s *Service) GetBudget(ctx context.Context, id int64) (Budget, error) {
	return s.repo.GetBudget(ctx, id)
}

// ListBudgets returns budgets of fiscalYear, or all when fiscalYear is 0.
func (s *Service) ListBudgets(ctx context.Context, fiscalYear int) ([]Budget, error) {
	return s.repo.ListBudgets(ctx, fiscalYear)
}

// DeactivateBudget stops new commitments; existing encumbrances are kept.
func (s *Service) DeactivateBudget(ctx context.Context, id int64) error {
	return s.repo.SetBudgetActive(ctx, id, false)
}

// ListEncumbrances returns the encumbrances of a budget, newest first.
func (s *Service) ListEncumbrances(ctx context.Context, budgetID int64) ([]Encumbrance, error) {
	if _, err := s.repo.GetBudget(ctx, budgetID); err != nil {
		return nil, err
	}
	return s.repo.ListEncumbrances(ctx, budgetID)
}

// Status reports encumbered, available and utilization figures.
func (s *Service) Status(ctx context.Context, budgetID int64) (StatusReport, error) {
	b, err := s.repo.GetBudget(ctx, budgetID)
	if err != nil {
		return StatusReport{}, err
	}
	return reportFor(b), nil
}

// Commit reserves amount on the budget for source. The budget row is
// incremented with one conditional update, so concurrent commits against a
// strict budget can never both pass a check only one of them satisfies. A
// strict rejection creates nothing.
func (s *Service) Commit(ctx context.Context, budgetID int64, source Encumberable, amount decimal.Decimal) (Encumbrance, error) {
	if !amount.IsPositive() || !payload.FitsScale(amount) {
		return Encumbrance{}, ErrInvalidAmount
	}
	if err := source.Validate(); err != nil {
		return Encumbrance{}, err
	}
	var (
		created Encumbrance
		budget  Budget
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, ok, err := tx.Reserve(ctx, budgetID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return rejection(ctx, tx, budgetID, amount)
		}
		budget = b
		created, err = tx.InsertEncumbrance(ctx, Encumbrance{
			BudgetID:  budgetID,
			Source:    source,
			Amount:    amount,
			Status:    EncumbranceActive,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, ErrBudgetExceeded) {
			outcome = "exceeded"
		}
		s.observe(outcome)
		s.logger.Warn("budget commit rejected",
			slog.Int64("budget_id", budgetID),
			slog.String("source", source.String()),
			slog.String("amount", amount.String()),
			slog.Any("error", err))
		return Encumbrance{}, err
	}
	if budget.OverWarning() {
		s.observe("over_warning")
		s.logger.Warn("budget over warning threshold",
			slog.Int64("budget_id", budgetID),
			slog.String("utilization", budget.Utilization().String()),
			slog.String("threshold", budget.WarningThreshold.String()),
			slog.Bool("over_budget", budget.EncumberedAmount.GreaterThan(budget.Amount)))
	} else {
		s.observe("committed")
	}
	s.record(ctx, "encumbrance.commit", created, map[string]any{
		"source": source.String(),
		"amount": amount.String(),
	})
	return created, nil
}

// rejection explains why Reserve matched no row.
func rejection(ctx context.Context, tx TxRepository, budgetID int64, amount decimal.Decimal) error {
	b, err := tx.LoadBudget(ctx, budgetID)
	if err != nil {
		return err
	}
	if !b.IsActive {
		return ErrBudgetInactive
	}
	return &BudgetExceededError{BudgetID: b.ID, Amount: b.Amount, Encumbered: b.EncumberedAmount, Requested: amount}
}

// Release moves an ACTIVE encumbrance to RELEASED and frees its amount.
func (s *Service) Release(ctx context.Context, id int64) (Encumbrance, error) {
	var released Encumbrance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.LoadEncumbranceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		released, err = s.close(ctx, tx, e, EncumbranceReleased, nil)
		return err
	})
	if err != nil {
		return Encumbrance{}, err
	}
	s.record(ctx, "encumbrance.release", released, nil)
	return released, nil
}

// ReleaseSource releases every ACTIVE encumbrance held by source, typically
// after the source document was cancelled. It returns the released count.
func (s *Service) ReleaseSource(ctx context.Context, source Encumberable) (int, error) {
	if err := source.Validate(); err != nil {
		return 0, err
	}
	var released []Encumbrance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		active, err := tx.ActiveBySource(ctx, source)
		if err != nil {
			return err
		}
		for _, e := range active {
			out, err := s.close(ctx, tx, e, EncumbranceReleased, nil)
			if err != nil {
				return err
			}
			released = append(released, out)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, e := range released {
		s.record(ctx, "encumbrance.release", e, map[string]any{"source": source.String()})
	}
	return len(released), nil
}

// Consume moves an ACTIVE encumbrance to CONSUMED, storing the actual spend.
// The budget is relieved by the originally encumbered amount; the difference
// is exposed through Encumbrance.Variance.
func (s *Service) Consume(ctx context.Context, id int64, actual decimal.Decimal) (Encumbrance, error) {
	if actual.IsNegative() || !payload.FitsScale(actual) {
		return Encumbrance{}, ErrInvalidAmount
	}
	var consumed Encumbrance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.LoadEncumbranceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		consumed, err = s.close(ctx, tx, e, EncumbranceConsumed, &actual)
		return err
	})
	if err != nil {
		return Encumbrance{}, err
	}
	s.record(ctx, "encumbrance.consume", consumed, map[string]any{
		"actual":   actual.String(),
		"variance": consumed.Variance().String(),
	})
	return consumed, nil
}

func (s *Service) close(ctx context.Context, tx TxRepository, e Encumbrance, next EncumbranceStatus, actual *decimal.Decimal) (Encumbrance, error) {
	if err := e.transition(next); err != nil {
		return Encumbrance{}, err
	}
	if err := tx.Unreserve(ctx, e.BudgetID, e.Amount); err != nil {
		return Encumbrance{}, err
	}
	return tx.CloseEncumbrance(ctx, e.ID, next, actual, s.now())
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveBudgetCommit(outcome)
	}
}

func (s *Service) record(ctx context.Context, action string, e Encumbrance, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["budget_id"] = e.BudgetID
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "encumbrance",
		EntityID: fmt.Sprintf("%d", e.ID),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
