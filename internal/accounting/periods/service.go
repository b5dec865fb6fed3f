package periods

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// AuditPort records lock and unlock actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages accounting periods and their lock state.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance. audit may be nil.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns all periods, newest first.
func (s *Service) List(ctx context.Context) ([]Period, error) {
	return s.repo.List(ctx)
}

// Get returns one period.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// FindByDate returns the period covering date.
func (s *Service) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return s.repo.FindByDate(ctx, date)
}

// Create inserts a new OPEN period after validating overlap.
func (s *Service) Create(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		conflict, err := tx.RangeConflict(ctx, in.StartDate, in.EndDate, 0)
		if err != nil {
			return err
		}
		if conflict {
			return ErrPeriodOverlap
		}
		period, err = tx.Insert(ctx, in)
		return err
	})
	if db.IsExclusionViolation(err) {
		return Period{}, ErrPeriodOverlap
	}
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Update changes name and dates of an OPEN period.
func (s *Service) Update(ctx context.Context, id int64, in UpdatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != PeriodStatusOpen {
			return ErrPeriodNotOpen
		}
		conflict, err := tx.RangeConflict(ctx, in.StartDate, in.EndDate, id)
		if err != nil {
			return err
		}
		if conflict {
			return ErrPeriodOverlap
		}
		period, err = tx.UpdateDates(ctx, id, in)
		return err
	})
	if db.IsExclusionViolation(err) {
		return Period{}, ErrPeriodOverlap
	}
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Delete removes an OPEN period that holds no journal entries.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != PeriodStatusOpen {
			return ErrPeriodNotOpen
		}
		used, err := tx.HasEntries(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return ErrPeriodHasEntries
		}
		return tx.Delete(ctx, id)
	})
}

// Lock blocks further postings dated inside the period.
func (s *Service) Lock(ctx context.Context, id, actorID int64, notes string) (Period, error) {
	now := s.now()
	period, err := s.transition(ctx, id, PeriodStatusLocked, &actorID, &now, notes)
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.lock", period, notes)
	return period, nil
}

// Unlock reopens a locked period.
func (s *Service) Unlock(ctx context.Context, id, actorID int64) (Period, error) {
	period, err := s.transition(ctx, id, PeriodStatusOpen, nil, nil, "")
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.unlock", period, "")
	return period, nil
}

func (s *Service) transition(ctx context.Context, id int64, target PeriodStatus, actorID *int64, at *time.Time, notes string) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := validateTransition(current.Status, target); err != nil {
			return err
		}
		period, err = tx.SetLock(ctx, id, target, actorID, at, notes)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.logger.Info("period status changed", slog.Int64("period_id", id), slog.String("status", string(target)))
	return period, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, period Period, notes string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "accounting_period",
		EntityID: fmt.Sprintf("%d", period.ID),
		Meta: map[string]any{
			"name":  period.Name,
			"notes": notes,
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
