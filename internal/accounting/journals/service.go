package journals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// AuditPort records ledger actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AccountRegistry resolves and checks ledger accounts.
type AccountRegistry interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
	Require(ctx context.Context, ids ...int64) error
}

// Service persists drafts as posted journal entries and answers ledger queries.
type Service struct {
	repo     Repository
	accounts AccountRegistry
	audit    AuditPort
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, registry AccountRegistry, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, accounts: registry, audit: audit, validate: validator.New(), logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post persists a balanced draft as a POSTED entry. The period guard, the
// header insert and every line insert share one transaction; any failure
// leaves nothing behind.
func (s *Service) Post(ctx context.Context, in PostInput) (JournalEntry, error) {
	if err := s.validate.Struct(in); err != nil {
		return JournalEntry{}, err
	}
	if err := in.Draft.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if err := s.accounts.Require(ctx, in.Draft.AccountIDs()...); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := periods.AssertPostable(ctx, tx, in.Date)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			ReferenceNumber: in.ReferenceNumber,
			Date:            in.Date,
			Description:     in.Description,
			Status:          accounting.JournalStatusPosted,
			SourceEvent:     in.SourceEvent,
			PeriodID:        period.ID,
			PostedBy:        in.ActorID,
		})
		if err != nil {
			return err
		}
		inserted.Lines, err = tx.InsertLines(ctx, inserted.ID, in.Draft.Lines)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	debit, _ := entry.Totals()
	s.record(ctx, in.ActorID, "journal.post", entry.ID, map[string]any{
		"reference":    entry.ReferenceNumber,
		"source_event": entry.SourceEvent,
		"total":        debit.String(),
	})
	return entry, nil
}

// Reverse posts a mirror entry of a POSTED entry and marks the original
// REVERSED. The original lines are never touched.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (JournalEntry, error) {
	if in.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("accounting: entry id required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.LoadForUpdate(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if original.Status != accounting.JournalStatusPosted {
			return accounting.ErrInvalidStatus
		}
		date := in.Date
		if date.IsZero() {
			date = original.Date
		}
		period, err := periods.AssertPostable(ctx, tx, date)
		if err != nil {
			return err
		}
		reference := in.ReferenceNumber
		if reference == "" {
			reference = "REV-" + original.ReferenceNumber
		}
		originalID := original.ID
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			ReferenceNumber: reference,
			Date:            date,
			Description:     defaultReversalMemo(in.Memo, original.ReferenceNumber),
			Status:          accounting.JournalStatusPosted,
			SourceEvent:     original.SourceEvent,
			PeriodID:        period.ID,
			ReversalOf:      &originalID,
			PostedBy:        in.ActorID,
		})
		if err != nil {
			return err
		}
		inserted.Lines, err = tx.InsertLines(ctx, inserted.ID, reverseDraft(original).Lines)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, original.ID, accounting.JournalStatusReversed); err != nil {
			return err
		}
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.reverse", in.EntryID, map[string]any{
		"reversal_id":        reversal.ID,
		"reversal_reference": reversal.ReferenceNumber,
	})
	return reversal, nil
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Get(ctx, id)
}

// GetByReference returns the entry posted under reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (JournalEntry, error) {
	return s.repo.GetByReference(ctx, reference)
}

// List returns entry headers matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.List(ctx, filter)
}

// AccountBalance sums posted lines of the account up to asOf and signs the
// result by the account's normal side.
func (s *Service) AccountBalance(ctx context.Context, accountID int64, asOf time.Time) (AccountBalance, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return AccountBalance{}, err
	}
	debit, credit, err := s.repo.AccountTotals(ctx, accountID, asOf)
	if err != nil {
		return AccountBalance{}, err
	}
	return AccountBalance{
		AccountID:     acc.ID,
		Code:          acc.Code,
		NormalBalance: acc.NormalBalance,
		AsOf:          asOf,
		Debit:         debit,
		Credit:        credit,
		Balance:       acc.Signed(debit, credit),
	}, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultReversalMemo(memo, reference string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", reference)
}
