// Package posting turns business events into posted journal entries using the
// active posting rule of each event type.
package posting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/rules"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Outcome labels one handled event.
type Outcome string

const (
	OutcomePosted        Outcome = "posted"
	OutcomeSkippedNoRule Outcome = "skipped_no_rule"
	OutcomeSkippedEmpty  Outcome = "skipped_empty"
	OutcomeRejected      Outcome = "rejected"
	OutcomeConflict      Outcome = "conflict"
	OutcomeFailed        Outcome = "failed"
)

// Event is a business occurrence submitted for posting.
type Event struct {
	Type            string          `json:"event_type" validate:"required,max=128"`
	Payload         payload.Payload `json:"payload"`
	ReferenceNumber string          `json:"reference_number" validate:"required,max=64"`
	Description     string          `json:"description" validate:"max=500"`
	Date            time.Time       `json:"date" validate:"required"`
	ActorID         int64           `json:"actor_id"`
}

// RuleFinder looks up the active rule of an event type.
type RuleFinder interface {
	FindActiveRule(ctx context.Context, eventType string) (rules.PostingRule, error)
}

// Poster persists a balanced draft.
type Poster interface {
	Post(ctx context.Context, in journals.PostInput) (journals.JournalEntry, error)
}

// Recorder meters handled events.
type Recorder interface {
	ObservePosting(eventType, outcome string, elapsed time.Duration)
}

// Service orchestrates rule lookup, draft building and journal persistence.
type Service struct {
	rules    RuleFinder
	journals Poster
	metrics  Recorder
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a Service. metrics may be nil.
func NewService(finder RuleFinder, poster Poster, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rules: finder, journals: poster, metrics: metrics, validate: validator.New(), logger: logger}
}

// Handle posts ev through its active rule. A missing rule or an all-zero
// payload is a no-op and returns (nil, nil). The engine never retries; a
// duplicate reference surfaces as accounting.ErrDuplicateReference.
func (s *Service) Handle(ctx context.Context, ev Event) (*journals.JournalEntry, error) {
	start := time.Now()
	entry, outcome, err := s.handle(ctx, ev)
	s.observe(ev, outcome, start, entry, err)
	return entry, err
}

// Emit posts ev and drops the resulting entry.
func (s *Service) Emit(ctx context.Context, ev Event) error {
	_, err := s.Handle(ctx, ev)
	return err
}

func (s *Service) handle(ctx context.Context, ev Event) (*journals.JournalEntry, Outcome, error) {
	if err := s.validate.Struct(ev); err != nil {
		return nil, OutcomeRejected, err
	}
	rule, err := s.rules.FindActiveRule(ctx, ev.Type)
	if err != nil {
		if errors.Is(err, accounting.ErrRuleNotFound) {
			return nil, OutcomeSkippedNoRule, nil
		}
		return nil, OutcomeFailed, err
	}
	draft, err := journals.Build(rule.Lines, ev.Payload)
	if err != nil {
		if errors.Is(err, accounting.ErrEmptyPosting) {
			return nil, OutcomeSkippedEmpty, nil
		}
		return nil, Classify(err), err
	}
	description := ev.Description
	if description == "" {
		description = payload.RenderTemplate(ev.Payload, rule.Description)
	}
	entry, err := s.journals.Post(ctx, journals.PostInput{
		ReferenceNumber: ev.ReferenceNumber,
		Date:            ledgerDate(ev.Date),
		Description:     description,
		SourceEvent:     ev.Type,
		ActorID:         ev.ActorID,
		Draft:           draft,
	})
	if err != nil {
		return nil, Classify(err), err
	}
	return &entry, OutcomePosted, nil
}

func (s *Service) observe(ev Event, outcome Outcome, start time.Time, entry *journals.JournalEntry, err error) {
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObservePosting(ev.Type, string(outcome), elapsed)
	}
	attrs := []any{
		slog.String("event_type", ev.Type),
		slog.String("reference", ev.ReferenceNumber),
		slog.String("outcome", string(outcome)),
		slog.Duration("elapsed", elapsed),
	}
	switch outcome {
	case OutcomePosted:
		s.logger.Info("event posted", append(attrs, slog.Int64("entry_id", entry.ID))...)
	case OutcomeSkippedNoRule, OutcomeSkippedEmpty:
		s.logger.Debug("event skipped", attrs...)
	case OutcomeFailed:
		s.logger.Error("event posting failed", append(attrs, slog.Any("error", err))...)
	default:
		s.logger.Warn("event posting rejected", append(attrs, slog.Any("error", err))...)
	}
}

var rejections = []error{
	accounting.ErrUnbalanced,
	accounting.ErrPeriodLocked,
	accounting.ErrPeriodNotFound,
	accounting.ErrAccountNotFound,
	accounting.ErrAccountInactive,
	payload.ErrMissingAmountKey,
	payload.ErrInvalidAmountType,
}

// ledgerDate keeps the calendar day of t as written by the sender and pins it
// to midnight UTC, so period lookup does not depend on the database time zone.
func ledgerDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Classify maps a posting error to its outcome. Rejected events will fail
// again unchanged; conflicts and failures may succeed on a later attempt.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomePosted
	}
	if errors.Is(err, accounting.ErrDuplicateReference) || errors.Is(err, db.ErrConflict) {
		return OutcomeConflict
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return OutcomeRejected
		}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return OutcomeRejected
	}
	return OutcomeFailed
}
