package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
)

// AccountChecker verifies that ledger accounts exist and accept postings.
type AccountChecker interface {
	Require(ctx context.Context, ids ...int64) error
}

// SampleCheck builds lines against a sample payload and reports imbalance.
type SampleCheck func(lines []PostingRuleLine, p payload.Payload) error

// Service authors posting rules.
type Service struct {
	store    Store
	accounts AccountChecker
	check    SampleCheck
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a rule authoring Service. check may be nil, in which
// case sample payloads are ignored.
func NewService(store Store, accounts AccountChecker, check SampleCheck, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, accounts: accounts, check: check, validate: validator.New(), logger: logger}
}

// Get returns one rule with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PostingRule, error) {
	return s.store.Get(ctx, id)
}

// List returns rules matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PostingRule, error) {
	return s.store.List(ctx, filter)
}

// Create validates and stores a rule.
func (s *Service) Create(ctx context.Context, in RuleInput) (PostingRule, error) {
	in.EventType = strings.TrimSpace(in.EventType)
	if err := s.validateInput(ctx, in); err != nil {
		return PostingRule{}, err
	}
	rule, err := s.store.Create(ctx, in)
	if err != nil {
		return PostingRule{}, err
	}
	s.logger.Info("posting rule created", slog.Int64("rule_id", rule.ID), slog.String("event_type", rule.EventType), slog.Bool("active", rule.IsActive))
	return rule, nil
}

// Update replaces a rule definition including all of its lines.
func (s *Service) Update(ctx context.Context, id int64, in RuleInput) (PostingRule, error) {
	in.EventType = strings.TrimSpace(in.EventType)
	if err := s.validateInput(ctx, in); err != nil {
		return PostingRule{}, err
	}
	rule, err := s.store.Update(ctx, id, in)
	if err != nil {
		return PostingRule{}, err
	}
	s.logger.Info("posting rule updated", slog.Int64("rule_id", rule.ID), slog.String("event_type", rule.EventType))
	return rule, nil
}

// Activate makes the rule eligible for lookup.
func (s *Service) Activate(ctx context.Context, id int64) error {
	rule, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.accounts.Require(ctx, rule.AccountIDs()...); err != nil {
		return err
	}
	return s.store.SetActive(ctx, id, true)
}

// Deactivate hides the rule from lookup. The rule is retained.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.store.SetActive(ctx, id, false)
}

func (s *Service) validateInput(ctx context.Context, in RuleInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	ids := make([]int64, 0, len(in.Lines))
	for _, l := range in.Lines {
		ids = append(ids, l.AccountID)
	}
	if err := s.accounts.Require(ctx, ids...); err != nil {
		return err
	}
	if in.SamplePayload == nil || s.check == nil {
		return nil
	}
	sample, err := payload.Flatten(in.SamplePayload)
	if err != nil {
		return err
	}
	if err := s.check(linesFromInput(in.Lines), sample); err != nil {
		return fmt.Errorf("rules: sample payload: %w", err)
	}
	return nil
}
