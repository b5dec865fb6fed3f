package accounts

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Service manages the chart of accounts.
type Service struct {
	repo     Repository
	registry *Registry
	validate *validator.Validate
}

// NewService constructs a Service. registry may be nil.
func NewService(repo Repository, registry *Registry) *Service {
	return &Service{repo: repo, registry: registry, validate: validator.New()}
}

// List returns all accounts ordered by code.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	if s.registry != nil {
		return s.registry.Get(ctx, id)
	}
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new active account.
func (s *Service) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := s.validate.Struct(in); err != nil {
		return Account{}, err
	}
	if in.NormalBalance == "" {
		in.NormalBalance = accounting.DefaultNormalBalance(in.Type)
	}
	return s.repo.Create(ctx, in)
}

// Update renames an account, or changes its code/type while it is unused.
func (s *Service) Update(ctx context.Context, id int64, in UpdateAccountInput) (Account, error) {
	if err := s.validate.Struct(in); err != nil {
		return Account{}, err
	}
	if in.changesStructure() {
		used, err := s.repo.HasPostedLines(ctx, id)
		if err != nil {
			return Account{}, err
		}
		if used {
			return Account{}, ErrAccountInUse
		}
	}
	acc, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Account{}, err
	}
	s.invalidate(id)
	return acc, nil
}

// Deactivate hides the account from new postings. History is untouched.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

// Activate re-enables a deactivated account.
func (s *Service) Activate(ctx context.Context, id int64) error {
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *Service) invalidate(id int64) {
	if s.registry != nil {
		s.registry.Invalidate(id)
	}
}
