package rules

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
)

// CachedStore serves rule reads through a versioned Redis cache. Every write
// bumps the cache version, so a rule written here is never served stale.
type CachedStore struct {
	next   Store
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewCachedStore wraps next with cache.
func NewCachedStore(next Store, c *cache.Versioned, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{next: next, cache: c, logger: logger}
}

var _ Store = (*CachedStore)(nil)

func (s *CachedStore) FindActiveRule(ctx context.Context, eventType string) (PostingRule, error) {
	return s.fetch(ctx, []string{"active", eventType}, func(ctx context.Context) (PostingRule, error) {
		return s.next.FindActiveRule(ctx, eventType)
	})
}

func (s *CachedStore) Get(ctx context.Context, id int64) (PostingRule, error) {
	return s.fetch(ctx, []string{"id", strconv.FormatInt(id, 10)}, func(ctx context.Context) (PostingRule, error) {
		return s.next.Get(ctx, id)
	})
}

func (s *CachedStore) fetch(ctx context.Context, parts []string, load func(context.Context) (PostingRule, error)) (PostingRule, error) {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("rule cache unavailable", slog.Any("error", err))
		return load(ctx)
	}
	var rule PostingRule
	var loadErr error
	err = s.cache.FetchJSON(ctx, key, &rule, func(ctx context.Context) (any, error) {
		r, err := load(ctx)
		loadErr = err
		return r, err
	})
	if err == nil {
		return rule, nil
	}
	if loadErr != nil {
		return PostingRule{}, loadErr
	}
	s.logger.Warn("rule cache unavailable", slog.Any("error", err))
	return load(ctx)
}

func (s *CachedStore) List(ctx context.Context, filter ListFilter) ([]PostingRule, error) {
	return s.next.List(ctx, filter)
}

func (s *CachedStore) Create(ctx context.Context, in RuleInput) (PostingRule, error) {
	rule, err := s.next.Create(ctx, in)
	if err != nil {
		return PostingRule{}, err
	}
	s.bump(ctx)
	return rule, nil
}

func (s *CachedStore) Update(ctx context.Context, id int64, in RuleInput) (PostingRule, error) {
	rule, err := s.next.Update(ctx, id, in)
	if err != nil {
		return PostingRule{}, err
	}
	s.bump(ctx)
	return rule, nil
}

func (s *CachedStore) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.next.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

func (s *CachedStore) bump(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// A failed bump leaves old entries readable until their TTL lapses.
		s.logger.Error("rule cache bump failed", slog.Any("error", err))
	}
}
