package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

type memoryRuleStore struct {
	mu     sync.Mutex
	nextID int64
	rules  map[int64]PostingRule
	finds  int
}

func newMemoryRuleStore() *memoryRuleStore {
	return &memoryRuleStore{rules: make(map[int64]PostingRule)}
}

func (m *memoryRuleStore) activeConflict(eventType string, skip int64) bool {
	for id, r := range m.rules {
		if id != skip && r.IsActive && r.EventType == eventType {
			return true
		}
	}
	return false
}

func (m *memoryRuleStore) FindActiveRule(ctx context.Context, eventType string) (PostingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	var ids []int64
	for id, r := range m.rules {
		if r.IsActive && r.EventType == eventType {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return PostingRule{}, accounting.ErrRuleNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return m.rules[ids[0]], nil
}

func (m *memoryRuleStore) Get(ctx context.Context, id int64) (PostingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return PostingRule{}, accounting.ErrRuleNotFound
	}
	return r, nil
}

func (m *memoryRuleStore) List(ctx context.Context, filter ListFilter) ([]PostingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PostingRule
	for _, r := range m.rules {
		if filter.EventType != "" && r.EventType != filter.EventType {
			continue
		}
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRuleStore) Create(ctx context.Context, in RuleInput) (PostingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.IsActive && m.activeConflict(in.EventType, 0) {
		return PostingRule{}, ErrDuplicateActiveRule
	}
	m.nextID++
	rule := PostingRule{ID: m.nextID, EventType: in.EventType, Description: in.Description, Module: in.Module, IsActive: in.IsActive, Lines: linesFromInput(in.Lines)}
	for i := range rule.Lines {
		rule.Lines[i].RuleID = rule.ID
		rule.Lines[i].ID = int64(i + 1)
	}
	m.rules[rule.ID] = rule
	return rule, nil
}

func (m *memoryRuleStore) Update(ctx context.Context, id int64, in RuleInput) (PostingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return PostingRule{}, accounting.ErrRuleNotFound
	}
	if in.IsActive && m.activeConflict(in.EventType, id) {
		return PostingRule{}, ErrDuplicateActiveRule
	}
	rule := PostingRule{ID: id, EventType: in.EventType, Description: in.Description, Module: in.Module, IsActive: in.IsActive, Lines: linesFromInput(in.Lines)}
	m.rules[id] = rule
	return rule, nil
}

func (m *memoryRuleStore) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return accounting.ErrRuleNotFound
	}
	if active && m.activeConflict(r.EventType, id) {
		return ErrDuplicateActiveRule
	}
	r.IsActive = active
	m.rules[id] = r
	return nil
}

type stubAccounts struct {
	missing map[int64]bool
}

func (s stubAccounts) Require(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if s.missing[id] {
			return &accounting.AccountError{AccountID: id, Err: accounting.ErrAccountNotFound}
		}
	}
	return nil
}
