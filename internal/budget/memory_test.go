package budget

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memoryRepo serialises transactions the way the budget row lock does and
// restores its state when a transaction fails.
type memoryRepo struct {
	txMu         sync.Mutex
	mu           sync.Mutex
	budgets      map[int64]Budget
	encumbrances map[int64]Encumbrance
	nextBudget   int64
	nextEnc      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{budgets: map[int64]Budget{}, encumbrances: map[int64]Encumbrance{}}
}

func (m *memoryRepo) CreateBudget(ctx context.Context, in CreateBudgetInput) (Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBudget++
	b := Budget{
		ID: m.nextBudget, Name: in.Name, DepartmentID: in.DepartmentID, AccountID: in.AccountID,
		FiscalYear: in.FiscalYear, PeriodType: in.PeriodType, PeriodNumber: in.PeriodNumber,
		Amount: in.Amount, WarningThreshold: in.WarningThreshold, IsStrict: in.IsStrict,
		IsActive: true, EncumberedAmount: decimal.Zero,
	}
	m.budgets[b.ID] = b
	return b, nil
}

func (m *memoryRepo) GetBudget(ctx context.Context, id int64) (Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[id]
	if !ok {
		return Budget{}, ErrBudgetNotFound
	}
	return b, nil
}

func (m *memoryRepo) ListBudgets(ctx context.Context, fiscalYear int) ([]Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Budget
	for _, b := range m.budgets {
		if fiscalYear == 0 || b.FiscalYear == fiscalYear {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) SetBudgetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[id]
	if !ok {
		return ErrBudgetNotFound
	}
	b.IsActive = active
	m.budgets[id] = b
	return nil
}

func (m *memoryRepo) GetEncumbrance(ctx context.Context, id int64) (Encumbrance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.encumbrances[id]
	if !ok {
		return Encumbrance{}, ErrEncumbranceNotFound
	}
	return e, nil
}

func (m *memoryRepo) ListEncumbrances(ctx context.Context, budgetID int64) ([]Encumbrance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Encumbrance
	for _, e := range m.encumbrances {
		if e.BudgetID == budgetID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	budgets := make(map[int64]Budget, len(m.budgets))
	for k, v := range m.budgets {
		budgets[k] = v
	}
	encs := make(map[int64]Encumbrance, len(m.encumbrances))
	for k, v := range m.encumbrances {
		encs[k] = v
	}
	nextEnc := m.nextEnc
	m.mu.Unlock()

	if err := fn(ctx, memoryTx{m}); err != nil {
		m.mu.Lock()
		m.budgets, m.encumbrances, m.nextEnc = budgets, encs, nextEnc
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryTx struct{ m *memoryRepo }

func (t memoryTx) Reserve(ctx context.Context, budgetID int64, amount decimal.Decimal) (Budget, bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	b, ok := t.m.budgets[budgetID]
	if !ok || !b.IsActive {
		return Budget{}, false, nil
	}
	next := b.EncumberedAmount.Add(amount)
	if b.IsStrict && next.GreaterThan(b.Amount) {
		return Budget{}, false, nil
	}
	b.EncumberedAmount = next
	t.m.budgets[budgetID] = b
	return b, true, nil
}

func (t memoryTx) Unreserve(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	b, ok := t.m.budgets[budgetID]
	if !ok {
		return ErrBudgetNotFound
	}
	b.EncumberedAmount = b.EncumberedAmount.Sub(amount)
	t.m.budgets[budgetID] = b
	return nil
}

func (t memoryTx) LoadBudget(ctx context.Context, id int64) (Budget, error) {
	return t.m.GetBudget(ctx, id)
}

func (t memoryTx) InsertEncumbrance(ctx context.Context, e Encumbrance) (Encumbrance, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, existing := range t.m.encumbrances {
		if existing.BudgetID == e.BudgetID && existing.Source == e.Source && existing.Status == EncumbranceActive {
			return Encumbrance{}, ErrAlreadyEncumbered
		}
	}
	t.m.nextEnc++
	e.ID = t.m.nextEnc
	t.m.encumbrances[e.ID] = e
	return e, nil
}

func (t memoryTx) LoadEncumbranceForUpdate(ctx context.Context, id int64) (Encumbrance, error) {
	return t.m.GetEncumbrance(ctx, id)
}

func (t memoryTx) ActiveBySource(ctx context.Context, source Encumberable) ([]Encumbrance, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var out []Encumbrance
	for _, e := range t.m.encumbrances {
		if e.Source == source && e.Status == EncumbranceActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t memoryTx) CloseEncumbrance(ctx context.Context, id int64, status EncumbranceStatus, consumed *decimal.Decimal, at time.Time) (Encumbrance, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	e, ok := t.m.encumbrances[id]
	if !ok || e.Status != EncumbranceActive {
		return Encumbrance{}, ErrEncumbranceNotFound
	}
	e.Status = status
	e.ConsumedAmount = consumed
	if status == EncumbranceReleased {
		e.ReleasedAt = &at
	} else {
		e.ConsumedAt = &at
	}
	t.m.encumbrances[id] = e
	return e, nil
}
