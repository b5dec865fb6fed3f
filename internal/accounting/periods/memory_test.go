package periods

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryPeriodRepo struct {
	mu      sync.Mutex
	nextID  int64
	periods map[int64]Period
	entries map[int64]bool
}

func newMemoryPeriodRepo() *memoryPeriodRepo {
	return &memoryPeriodRepo{periods: make(map[int64]Period), entries: make(map[int64]bool)}
}

func (m *memoryPeriodRepo) List(ctx context.Context) ([]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Period, 0, len(m.periods))
	for _, p := range m.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (m *memoryPeriodRepo) Get(ctx context.Context, id int64) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (m *memoryPeriodRepo) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

// WithTx serialises transactions and applies changes to a copy that is only
// committed when fn succeeds.
func (m *memoryPeriodRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := make(map[int64]Period, len(m.periods))
	for k, v := range m.periods {
		staged[k] = v
	}
	tx := &memoryPeriodTx{repo: m, periods: staged, nextID: m.nextID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.periods = staged
	m.nextID = tx.nextID
	return nil
}

type memoryPeriodTx struct {
	repo    *memoryPeriodRepo
	periods map[int64]Period
	nextID  int64
}

func (t *memoryPeriodTx) LoadForUpdate(ctx context.Context, id int64) (Period, error) {
	p, ok := t.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (t *memoryPeriodTx) RangeConflict(ctx context.Context, start, end time.Time, excludeID int64) (bool, error) {
	for id, p := range t.periods {
		if id == excludeID {
			continue
		}
		if !start.After(p.EndDate) && !end.Before(p.StartDate) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryPeriodTx) HasEntries(ctx context.Context, id int64) (bool, error) {
	return t.repo.entries[id], nil
}

func (t *memoryPeriodTx) Insert(ctx context.Context, in CreatePeriodInput) (Period, error) {
	t.nextID++
	p := Period{ID: t.nextID, Name: in.Name, StartDate: in.StartDate, EndDate: in.EndDate, Status: PeriodStatusOpen}
	t.periods[p.ID] = p
	return p, nil
}

func (t *memoryPeriodTx) UpdateDates(ctx context.Context, id int64, in UpdatePeriodInput) (Period, error) {
	p := t.periods[id]
	p.Name, p.StartDate, p.EndDate = in.Name, in.StartDate, in.EndDate
	t.periods[id] = p
	return p, nil
}

func (t *memoryPeriodTx) Delete(ctx context.Context, id int64) error {
	if _, ok := t.periods[id]; !ok {
		return ErrPeriodNotFound
	}
	delete(t.periods, id)
	return nil
}

func (t *memoryPeriodTx) SetLock(ctx context.Context, id int64, status PeriodStatus, actorID *int64, at *time.Time, notes string) (Period, error) {
	p := t.periods[id]
	p.Status, p.LockedBy, p.LockedAt, p.LockNotes = status, actorID, at, notes
	t.periods[id] = p
	return p, nil
}
