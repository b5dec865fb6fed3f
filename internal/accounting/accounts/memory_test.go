package accounts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

type memoryAccountRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]Account
	used     map[int64]bool
	gets     atomic.Int64
	txGets   atomic.Int64
	gate     chan struct{}
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{accounts: make(map[int64]Account), used: make(map[int64]bool)}
}

func (m *memoryAccountRepo) List(ctx context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *memoryAccountRepo) Get(ctx context.Context, id int64) (Account, error) {
	m.gets.Add(1)
	if _, ok := db.TxFromContext(ctx); ok {
		m.txGets.Add(1)
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, accounting.ErrAccountNotFound
	}
	return a, nil
}

func (m *memoryAccountRepo) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Code == in.Code {
			return Account{}, ErrDuplicateCode
		}
	}
	m.nextID++
	a := Account{ID: m.nextID, Code: in.Code, Name: in.Name, Type: in.Type, NormalBalance: in.NormalBalance, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.accounts[a.ID] = a
	return a, nil
}

func (m *memoryAccountRepo) Update(ctx context.Context, id int64, in UpdateAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, accounting.ErrAccountNotFound
	}
	if in.Code != nil {
		a.Code = *in.Code
	}
	if in.Name != nil {
		a.Name = *in.Name
	}
	if in.Type != nil {
		a.Type = *in.Type
	}
	m.accounts[id] = a
	return a, nil
}

func (m *memoryAccountRepo) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return accounting.ErrAccountNotFound
	}
	a.IsActive = active
	m.accounts[id] = a
	return nil
}

func (m *memoryAccountRepo) HasPostedLines(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[id], nil
}
