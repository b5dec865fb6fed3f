package accounts

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Registry is a read-through, in-process view of the chart of accounts. Writes
// made through Service invalidate the affected entry.
type Registry struct {
	repo  Repository
	mu    sync.RWMutex
	cache map[int64]Account
	group singleflight.Group
}

// NewRegistry constructs a Registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, cache: make(map[int64]Account)}
}

// Get returns the account with id or accounting.ErrAccountNotFound.
func (r *Registry) Get(ctx context.Context, id int64) (Account, error) {
	r.mu.RLock()
	acc, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return acc, nil
	}

	// A shared flight may outlive its caller, so a caller holding a
	// transaction loads on that transaction itself.
	if _, inTx := db.TxFromContext(ctx); inTx {
		return r.load(ctx, id)
	}

	ch := r.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		return r.load(ctx, id)
	})
	select {
	case <-ctx.Done():
		return Account{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Account{}, res.Err
		}
		return res.Val.(Account), nil
	}
}

func (r *Registry) load(ctx context.Context, id int64) (Account, error) {
	loaded, err := r.repo.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	r.mu.Lock()
	r.cache[id] = loaded
	r.mu.Unlock()
	return loaded, nil
}

// Require checks that every id exists and is active.
func (r *Registry) Require(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		acc, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, accounting.ErrAccountNotFound) {
				return &accounting.AccountError{AccountID: id, Err: accounting.ErrAccountNotFound}
			}
			return err
		}
		if !acc.IsActive {
			return &accounting.AccountError{AccountID: id, Err: accounting.ErrAccountInactive}
		}
	}
	return nil
}

// Invalidate drops id from the cache.
func (r *Registry) Invalidate(id int64) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}
