package rules

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
)

func newCachedStore(t *testing.T) (*CachedStore, *memoryRuleStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := newMemoryRuleStore()
	return NewCachedStore(inner, cache.NewVersioned(client, "rules", time.Minute), nil), inner, mr
}

func TestCachedStoreServesRepeatedLookupsFromRedis(t *testing.T) {
	store, inner, _ := newCachedStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, invoiceRule(true))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rule, err := store.FindActiveRule(ctx, "sales.invoice.posted")
		require.NoError(t, err)
		require.Len(t, rule.Lines, 3)
	}
	require.Equal(t, 1, inner.finds)
}

func TestCachedStoreNeverServesStaleRuleAfterWrite(t *testing.T) {
	store, _, _ := newCachedStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, invoiceRule(true))
	require.NoError(t, err)

	rule, err := store.FindActiveRule(ctx, "sales.invoice.posted")
	require.NoError(t, err)
	require.Equal(t, accounting.SideCredit, rule.Lines[2].Side)

	in := invoiceRule(true)
	in.Lines[2].AmountKey = "vat"
	_, err = store.Update(ctx, created.ID, in)
	require.NoError(t, err)

	rule, err = store.FindActiveRule(ctx, "sales.invoice.posted")
	require.NoError(t, err)
	require.Equal(t, "vat", rule.Lines[2].AmountKey)

	require.NoError(t, store.SetActive(ctx, created.ID, false))
	_, err = store.FindActiveRule(ctx, "sales.invoice.posted")
	require.ErrorIs(t, err, accounting.ErrRuleNotFound)
}

func TestCachedStoreFallsBackWhenRedisDown(t *testing.T) {
	store, inner, mr := newCachedStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, invoiceRule(true))
	require.NoError(t, err)
	mr.Close()

	rule, err := store.FindActiveRule(ctx, "sales.invoice.posted")
	require.NoError(t, err)
	require.Equal(t, "sales.invoice.posted", rule.EventType)
	require.GreaterOrEqual(t, inner.finds, 1)
}
