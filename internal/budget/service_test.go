package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	repo    *memoryRepo
	svc     *Service
	audit   *shared.MemoryAuditLog
	metrics *observability.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryRepo()
	audit := &shared.MemoryAuditLog{}
	metrics := observability.NewMetrics()
	svc := NewService(repo, audit, metrics, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) })
	return fixture{repo: repo, svc: svc, audit: audit, metrics: metrics}
}

func (f fixture) budget(t *testing.T, amount int64, strict bool, threshold int64) Budget {
	t.Helper()
	b, err := f.svc.CreateBudget(context.Background(), CreateBudgetInput{
		Name: "Ops FY24", DepartmentID: 10, FiscalYear: 2024, PeriodType: PeriodAnnual, PeriodNumber: 1,
		Amount: dec(amount), WarningThreshold: dec(threshold), IsStrict: strict,
	})
	require.NoError(t, err)
	return b
}

func TestStrictBudgetRejectsOverCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1_000_000, true, 80)
	_, err := f.svc.Commit(ctx, b.ID, PurchaseOrder(1), dec(900_000))
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, b.ID, PurchaseOrder(2), dec(200_000))
	require.ErrorIs(t, err, ErrBudgetExceeded)
	var exceeded *BudgetExceededError
	require.True(t, errors.As(err, &exceeded))
	require.True(t, exceeded.Encumbered.Equal(dec(900_000)))
	require.True(t, exceeded.Requested.Equal(dec(200_000)))

	report, err := f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, report.Encumbered.Equal(dec(900_000)))
	encs, err := f.svc.ListEncumbrances(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, encs, 1)
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BudgetCommitsCounter().WithLabelValues("exceeded")))
}

func TestStrictBudgetAcceptsExactFit(t *testing.T) {
	f := newFixture(t)
	b := f.budget(t, 1000, true, 0)
	_, err := f.svc.Commit(context.Background(), b.ID, PurchaseRequest(1), dec(1000))
	require.NoError(t, err)
}

func TestNonStrictBudgetCommitsOverThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1000, false, 80)

	_, err := f.svc.Commit(ctx, b.ID, PurchaseOrder(1), dec(1500))
	require.NoError(t, err)

	report, err := f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, report.UtilizationPercent.Equal(dec(150)))
	require.True(t, report.DisplayPercent.Equal(dec(100)))
	require.True(t, report.Available.Equal(dec(-500)))
	require.True(t, report.OverWarning)
	require.True(t, report.OverBudget)
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BudgetCommitsCounter().WithLabelValues("over_warning")))
}

func TestConcurrentCommitsNeverOverrunStrictBudget(t *testing.T) {
	f := newFixture(t)
	b := f.budget(t, 1000, true, 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.svc.Commit(context.Background(), b.ID, PurchaseOrder(id), dec(150))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			assert.ErrorIs(t, err, ErrBudgetExceeded)
			rejected++
		}(int64(i))
	}
	wg.Wait()

	require.Equal(t, 6, accepted)
	require.Equal(t, 4, rejected)
	report, err := f.svc.Status(context.Background(), b.ID)
	require.NoError(t, err)
	require.True(t, report.Encumbered.Equal(dec(900)))
}

func TestReleaseStopsCountingEncumbrance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1000, true, 0)
	e, err := f.svc.Commit(ctx, b.ID, PurchaseRequest(7), dec(400))
	require.NoError(t, err)

	released, err := f.svc.Release(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, EncumbranceReleased, released.Status)
	require.NotNil(t, released.ReleasedAt)

	report, err := f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, report.Encumbered.IsZero())
	require.Equal(t, []string{"encumbrance.commit", "encumbrance.release"}, f.audit.Actions())
}

func TestConsumeRecordsVariance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1000, true, 0)
	e, err := f.svc.Commit(ctx, b.ID, PurchaseOrder(3), dec(500))
	require.NoError(t, err)

	consumed, err := f.svc.Consume(ctx, e.ID, dec(450))
	require.NoError(t, err)
	require.Equal(t, EncumbranceConsumed, consumed.Status)
	require.True(t, consumed.Variance().Equal(dec(50)))

	report, err := f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, report.Encumbered.IsZero())
}

func TestTerminalEncumbranceRejectsTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1000, true, 0)
	e, err := f.svc.Commit(ctx, b.ID, PurchaseOrder(4), dec(100))
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, e.ID)
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, e.ID, dec(100))
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, EncumbranceReleased, invalid.Current)
	require.Equal(t, EncumbranceConsumed, invalid.Requested)

	_, err = f.svc.Release(ctx, e.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	report, err := f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, report.Encumbered.IsZero())
}

func TestDuplicateActiveSourceRollsBackReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1000, true, 0)
	_, err := f.svc.Commit(ctx, b.ID, PurchaseOrder(5), dec(100))
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, b.ID, PurchaseOrder(5), dec(100))
	require.ErrorIs(t, err, ErrAlreadyEncumbered)

	report, err := f.svc.Status(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, report.Encumbered.Equal(dec(100)))
}

func TestReleaseSourceReleasesAllActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.budget(t, 1000, true, 0)
	second := f.budget(t, 1000, true, 0)
	_, err := f.svc.Commit(ctx, first.ID, PurchaseRequest(9), dec(100))
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, second.ID, PurchaseRequest(9), dec(200))
	require.NoError(t, err)

	n, err := f.svc.ReleaseSource(ctx, PurchaseRequest(9))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = f.svc.ReleaseSource(ctx, PurchaseRequest(9))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCommitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.budget(t, 1000, true, 0)

	_, err := f.svc.Commit(ctx, b.ID, PurchaseOrder(1), dec(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.Commit(ctx, b.ID, PurchaseOrder(1), decimal.RequireFromString("10.00001"))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.Commit(ctx, b.ID, Encumberable{Kind: "INVOICE", ID: 1}, dec(10))
	require.ErrorIs(t, err, ErrInvalidSource)
	_, err = f.svc.Commit(ctx, 99, PurchaseOrder(1), dec(10))
	require.ErrorIs(t, err, ErrBudgetNotFound)

	require.NoError(t, f.svc.DeactivateBudget(ctx, b.ID))
	_, err = f.svc.Commit(ctx, b.ID, PurchaseOrder(1), dec(10))
	require.ErrorIs(t, err, ErrBudgetInactive)
}

func TestCreateBudgetValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateBudgetInput{Name: "Q", DepartmentID: 1, FiscalYear: 2024, PeriodType: PeriodQuarterly, PeriodNumber: 5, Amount: dec(10)}
	_, err := f.svc.CreateBudget(ctx, base)
	require.ErrorIs(t, err, ErrInvalidBudget)

	base.PeriodNumber = 4
	base.Amount = dec(-1)
	_, err = f.svc.CreateBudget(ctx, base)
	require.ErrorIs(t, err, ErrInvalidAmount)

	base.Amount = dec(10)
	base.PeriodType = "WEEKLY"
	_, err = f.svc.CreateBudget(ctx, base)
	require.Error(t, err)
}
