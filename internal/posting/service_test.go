package posting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/rules"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	"github.com/odyssey-erp/odyssey-gl/testing/ledgertest"
)

const invoiceEvent = "sales.invoice.posted"

type ruleMap map[string]rules.PostingRule

func (m ruleMap) FindActiveRule(ctx context.Context, eventType string) (rules.PostingRule, error) {
	rule, ok := m[eventType]
	if !ok || !rule.IsActive {
		return rules.PostingRule{}, accounting.ErrRuleNotFound
	}
	return rule, nil
}

type failingFinder struct{ err error }

func (f failingFinder) FindActiveRule(ctx context.Context, eventType string) (rules.PostingRule, error) {
	return rules.PostingRule{}, f.err
}

type fixture struct {
	ledger  *ledgertest.Ledger
	metrics *observability.Metrics
	audit   *shared.MemoryAuditLog
	svc     *posting.Service
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func invoiceRule() rules.PostingRule {
	return rules.PostingRule{
		ID:          1,
		EventType:   invoiceEvent,
		Description: "Invoice {number}",
		IsActive:    true,
		Lines: []rules.PostingRuleLine{
			{LineNo: 1, AccountID: 1100, Side: accounting.SideDebit, AmountKey: "total", DescriptionTemplate: "AR {number}"},
			{LineNo: 2, AccountID: 4100, Side: accounting.SideCredit, AmountKey: "subtotal", DescriptionTemplate: "Sales {number}"},
			{LineNo: 3, AccountID: 2200, Side: accounting.SideCredit, AmountKey: "tax", DescriptionTemplate: "VAT {number}"},
		},
	}
}

func newFixture(t *testing.T, finder posting.RuleFinder) fixture {
	t.Helper()
	ledger := ledgertest.New()
	ledger.AddAccount(1100, "1100", accounting.AccountTypeAsset)
	ledger.AddAccount(4100, "4100", accounting.AccountTypeRevenue)
	ledger.AddAccount(2200, "2200", accounting.AccountTypeLiability)
	ledger.AddPeriod("2024-01", day(2024, 1, 1), day(2024, 1, 31), periods.PeriodStatusOpen)
	audit := &shared.MemoryAuditLog{}
	journalSvc := journals.NewService(ledger.Journals(), accounts.NewRegistry(ledger.Accounts()), audit, nil)
	metrics := observability.NewMetrics()
	return fixture{
		ledger:  ledger,
		metrics: metrics,
		audit:   audit,
		svc:     posting.NewService(finder, journalSvc, metrics, nil),
	}
}

func invoice(ref string) posting.Event {
	return posting.Event{
		Type:            invoiceEvent,
		ReferenceNumber: ref,
		Date:            day(2024, 1, 15),
		Payload:         payload.Payload{"number": ref, "subtotal": 1000, "tax": 100, "total": 1100},
	}
}

func (f fixture) count(outcome posting.Outcome) float64 {
	return testutil.ToFloat64(f.metrics.PostingsCounter().WithLabelValues(invoiceEvent, string(outcome)))
}

func TestHandlePostsInvoiceEndToEnd(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})

	entry, err := f.svc.Handle(context.Background(), invoice("INV-1001"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "INV-1001", entry.ReferenceNumber)
	require.Equal(t, "Invoice INV-1001", entry.Description)
	require.Equal(t, invoiceEvent, entry.SourceEvent)
	require.Equal(t, accounting.JournalStatusPosted, entry.Status)
	require.Len(t, entry.Lines, 3)
	require.True(t, entry.Lines[0].Debit.Equal(decimal.NewFromInt(1100)))
	require.True(t, entry.Lines[1].Credit.Equal(decimal.NewFromInt(1000)))
	require.True(t, entry.Lines[2].Credit.Equal(decimal.NewFromInt(100)))
	require.Equal(t, "VAT INV-1001", entry.Lines[2].Description)

	require.Len(t, f.ledger.Entries(), 1)
	require.Equal(t, []string{"journal.post"}, f.audit.Actions())
	require.Equal(t, float64(1), f.count(posting.OutcomePosted))
}

func TestHandleKeepsExplicitDescription(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("INV-1002")
	ev.Description = "Manual memo"

	entry, err := f.svc.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "Manual memo", entry.Description)
}

func TestHandleWithoutRuleIsNoop(t *testing.T) {
	f := newFixture(t, ruleMap{})

	entry, err := f.svc.Handle(context.Background(), invoice("INV-1"))
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Empty(t, f.ledger.Entries())
	require.Equal(t, float64(1), f.count(posting.OutcomeSkippedNoRule))
}

func TestHandleInactiveRuleIsNoop(t *testing.T) {
	rule := invoiceRule()
	rule.IsActive = false
	f := newFixture(t, ruleMap{invoiceEvent: rule})

	entry, err := f.svc.Handle(context.Background(), invoice("INV-1"))
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestHandleAllZeroPayloadIsNoop(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("INV-0")
	ev.Payload = payload.Payload{"subtotal": 0, "tax": "0", "total": 0.0}

	entry, err := f.svc.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Empty(t, f.ledger.Entries())
	require.Equal(t, float64(1), f.count(posting.OutcomeSkippedEmpty))
}

func TestHandleUnbalancedPayloadRejected(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("INV-2")
	ev.Payload["total"] = 1099

	entry, err := f.svc.Handle(context.Background(), ev)
	require.ErrorIs(t, err, accounting.ErrUnbalanced)
	require.Nil(t, entry)
	var unbalanced *accounting.UnbalancedEntryError
	require.True(t, errors.As(err, &unbalanced))
	require.True(t, unbalanced.Debit.Equal(decimal.NewFromInt(1099)))
	require.True(t, unbalanced.Credit.Equal(decimal.NewFromInt(1100)))
	require.Empty(t, f.ledger.Entries())
	require.Equal(t, float64(1), f.count(posting.OutcomeRejected))
}

func TestHandleMissingAmountKeyRejected(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("INV-3")
	delete(ev.Payload, "tax")

	_, err := f.svc.Handle(context.Background(), ev)
	require.ErrorIs(t, err, payload.ErrMissingAmountKey)
	require.Empty(t, f.ledger.Entries())
}

func TestHandleLockedPeriodRejected(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	f.ledger.SetPeriodStatus(1, periods.PeriodStatusLocked)

	_, err := f.svc.Handle(context.Background(), invoice("INV-4"))
	require.ErrorIs(t, err, accounting.ErrPeriodLocked)
	require.Empty(t, f.ledger.Entries())
	require.Equal(t, float64(1), f.count(posting.OutcomeRejected))
}

func TestHandleDateOutsidePeriodsRejected(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("INV-5")
	ev.Date = day(2025, 6, 1)

	_, err := f.svc.Handle(context.Background(), ev)
	require.ErrorIs(t, err, accounting.ErrPeriodNotFound)
}

func TestHandleDuplicateReferenceIsConflict(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	_, err := f.svc.Handle(context.Background(), invoice("INV-6"))
	require.NoError(t, err)

	_, err = f.svc.Handle(context.Background(), invoice("INV-6"))
	require.ErrorIs(t, err, accounting.ErrDuplicateReference)
	require.Len(t, f.ledger.Entries(), 1)
	require.Equal(t, float64(1), f.count(posting.OutcomeConflict))
}

func TestHandleRollsBackOnLineFailure(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	f.ledger.FailLineInsert = errors.New("disk full")

	_, err := f.svc.Handle(context.Background(), invoice("INV-7"))
	require.Error(t, err)
	require.Empty(t, f.ledger.Entries())
	require.Zero(t, f.ledger.LineCount())
	require.Equal(t, float64(1), f.count(posting.OutcomeFailed))
}

func TestHandleRuleLookupFailure(t *testing.T) {
	f := newFixture(t, failingFinder{err: errors.New("connection refused")})

	_, err := f.svc.Handle(context.Background(), invoice("INV-8"))
	require.EqualError(t, err, "connection refused")
	require.Equal(t, float64(1), f.count(posting.OutcomeFailed))
}

func TestHandleValidatesEvent(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("")

	_, err := f.svc.Handle(context.Background(), ev)
	require.Error(t, err)
	require.Empty(t, f.ledger.Entries())
}

func TestEmitDropsEntry(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})

	require.NoError(t, f.svc.Emit(context.Background(), invoice("INV-9")))
	require.Len(t, f.ledger.Entries(), 1)
}

func TestHandlePinsEventDateToCalendarDayInUTC(t *testing.T) {
	f := newFixture(t, ruleMap{invoiceEvent: invoiceRule()})
	ev := invoice("INV-TZ-1")
	ev.Date = time.Date(2024, 1, 31, 23, 0, 0, 0, time.FixedZone("EST", -5*60*60))

	entry, err := f.svc.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, day(2024, 1, 31), entry.Date)
	require.Equal(t, time.UTC, entry.Date.Location())
	require.NotZero(t, entry.PeriodID)
}
