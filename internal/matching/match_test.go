package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func exceptionTypes(r MatchResult) []ExceptionType {
	out := make([]ExceptionType, 0, len(r.Exceptions))
	for _, e := range r.Exceptions {
		out = append(out, e.Type)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	baseline := []BaselineLine{
		{ProductID: 1, OrderedQty: d("10"), ReceivedQty: d("10"), UnitPrice: d("5.00")},
		{ProductID: 2, OrderedQty: d("4"), ReceivedQty: d("2"), UnitPrice: d("100")},
	}
	cases := []struct {
		name   string
		bill   []BillLine
		linked bool
		tol    Tolerance
		status MatchStatus
		types  []ExceptionType
	}{
		{
			name:   "not linked to an order",
			bill:   []BillLine{{ProductID: 1, Quantity: d("10"), UnitPrice: d("5")}},
			status: MatchStatusUnmatched,
			types:  []ExceptionType{},
		},
		{
			name:   "all lines within baseline",
			bill:   []BillLine{{ProductID: 1, Quantity: d("10"), UnitPrice: d("5")}, {ProductID: 2, Quantity: d("2"), UnitPrice: d("100")}},
			linked: true,
			status: MatchStatusMatched,
			types:  []ExceptionType{},
		},
		{
			name:   "billed beyond received",
			bill:   []BillLine{{ProductID: 2, Quantity: d("3"), UnitPrice: d("100")}},
			linked: true,
			status: MatchStatusException,
			types:  []ExceptionType{ExceptionQtyOverReceived},
		},
		{
			name:   "billed beyond ordered and received",
			bill:   []BillLine{{ProductID: 2, Quantity: d("5"), UnitPrice: d("100")}},
			linked: true,
			status: MatchStatusException,
			types:  []ExceptionType{ExceptionQtyOverOrdered, ExceptionQtyOverReceived},
		},
		{
			name:   "split bill lines are summed per product",
			bill:   []BillLine{{ProductID: 1, Quantity: d("6"), UnitPrice: d("5")}, {ProductID: 1, Quantity: d("6"), UnitPrice: d("5")}},
			linked: true,
			status: MatchStatusException,
			types:  []ExceptionType{ExceptionQtyOverOrdered, ExceptionQtyOverReceived},
		},
		{
			name:   "price variance",
			bill:   []BillLine{{ProductID: 1, Quantity: d("10"), UnitPrice: d("5.10")}},
			linked: true,
			status: MatchStatusException,
			types:  []ExceptionType{ExceptionPriceVariance},
		},
		{
			name:   "price variance inside tolerance",
			bill:   []BillLine{{ProductID: 1, Quantity: d("10"), UnitPrice: d("5.10")}},
			linked: true,
			tol:    Tolerance{PricePercent: d("2")},
			status: MatchStatusMatched,
			types:  []ExceptionType{},
		},
		{
			name:   "quantity inside tolerance",
			bill:   []BillLine{{ProductID: 2, Quantity: d("2.1"), UnitPrice: d("100")}},
			linked: true,
			tol:    Tolerance{QtyPercent: d("5")},
			status: MatchStatusMatched,
			types:  []ExceptionType{},
		},
		{
			name:   "product missing from order reported once",
			bill:   []BillLine{{ProductID: 9, Quantity: d("1"), UnitPrice: d("1")}, {ProductID: 9, Quantity: d("1"), UnitPrice: d("1")}},
			linked: true,
			status: MatchStatusException,
			types:  []ExceptionType{ExceptionProductNotOnOrder},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Evaluate(tc.bill, baseline, tc.linked, tc.tol)
			require.Equal(t, tc.status, result.Status)
			require.Equal(t, tc.types, exceptionTypes(result))
		})
	}
}

func TestNextReturnTransitions(t *testing.T) {
	status := ReturnDraft
	for _, action := range []ReturnAction{ActionSubmit, ActionAuthorize, ActionShip, ActionReceive, ActionComplete} {
		next, err := Next(status, action)
		require.NoError(t, err, action)
		status = next
	}
	require.Equal(t, ReturnCompleted, status)

	next, err := Next(ReturnDraft, ActionShip)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	require.Equal(t, ReturnDraft, next)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, string(ReturnShipped), invalid.Requested)

	_, err = Next(ReturnShipped, ActionCancel)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	next, err = Next(ReturnReadyToShip, ActionCancel)
	require.NoError(t, err)
	require.Equal(t, ReturnCancelled, next)

	_, err = Next(ReturnDraft, "explode")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestApplyAllocation(t *testing.T) {
	inv := Invoice{ID: 1, Number: "INV-1", Total: d("1000"), PaidAmount: decimal.Zero, Status: InvoiceUnpaid}

	inv, err := applyAllocation(inv, d("400"))
	require.NoError(t, err)
	require.Equal(t, InvoicePartiallyPaid, inv.Status)

	_, err = applyAllocation(inv, d("600.01"))
	require.ErrorIs(t, err, ErrOverAllocation)

	inv, err = applyAllocation(inv, d("600"))
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, inv.Status)
	require.True(t, inv.Outstanding().IsZero())

	_, err = applyAllocation(inv, d("1"))
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = applyAllocation(Invoice{Status: InvoiceVoid, Total: d("5")}, d("1"))
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = applyAllocation(Invoice{Status: InvoiceUnpaid, Total: d("5")}, d("0"))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = applyAllocation(Invoice{Status: InvoiceUnpaid, Total: d("5")}, d("1.00005"))
	require.ErrorIs(t, err, ErrInvalidAmount)
}
