// Package matching holds the document state machines that gate ledger
// postings: vendor bill three-way match, purchase return lifecycle and
// customer invoice settlement.
package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus classifies a vendor bill against its order and receipts.
type MatchStatus string

const (
	MatchStatusUnmatched MatchStatus = "UNMATCHED"
	MatchStatusMatched   MatchStatus = "MATCHED"
	MatchStatusException MatchStatus = "EXCEPTION"
)

// ExceptionType enumerates match discrepancies.
type ExceptionType string

const (
	ExceptionQtyOverReceived   ExceptionType = "QTY_OVER_RECEIVED"
	ExceptionQtyOverOrdered    ExceptionType = "QTY_OVER_ORDERED"
	ExceptionPriceVariance     ExceptionType = "PRICE_VARIANCE"
	ExceptionProductNotOnOrder ExceptionType = "PRODUCT_NOT_ON_ORDER"
)

// BillLine is one vendor bill line.
type BillLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// BaselineLine merges the ordered and received quantities of a product.
type BaselineLine struct {
	ProductID   int64           `json:"product_id"`
	OrderedQty  decimal.Decimal `json:"ordered_qty"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// MatchException itemises one discrepancy.
type MatchException struct {
	Type      ExceptionType `json:"type"`
	ProductID int64         `json:"product_id"`
	Message   string        `json:"message"`
}

// MatchResult is the advisory outcome of a three-way match.
type MatchResult struct {
	BillID      int64            `json:"bill_id"`
	Status      MatchStatus      `json:"status"`
	Exceptions  []MatchException `json:"exceptions"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

// Tolerance widens quantity and price checks by a percentage of the baseline.
type Tolerance struct {
	QtyPercent   decimal.Decimal
	PricePercent decimal.Decimal
}

func widen(base, percent decimal.Decimal) decimal.Decimal {
	return base.Add(base.Mul(percent).Div(decimal.NewFromInt(100)))
}

// Evaluate compares bill lines against the order/receipt baseline. A bill
// without an order link is UNMATCHED. Quantities are compared per product
// after summing the bill lines; prices are compared per line.
func Evaluate(bill []BillLine, baseline []BaselineLine, linked bool, tol Tolerance) MatchResult {
	if !linked {
		return MatchResult{Status: MatchStatusUnmatched, Exceptions: []MatchException{}}
	}
	byProduct := make(map[int64]BaselineLine, len(baseline))
	for _, b := range baseline {
		acc, ok := byProduct[b.ProductID]
		if !ok {
			byProduct[b.ProductID] = b
			continue
		}
		acc.OrderedQty = acc.OrderedQty.Add(b.OrderedQty)
		acc.ReceivedQty = acc.ReceivedQty.Add(b.ReceivedQty)
		byProduct[b.ProductID] = acc
	}

	exceptions := []MatchException{}
	billed := make(map[int64]decimal.Decimal)
	var order []int64
	reportedMissing := make(map[int64]bool)
	for _, line := range bill {
		base, ok := byProduct[line.ProductID]
		if !ok {
			if !reportedMissing[line.ProductID] {
				reportedMissing[line.ProductID] = true
				exceptions = append(exceptions, MatchException{
					Type:      ExceptionProductNotOnOrder,
					ProductID: line.ProductID,
					Message:   fmt.Sprintf("product %d is not on the purchase order", line.ProductID),
				})
			}
			continue
		}
		if _, seen := billed[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		billed[line.ProductID] = billed[line.ProductID].Add(line.Quantity)

		allowed := tol.PricePercent.Mul(base.UnitPrice).Div(decimal.NewFromInt(100)).Abs()
		if line.UnitPrice.Sub(base.UnitPrice).Abs().GreaterThan(allowed) {
			exceptions = append(exceptions, MatchException{
				Type:      ExceptionPriceVariance,
				ProductID: line.ProductID,
				Message:   fmt.Sprintf("billed price %s differs from order price %s", line.UnitPrice.String(), base.UnitPrice.String()),
			})
		}
	}
	for _, productID := range order {
		base := byProduct[productID]
		qty := billed[productID]
		if qty.GreaterThan(widen(base.OrderedQty, tol.QtyPercent)) {
			exceptions = append(exceptions, MatchException{
				Type:      ExceptionQtyOverOrdered,
				ProductID: productID,
				Message:   fmt.Sprintf("billed quantity %s exceeds ordered %s", qty.String(), base.OrderedQty.String()),
			})
		}
		if qty.GreaterThan(widen(base.ReceivedQty, tol.QtyPercent)) {
			exceptions = append(exceptions, MatchException{
				Type:      ExceptionQtyOverReceived,
				ProductID: productID,
				Message:   fmt.Sprintf("billed quantity %s exceeds received %s", qty.String(), base.ReceivedQty.String()),
			})
		}
	}
	status := MatchStatusMatched
	if len(exceptions) > 0 {
		status = MatchStatusException
	}
	return MatchResult{Status: status, Exceptions: exceptions}
}
