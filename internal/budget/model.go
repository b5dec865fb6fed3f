// Package budget tracks encumbrances committed against departmental budgets.
package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
)

var (
	// ErrBudgetExceeded indicates a strict budget cannot absorb the commitment.
	ErrBudgetExceeded = errors.New("budget: commitment exceeds budget")
	// ErrBudgetNotFound indicates an unknown budget id.
	ErrBudgetNotFound = errors.New("budget: budget not found")
	// ErrBudgetInactive indicates a deactivated budget.
	ErrBudgetInactive = errors.New("budget: budget inactive")
	// ErrEncumbranceNotFound indicates an unknown encumbrance id.
	ErrEncumbranceNotFound = errors.New("budget: encumbrance not found")
	// ErrAlreadyEncumbered indicates the source already holds an active encumbrance on the budget.
	ErrAlreadyEncumbered = errors.New("budget: source already encumbered")
	// ErrInvalidTransition indicates an encumbrance left a terminal state.
	ErrInvalidTransition = errors.New("budget: invalid encumbrance transition")
	// ErrInvalidAmount indicates a non-positive amount or one finer than the
	// stored scale.
	ErrInvalidAmount = errors.New("budget: amount must be positive with at most 4 decimal places")
	// ErrInvalidBudget indicates budget input the struct tags cannot catch.
	ErrInvalidBudget = errors.New("budget: invalid budget")
	// ErrInvalidSource indicates an encumberable outside the known kinds.
	ErrInvalidSource = errors.New("budget: invalid encumbrance source")
)

// BudgetExceededError carries the figures of a rejected strict commitment.
type BudgetExceededError struct {
	BudgetID   int64
	Amount     decimal.Decimal
	Encumbered decimal.Decimal
	Requested  decimal.Decimal
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget: budget %d exceeded (amount %s, encumbered %s, requested %s)",
		e.BudgetID, e.Amount.String(), e.Encumbered.String(), e.Requested.String())
}

// Is makes errors.Is(err, ErrBudgetExceeded) hold.
func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// InvalidTransitionError names the rejected encumbrance transition.
type InvalidTransitionError struct {
	Current   EncumbranceStatus
	Requested EncumbranceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("budget: cannot move encumbrance from %s to %s", e.Current, e.Requested)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PeriodType enumerates budget granularity.
type PeriodType string

const (
	PeriodAnnual    PeriodType = "ANNUAL"
	PeriodQuarterly PeriodType = "QUARTERLY"
	PeriodMonthly   PeriodType = "MONTHLY"
)

// maxPeriod returns the highest period number of t, or 0 for unknown types.
func (t PeriodType) maxPeriod() int {
	switch t {
	case PeriodAnnual:
		return 1
	case PeriodQuarterly:
		return 4
	case PeriodMonthly:
		return 12
	}
	return 0
}

// Budget caps commitments for a department, optionally for one account.
type Budget struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	DepartmentID     int64           `json:"department_id"`
	AccountID        *int64          `json:"account_id,omitempty"`
	FiscalYear       int             `json:"fiscal_year"`
	PeriodType       PeriodType      `json:"period_type"`
	PeriodNumber     int             `json:"period_number"`
	Amount           decimal.Decimal `json:"amount"`
	WarningThreshold decimal.Decimal `json:"warning_threshold"`
	IsStrict         bool            `json:"is_strict"`
	IsActive         bool            `json:"is_active"`
	EncumberedAmount decimal.Decimal `json:"encumbered_amount"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Available is the uncommitted remainder; negative when over-committed.
func (b Budget) Available() decimal.Decimal {
	return b.Amount.Sub(b.EncumberedAmount)
}

// Utilization is encumbered / amount × 100. A zero budget reports 0.
func (b Budget) Utilization() decimal.Decimal {
	if b.Amount.IsZero() {
		return decimal.Zero
	}
	return b.EncumberedAmount.Div(b.Amount).Mul(decimal.NewFromInt(100)).Round(2)
}

// OverWarning reports whether utilization reached the warning threshold.
func (b Budget) OverWarning() bool {
	return b.WarningThreshold.IsPositive() && b.Utilization().GreaterThanOrEqual(b.WarningThreshold)
}

// SourceKind enumerates documents that may hold an encumbrance.
type SourceKind string

const (
	SourcePurchaseRequest SourceKind = "PURCHASE_REQUEST"
	SourcePurchaseOrder   SourceKind = "PURCHASE_ORDER"
)

// Encumberable references the document behind an encumbrance. The kind set is
// closed; construct values with PurchaseRequest or PurchaseOrder.
type Encumberable struct {
	Kind SourceKind `json:"kind"`
	ID   int64      `json:"id"`
}

// PurchaseRequest references purchase request id.
func PurchaseRequest(id int64) Encumberable {
	return Encumberable{Kind: SourcePurchaseRequest, ID: id}
}

// PurchaseOrder references purchase order id.
func PurchaseOrder(id int64) Encumberable {
	return Encumberable{Kind: SourcePurchaseOrder, ID: id}
}

// Validate rejects unknown kinds and missing ids.
func (e Encumberable) Validate() error {
	switch e.Kind {
	case SourcePurchaseRequest, SourcePurchaseOrder:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidSource, e.Kind)
	}
	if e.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidSource, e.ID)
	}
	return nil
}

func (e Encumberable) String() string {
	switch e.Kind {
	case SourcePurchaseRequest:
		return fmt.Sprintf("PR-%d", e.ID)
	case SourcePurchaseOrder:
		return fmt.Sprintf("PO-%d", e.ID)
	}
	return fmt.Sprintf("%s-%d", e.Kind, e.ID)
}

// EncumbranceStatus enumerates encumbrance lifecycle values.
type EncumbranceStatus string

const (
	EncumbranceActive   EncumbranceStatus = "ACTIVE"
	EncumbranceReleased EncumbranceStatus = "RELEASED"
	EncumbranceConsumed EncumbranceStatus = "CONSUMED"
)

// Encumbrance is a reserved, not yet realised, budget commitment.
type Encumbrance struct {
	ID             int64             `json:"id"`
	BudgetID       int64             `json:"budget_id"`
	Source         Encumberable      `json:"source"`
	Amount         decimal.Decimal   `json:"amount"`
	ConsumedAmount *decimal.Decimal  `json:"consumed_amount,omitempty"`
	Status         EncumbranceStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	ReleasedAt     *time.Time        `json:"released_at,omitempty"`
	ConsumedAt     *time.Time        `json:"consumed_at,omitempty"`
}

// Variance is the encumbered amount minus the consumed actual. It is zero
// until the encumbrance is consumed.
func (e Encumbrance) Variance() decimal.Decimal {
	if e.ConsumedAmount == nil {
		return decimal.Zero
	}
	return e.Amount.Sub(*e.ConsumedAmount)
}

// transition checks that the encumbrance can move to next.
func (e Encumbrance) transition(next EncumbranceStatus) error {
	if e.Status != EncumbranceActive {
		return &InvalidTransitionError{Current: e.Status, Requested: next}
	}
	return nil
}

// CreateBudgetInput captures budget creation.
type CreateBudgetInput struct {
	Name             string          `json:"name" validate:"required,max=128"`
	DepartmentID     int64           `json:"department_id" validate:"required,gt=0"`
	AccountID        *int64          `json:"account_id" validate:"omitempty,gt=0"`
	FiscalYear       int             `json:"fiscal_year" validate:"required,gte=2000,lte=2100"`
	PeriodType       PeriodType      `json:"period_type" validate:"required,oneof=ANNUAL QUARTERLY MONTHLY"`
	PeriodNumber     int             `json:"period_number" validate:"required,gt=0"`
	Amount           decimal.Decimal `json:"amount"`
	WarningThreshold decimal.Decimal `json:"warning_threshold"`
	IsStrict         bool            `json:"is_strict"`
}

// Validate checks the fields struct tags cannot express.
func (in CreateBudgetInput) Validate() error {
	if !in.Amount.IsPositive() || !payload.FitsScale(in.Amount) {
		return ErrInvalidAmount
	}
	if in.WarningThreshold.IsNegative() || in.WarningThreshold.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: warning threshold must be between 0 and 100", ErrInvalidBudget)
	}
	if in.PeriodNumber > in.PeriodType.maxPeriod() {
		return fmt.Errorf("%w: period number %d out of range for %s", ErrInvalidBudget, in.PeriodNumber, in.PeriodType)
	}
	return nil
}

// StatusReport is the read model of a budget's commitments.
type StatusReport struct {
	Budget             Budget          `json:"budget"`
	Encumbered         decimal.Decimal `json:"encumbered"`
	Available          decimal.Decimal `json:"available"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
	DisplayPercent     decimal.Decimal `json:"display_percent"`
	OverWarning        bool            `json:"over_warning"`
	OverBudget         bool            `json:"over_budget"`
}

func reportFor(b Budget) StatusReport {
	util := b.Utilization()
	display := util
	if display.GreaterThan(decimal.NewFromInt(100)) {
		display = decimal.NewFromInt(100)
	}
	return StatusReport{
		Budget:             b,
		Encumbered:         b.EncumberedAmount,
		Available:          b.Available(),
		UtilizationPercent: util,
		DisplayPercent:     display,
		OverWarning:        b.OverWarning(),
		OverBudget:         b.EncumberedAmount.GreaterThan(b.Amount),
	}
}
