package matching

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
)

var (
	// ErrInvalidStateTransition indicates an action illegal in the current state.
	ErrInvalidStateTransition = errors.New("matching: invalid state transition")
	// ErrBillNotFound indicates an unknown vendor bill.
	ErrBillNotFound = errors.New("matching: vendor bill not found")
	// ErrMatchNotFound indicates the bill was never evaluated.
	ErrMatchNotFound = errors.New("matching: bill match not evaluated")
	// ErrReturnNotFound indicates an unknown purchase return.
	ErrReturnNotFound = errors.New("matching: purchase return not found")
	// ErrDuplicateReturn indicates the return number is taken.
	ErrDuplicateReturn = errors.New("matching: duplicate purchase return number")
	// ErrUnknownAction indicates an unsupported purchase return action.
	ErrUnknownAction = errors.New("matching: unknown purchase return action")
	// ErrInvoiceNotFound indicates an unknown customer invoice.
	ErrInvoiceNotFound = errors.New("matching: invoice not found")
	// ErrOverAllocation indicates a payment exceeding the outstanding balance.
	ErrOverAllocation = errors.New("matching: allocation exceeds outstanding balance")
	// ErrDuplicateAllocation indicates the payment is already allocated to the invoice.
	ErrDuplicateAllocation = errors.New("matching: payment already allocated to invoice")
	// ErrInvalidAmount indicates a non-positive amount or one finer than the
	// stored scale.
	ErrInvalidAmount = errors.New("matching: amount must be positive with at most 4 decimal places")
)

// InvalidTransitionError names the rejected transition.
type InvalidTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("matching: cannot move from %s to %s", e.Current, e.Requested)
}

// Is makes errors.Is(err, ErrInvalidStateTransition) hold.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// ReturnStatus enumerates purchase return lifecycle values.
type ReturnStatus string

const (
	ReturnDraft                ReturnStatus = "DRAFT"
	ReturnPendingAuthorization ReturnStatus = "PENDING_AUTHORIZATION"
	ReturnReadyToShip          ReturnStatus = "READY_TO_SHIP"
	ReturnShipped              ReturnStatus = "SHIPPED"
	ReturnReceivedByVendor     ReturnStatus = "RECEIVED_BY_VENDOR"
	ReturnCompleted            ReturnStatus = "COMPLETED"
	ReturnCancelled            ReturnStatus = "CANCELLED"
)

// ReturnAction names a purchase return operation.
type ReturnAction string

const (
	ActionSubmit    ReturnAction = "submit"
	ActionAuthorize ReturnAction = "authorize"
	ActionShip      ReturnAction = "ship"
	ActionReceive   ReturnAction = "receive"
	ActionComplete  ReturnAction = "complete"
	ActionCancel    ReturnAction = "cancel"
)

type returnEdge struct {
	from   []ReturnStatus
	target ReturnStatus
}

var returnEdges = map[ReturnAction]returnEdge{
	ActionSubmit:    {from: []ReturnStatus{ReturnDraft}, target: ReturnPendingAuthorization},
	ActionAuthorize: {from: []ReturnStatus{ReturnPendingAuthorization}, target: ReturnReadyToShip},
	ActionShip:      {from: []ReturnStatus{ReturnReadyToShip}, target: ReturnShipped},
	ActionReceive:   {from: []ReturnStatus{ReturnShipped}, target: ReturnReceivedByVendor},
	ActionComplete:  {from: []ReturnStatus{ReturnReceivedByVendor}, target: ReturnCompleted},
	ActionCancel:    {from: []ReturnStatus{ReturnDraft, ReturnReadyToShip}, target: ReturnCancelled},
}

// Next returns the status reached by applying action to current.
func Next(current ReturnStatus, action ReturnAction) (ReturnStatus, error) {
	edge, ok := returnEdges[action]
	if !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	for _, from := range edge.from {
		if from == current {
			return edge.target, nil
		}
	}
	return current, &InvalidTransitionError{Current: string(current), Requested: string(edge.target)}
}

// PurchaseReturn sends received goods back to a vendor.
type PurchaseReturn struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	VendorID        int64           `json:"vendor_id"`
	VendorName      string          `json:"vendor_name"`
	PurchaseOrderID *int64          `json:"purchase_order_id,omitempty"`
	Status          ReturnStatus    `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DebitNoteReference is the journal reference of the vendor debit note.
func (r PurchaseReturn) DebitNoteReference() string {
	return posting.Reference("DN", r.Number)
}

// CreateReturnInput captures a new DRAFT return.
type CreateReturnInput struct {
	Number          string          `json:"number" validate:"required,max=61"`
	VendorID        int64           `json:"vendor_id" validate:"required,gt=0"`
	VendorName      string          `json:"vendor_name" validate:"max=200"`
	PurchaseOrderID *int64          `json:"purchase_order_id" validate:"omitempty,gt=0"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
}

// InvoiceStatus enumerates customer invoice settlement values.
type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "UNPAID"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceVoid          InvoiceStatus = "VOID"
)

// Invoice is a customer invoice awaiting settlement.
type Invoice struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	CustomerID   int64           `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Total        decimal.Decimal `json:"total"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	Status       InvoiceStatus   `json:"status"`
}

// Outstanding is the unpaid remainder.
func (inv Invoice) Outstanding() decimal.Decimal {
	return inv.Total.Sub(inv.PaidAmount)
}

// Allocation applies part of a customer payment to one invoice.
type Allocation struct {
	ID               int64           `json:"id"`
	InvoiceID        int64           `json:"invoice_id"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	Date             time.Time       `json:"date"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AllocationInput captures one payment allocation.
type AllocationInput struct {
	InvoiceID        int64           `json:"invoice_id" validate:"required,gt=0"`
	PaymentReference string          `json:"payment_reference" validate:"required,max=64"`
	Amount           decimal.Decimal `json:"amount"`
	Date             time.Time       `json:"date" validate:"required"`
	ActorID          int64           `json:"actor_id"`
}

// applyAllocation returns the invoice after settling amount.
func applyAllocation(inv Invoice, amount decimal.Decimal) (Invoice, error) {
	switch inv.Status {
	case InvoicePaid, InvoiceVoid:
		return inv, &InvalidTransitionError{Current: string(inv.Status), Requested: string(InvoicePaid)}
	}
	if !amount.IsPositive() || !payload.FitsScale(amount) {
		return inv, ErrInvalidAmount
	}
	if amount.GreaterThan(inv.Outstanding()) {
		return inv, fmt.Errorf("%w: outstanding %s, allocated %s", ErrOverAllocation, inv.Outstanding().String(), amount.String())
	}
	inv.PaidAmount = inv.PaidAmount.Add(amount)
	if inv.PaidAmount.Equal(inv.Total) {
		inv.Status = InvoicePaid
	} else {
		inv.Status = InvoicePartiallyPaid
	}
	return inv, nil
}

// paymentReference builds the journal reference of an allocation.
func paymentReference(payment, invoiceNumber string) string {
	return posting.Reference("PAY", payment, invoiceNumber)
}
