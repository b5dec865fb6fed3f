package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

const (
	// EventReturnReceived is emitted when the vendor confirms a purchase return.
	EventReturnReceived = "purchase.return.received"
	// EventPaymentAllocated is emitted for every invoice payment allocation.
	EventPaymentAllocated = "sales.payment.allocated"
)

// Emitter hands business events to the posting service.
type Emitter interface {
	Emit(ctx context.Context, ev posting.Event) error
}

// AuditPort records document actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the matching and settlement state machines.
type Service struct {
	repo      Repository
	emitter   Emitter
	audit     AuditPort
	tolerance Tolerance
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, emitter Emitter, audit AuditPort, tolerance Tolerance, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		emitter:   emitter,
		audit:     audit,
		tolerance: tolerance,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// MatchBill evaluates the bill against its order and receipts and caches the
// result. The outcome is advisory and never blocks posting.
func (s *Service) MatchBill(ctx context.Context, billID int64) (MatchResult, error) {
	doc, err := s.repo.LoadBill(ctx, billID)
	if err != nil {
		return MatchResult{}, err
	}
	result := Evaluate(doc.Lines, doc.Baseline, doc.Linked, s.tolerance)
	result.BillID = billID
	result.EvaluatedAt = s.now()
	if err := s.repo.SaveMatch(ctx, result); err != nil {
		return MatchResult{}, err
	}
	if result.Status == MatchStatusException {
		s.logger.Info("vendor bill match exception",
			slog.Int64("bill_id", billID),
			slog.Int("exceptions", len(result.Exceptions)))
	}
	return result, nil
}

// GetMatch returns the cached match result of a bill.
func (s *Service) GetMatch(ctx context.Context, billID int64) (MatchResult, error) {
	return s.repo.GetMatch(ctx, billID)
}

// CreateReturn opens a DRAFT purchase return.
func (s *Service) CreateReturn(ctx context.Context, in CreateReturnInput) (PurchaseReturn, error) {
	if err := s.validate.Struct(in); err != nil {
		return PurchaseReturn{}, err
	}
	if !in.Subtotal.IsPositive() || in.Tax.IsNegative() || !payload.FitsScale(in.Subtotal) || !payload.FitsScale(in.Tax) {
		return PurchaseReturn{}, ErrInvalidAmount
	}
	pr, err := s.repo.CreateReturn(ctx, in)
	if err != nil {
		return PurchaseReturn{}, err
	}
	s.record(ctx, 0, "purchase_return.create", "purchase_return", pr.ID, map[string]any{"number": pr.Number})
	return pr, nil
}

// GetReturn returns a purchase return.
func (s *Service) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.repo.GetReturn(ctx, id)
}

// Submit asks for authorization of a DRAFT return.
func (s *Service) Submit(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.Transition(ctx, id, ActionSubmit, time.Time{})
}

// Authorize clears a return for shipping.
func (s *Service) Authorize(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.Transition(ctx, id, ActionAuthorize, time.Time{})
}

// Ship records that goods left the warehouse.
func (s *Service) Ship(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.Transition(ctx, id, ActionShip, time.Time{})
}

// ReceiveByVendor records the vendor's receipt and emits the debit note
// posting dated on.
func (s *Service) ReceiveByVendor(ctx context.Context, id int64, on time.Time) (PurchaseReturn, error) {
	return s.Transition(ctx, id, ActionReceive, on)
}

// Complete closes a received return.
func (s *Service) Complete(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.Transition(ctx, id, ActionComplete, time.Time{})
}

// Cancel abandons a DRAFT or READY_TO_SHIP return.
func (s *Service) Cancel(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.Transition(ctx, id, ActionCancel, time.Time{})
}

// Transition applies action under a row lock. Illegal actions leave the
// status unchanged. The receive action emits purchase.return.received on the
// same transaction: the journal is written in a savepoint of it, so the status
// change and the debit note commit together. When the event was already
// posted by an earlier attempt the duplicate reference counts as emitted.
func (s *Service) Transition(ctx context.Context, id int64, action ReturnAction, on time.Time) (PurchaseReturn, error) {
	if on.IsZero() {
		on = s.today()
	}
	var updated PurchaseReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LoadReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Next(pr.Status, action)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateReturnStatus(ctx, id, next)
		if err != nil {
			return err
		}
		if action == ActionReceive {
			return s.emit(ctx, posting.Event{
				Type:            EventReturnReceived,
				ReferenceNumber: pr.DebitNoteReference(),
				Description:     fmt.Sprintf("Purchase return %s received by vendor", pr.Number),
				Date:            on,
				Payload: payload.Payload{
					"number":      pr.Number,
					"vendor_id":   pr.VendorID,
					"vendor_name": pr.VendorName,
					"subtotal":    pr.Subtotal,
					"tax":         pr.Tax,
					"total":       pr.Total,
				},
			})
		}
		return nil
	})
	if err != nil {
		return PurchaseReturn{}, err
	}
	s.record(ctx, 0, "purchase_return."+string(action), "purchase_return", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// GetInvoice returns a customer invoice with its settlement state.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListAllocations returns the allocations applied to an invoice.
func (s *Service) ListAllocations(ctx context.Context, invoiceID int64) ([]Allocation, error) {
	return s.repo.ListAllocations(ctx, invoiceID)
}

// Allocate applies a payment to an invoice, moving it to PARTIALLY_PAID or
// PAID, and emits sales.payment.allocated in the same transaction. The journal
// commits or rolls back with the allocation.
func (s *Service) Allocate(ctx context.Context, in AllocationInput) (Invoice, error) {
	if err := s.validate.Struct(in); err != nil {
		return Invoice{}, err
	}
	var settled Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LoadInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		settled, err = applyAllocation(inv, in.Amount)
		if err != nil {
			return err
		}
		if _, err := tx.InsertAllocation(ctx, Allocation{
			InvoiceID:        inv.ID,
			PaymentReference: in.PaymentReference,
			Amount:           in.Amount,
			Date:             in.Date,
			CreatedAt:        s.now(),
		}); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceSettlement(ctx, settled); err != nil {
			return err
		}
		return s.emit(ctx, posting.Event{
			Type:            EventPaymentAllocated,
			ReferenceNumber: paymentReference(in.PaymentReference, inv.Number),
			Description:     fmt.Sprintf("Payment %s for invoice %s", in.PaymentReference, inv.Number),
			Date:            in.Date,
			ActorID:         in.ActorID,
			Payload: payload.Payload{
				"invoice_number": inv.Number,
				"customer_id":    inv.CustomerID,
				"customer_name":  inv.CustomerName,
				"payment":        in.PaymentReference,
				"amount":         in.Amount,
			},
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, in.ActorID, "invoice.allocate", "customer_invoice", settled.ID, map[string]any{
		"payment": in.PaymentReference,
		"amount":  in.Amount.String(),
		"status":  string(settled.Status),
	})
	return settled, nil
}

func (s *Service) emit(ctx context.Context, ev posting.Event) error {
	if s.emitter == nil {
		return nil
	}
	err := s.emitter.Emit(ctx, ev)
	if errors.Is(err, accounting.ErrDuplicateReference) {
		s.logger.Info("event already posted", slog.String("event_type", ev.Type), slog.String("reference", ev.ReferenceNumber))
		return nil
	}
	return err
}

func (s *Service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
