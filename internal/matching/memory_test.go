package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
)

type memoryRepo struct {
	txMu        sync.Mutex
	mu          sync.Mutex
	bills       map[int64]BillDocument
	matches     map[int64]MatchResult
	returns     map[int64]PurchaseReturn
	invoices    map[int64]Invoice
	allocations []Allocation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bills:    map[int64]BillDocument{},
		matches:  map[int64]MatchResult{},
		returns:  map[int64]PurchaseReturn{},
		invoices: map[int64]Invoice{},
	}
}

func (m *memoryRepo) LoadBill(ctx context.Context, billID int64) (BillDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.bills[billID]
	if !ok {
		return BillDocument{}, ErrBillNotFound
	}
	return doc, nil
}

func (m *memoryRepo) SaveMatch(ctx context.Context, result MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[result.BillID] = result
	return nil
}

func (m *memoryRepo) GetMatch(ctx context.Context, billID int64) (MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.matches[billID]
	if !ok {
		return MatchResult{}, ErrMatchNotFound
	}
	return r, nil
}

func (m *memoryRepo) CreateReturn(ctx context.Context, in CreateReturnInput) (PurchaseReturn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.returns {
		if r.Number == in.Number {
			return PurchaseReturn{}, ErrDuplicateReturn
		}
	}
	pr := PurchaseReturn{
		ID: int64(len(m.returns) + 1), Number: in.Number, VendorID: in.VendorID, VendorName: in.VendorName,
		PurchaseOrderID: in.PurchaseOrderID, Status: ReturnDraft,
		Subtotal: in.Subtotal, Tax: in.Tax, Total: in.Subtotal.Add(in.Tax),
	}
	m.returns[pr.ID] = pr
	return pr, nil
}

func (m *memoryRepo) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.returns[id]
	if !ok {
		return PurchaseReturn{}, ErrReturnNotFound
	}
	return pr, nil
}

func (m *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *memoryRepo) ListAllocations(ctx context.Context, invoiceID int64) ([]Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Allocation
	for _, a := range m.allocations {
		if a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	returns := make(map[int64]PurchaseReturn, len(m.returns))
	for k, v := range m.returns {
		returns[k] = v
	}
	invoices := make(map[int64]Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invoices[k] = v
	}
	allocations := append([]Allocation(nil), m.allocations...)
	m.mu.Unlock()

	if err := fn(ctx, memoryTx{m}); err != nil {
		m.mu.Lock()
		m.returns, m.invoices, m.allocations = returns, invoices, allocations
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryTx struct{ m *memoryRepo }

func (t memoryTx) LoadReturnForUpdate(ctx context.Context, id int64) (PurchaseReturn, error) {
	return t.m.GetReturn(ctx, id)
}

func (t memoryTx) UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus) (PurchaseReturn, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	pr := t.m.returns[id]
	pr.Status = status
	t.m.returns[id] = pr
	return pr, nil
}

func (t memoryTx) LoadInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return t.m.GetInvoice(ctx, id)
}

func (t memoryTx) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, existing := range t.m.allocations {
		if existing.InvoiceID == a.InvoiceID && existing.PaymentReference == a.PaymentReference {
			return Allocation{}, ErrDuplicateAllocation
		}
	}
	a.ID = int64(len(t.m.allocations) + 1)
	t.m.allocations = append(t.m.allocations, a)
	return a, nil
}

func (t memoryTx) UpdateInvoiceSettlement(ctx context.Context, inv Invoice) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.invoices[inv.ID] = inv
	return nil
}

// recordingEmitter keeps emitted events and rejects reused references the
// way the journal store does.
type recordingEmitter struct {
	mu     sync.Mutex
	events []posting.Event
	posted map[string]bool
	err    error
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{posted: map[string]bool{}}
}

func (e *recordingEmitter) Emit(ctx context.Context, ev posting.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if e.posted[ev.ReferenceNumber] {
		return accounting.ErrDuplicateReference
	}
	e.posted[ev.ReferenceNumber] = true
	e.events = append(e.events, ev)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 1, 20, 15, 30, 0, 0, time.UTC)
}
