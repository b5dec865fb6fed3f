package matching

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

const (
	returnNumberConstraint     = "uq_purchase_returns_number"
	allocationUniqueConstraint = "uq_invoice_allocations_payment"
)

// BillDocument is a vendor bill with its order/receipt baseline.
type BillDocument struct {
	BillID   int64
	Linked   bool
	Lines    []BillLine
	Baseline []BaselineLine
}

// Repository persists match results, purchase returns and invoice settlement.
type Repository interface {
	LoadBill(ctx context.Context, billID int64) (BillDocument, error)
	SaveMatch(ctx context.Context, result MatchResult) error
	GetMatch(ctx context.Context, billID int64) (MatchResult, error)
	CreateReturn(ctx context.Context, in CreateReturnInput) (PurchaseReturn, error)
	GetReturn(ctx context.Context, id int64) (PurchaseReturn, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListAllocations(ctx context.Context, invoiceID int64) ([]Allocation, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	LoadReturnForUpdate(ctx context.Context, id int64) (PurchaseReturn, error)
	UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus) (PurchaseReturn, error)
	LoadInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	UpdateInvoiceSettlement(ctx context.Context, inv Invoice) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

func (r *repository) LoadBill(ctx context.Context, billID int64) (BillDocument, error) {
	var poID *int64
	err := r.pool.QueryRow(ctx, `SELECT purchase_order_id FROM vendor_bills WHERE id=$1`, billID).Scan(&poID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BillDocument{}, ErrBillNotFound
		}
		return BillDocument{}, err
	}
	doc := BillDocument{BillID: billID, Linked: poID != nil}

	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity, unit_price FROM vendor_bill_lines
WHERE bill_id=$1 ORDER BY line_no`, billID)
	if err != nil {
		return BillDocument{}, err
	}
	doc.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (BillLine, error) {
		var l BillLine
		err := row.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice)
		return l, err
	})
	if err != nil {
		return BillDocument{}, err
	}
	if poID == nil {
		return doc, nil
	}

	rows, err = r.pool.Query(ctx, `SELECT pol.product_id, SUM(pol.quantity), MAX(pol.unit_price),
COALESCE((SELECT SUM(grl.quantity) FROM goods_receipt_lines grl
          JOIN goods_receipts gr ON gr.id = grl.receipt_id
          WHERE gr.purchase_order_id = pol.purchase_order_id
            AND gr.status = 'POSTED' AND grl.product_id = pol.product_id), 0)
FROM purchase_order_lines pol
WHERE pol.purchase_order_id = $1
GROUP BY pol.purchase_order_id, pol.product_id
ORDER BY pol.product_id`, *poID)
	if err != nil {
		return BillDocument{}, err
	}
	doc.Baseline, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (BaselineLine, error) {
		var b BaselineLine
		err := row.Scan(&b.ProductID, &b.OrderedQty, &b.UnitPrice, &b.ReceivedQty)
		return b, err
	})
	if err != nil {
		return BillDocument{}, err
	}
	return doc, nil
}

func (r *repository) SaveMatch(ctx context.Context, result MatchResult) error {
	exceptions, err := json.Marshal(result.Exceptions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO vendor_bill_matches (bill_id, status, exceptions, evaluated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (bill_id) DO UPDATE SET status=EXCLUDED.status, exceptions=EXCLUDED.exceptions, evaluated_at=EXCLUDED.evaluated_at`,
		result.BillID, result.Status, exceptions, result.EvaluatedAt)
	return err
}

func (r *repository) GetMatch(ctx context.Context, billID int64) (MatchResult, error) {
	result := MatchResult{BillID: billID}
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT status, exceptions, evaluated_at FROM vendor_bill_matches WHERE bill_id=$1`, billID).
		Scan(&result.Status, &raw, &result.EvaluatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchResult{}, ErrMatchNotFound
		}
		return MatchResult{}, err
	}
	if err := json.Unmarshal(raw, &result.Exceptions); err != nil {
		return MatchResult{}, err
	}
	return result, nil
}

const returnColumns = `id, number, vendor_id, vendor_name, purchase_order_id, status, subtotal, tax, total, created_at, updated_at`

func scanReturn(row pgx.Row) (PurchaseReturn, error) {
	var pr PurchaseReturn
	err := row.Scan(&pr.ID, &pr.Number, &pr.VendorID, &pr.VendorName, &pr.PurchaseOrderID, &pr.Status,
		&pr.Subtotal, &pr.Tax, &pr.Total, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseReturn{}, ErrReturnNotFound
		}
		return PurchaseReturn{}, err
	}
	return pr, nil
}

func (r *repository) CreateReturn(ctx context.Context, in CreateReturnInput) (PurchaseReturn, error) {
	pr, err := scanReturn(r.pool.QueryRow(ctx, `INSERT INTO purchase_returns
(number, vendor_id, vendor_name, purchase_order_id, status, subtotal, tax, total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+returnColumns,
		in.Number, in.VendorID, in.VendorName, in.PurchaseOrderID, ReturnDraft, in.Subtotal, in.Tax, in.Subtotal.Add(in.Tax)))
	if err != nil {
		if db.IsUniqueViolation(err, returnNumberConstraint) {
			return PurchaseReturn{}, ErrDuplicateReturn
		}
		return PurchaseReturn{}, err
	}
	return pr, nil
}

func (r *repository) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	return scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id=$1`, id))
}

const invoiceColumns = `id, number, customer_id, customer_name, total, paid_amount, status`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &inv.Total, &inv.PaidAmount, &inv.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM customer_invoices WHERE id=$1`, id))
}

func (r *repository) ListAllocations(ctx context.Context, invoiceID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, payment_reference, amount, allocated_on, created_at
FROM invoice_allocations WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Allocation, error) {
		var a Allocation
		err := row.Scan(&a.ID, &a.InvoiceID, &a.PaymentReference, &a.Amount, &a.Date, &a.CreatedAt)
		return a, err
	})
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx})
	})
}

func (t *txRepo) LoadReturnForUpdate(ctx context.Context, id int64) (PurchaseReturn, error) {
	return scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus) (PurchaseReturn, error) {
	return scanReturn(t.tx.QueryRow(ctx, `UPDATE purchase_returns SET status=$2, updated_at=NOW()
WHERE id=$1 RETURNING `+returnColumns, id, status))
}

func (t *txRepo) LoadInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM customer_invoices WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO invoice_allocations (invoice_id, payment_reference, amount, allocated_on, created_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, a.InvoiceID, a.PaymentReference, a.Amount, a.Date, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		if db.IsUniqueViolation(err, allocationUniqueConstraint) {
			return Allocation{}, ErrDuplicateAllocation
		}
		return Allocation{}, err
	}
	return a, nil
}

func (t *txRepo) UpdateInvoiceSettlement(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `UPDATE customer_invoices SET paid_amount=$2, status=$3, updated_at=$4 WHERE id=$1`,
		inv.ID, inv.PaidAmount, inv.Status, time.Now())
	return err
}
