package journals

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reports"
)

// Imbalance is a stored entry whose lines do not balance or that has fewer
// than two lines.
type Imbalance struct {
	EntryID   int64           `json:"entry_id"`
	Reference string          `json:"reference_number"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Lines     int             `json:"lines"`
}

// IntegrityChecker re-verifies persisted entries.
type IntegrityChecker struct {
	pool *pgxpool.Pool
}

// NewIntegrityChecker returns a checker reading from pool.
func NewIntegrityChecker(pool *pgxpool.Pool) *IntegrityChecker {
	return &IntegrityChecker{pool: pool}
}

// Imbalances lists posted or reversed entries dated on or after since that
// violate the double-entry invariant.
func (c *IntegrityChecker) Imbalances(ctx context.Context, since time.Time) ([]Imbalance, error) {
	rows, err := c.pool.Query(ctx, `SELECT e.id, e.reference_number,
       COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0), COUNT(l.id)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status IN ('POSTED', 'REVERSED') AND e.entry_date >= $1
GROUP BY e.id, e.reference_number
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0) OR COUNT(l.id) < 2
ORDER BY e.id`, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Imbalance, error) {
		var im Imbalance
		err := row.Scan(&im.EntryID, &im.Reference, &im.Debit, &im.Credit, &im.Lines)
		return im, err
	})
}

// TrialBalance totals posted lines per account across the whole ledger.
func (c *IntegrityChecker) TrialBalance(ctx context.Context) (reports.TrialBalance, error) {
	rows, err := c.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type,
       COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.status IN ('POSTED', 'REVERSED')
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`)
	if err != nil {
		return reports.TrialBalance{}, err
	}
	balances, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reports.AccountBalance, error) {
		var b reports.AccountBalance
		err := row.Scan(&b.AccountID, &b.Code, &b.Name, &b.Type, &b.Debit, &b.Credit)
		return b, err
	})
	if err != nil {
		return reports.TrialBalance{}, err
	}
	return reports.BuildTrialBalance(balances), nil
}
