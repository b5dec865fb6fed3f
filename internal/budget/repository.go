package budget

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

const activeSourceConstraint = "uq_encumbrances_active_source"

// Repository persists budgets and encumbrances.
type Repository interface {
	CreateBudget(ctx context.Context, in CreateBudgetInput) (Budget, error)
	GetBudget(ctx context.Context, id int64) (Budget, error)
	ListBudgets(ctx context.Context, fiscalYear int) ([]Budget, error)
	SetBudgetActive(ctx context.Context, id int64, active bool) error
	GetEncumbrance(ctx context.Context, id int64) (Encumbrance, error)
	ListEncumbrances(ctx context.Context, budgetID int64) ([]Encumbrance, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	// Reserve adds amount to the budget's encumbered total when the budget is
	// active and, if strict, can absorb it. ok is false when no row qualified.
	Reserve(ctx context.Context, budgetID int64, amount decimal.Decimal) (b Budget, ok bool, err error)
	Unreserve(ctx context.Context, budgetID int64, amount decimal.Decimal) error
	LoadBudget(ctx context.Context, id int64) (Budget, error)
	InsertEncumbrance(ctx context.Context, e Encumbrance) (Encumbrance, error)
	LoadEncumbranceForUpdate(ctx context.Context, id int64) (Encumbrance, error)
	ActiveBySource(ctx context.Context, source Encumberable) ([]Encumbrance, error)
	CloseEncumbrance(ctx context.Context, id int64, status EncumbranceStatus, consumed *decimal.Decimal, at time.Time) (Encumbrance, error)
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

const budgetColumns = `id, name, department_id, account_id, fiscal_year, period_type, period_number,
amount, warning_threshold, is_strict, is_active, encumbered_amount, created_at, updated_at`

const encumbranceColumns = `id, budget_id, source_kind, source_id, amount, consumed_amount, status,
created_at, released_at, consumed_at`

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	err := row.Scan(&b.ID, &b.Name, &b.DepartmentID, &b.AccountID, &b.FiscalYear, &b.PeriodType, &b.PeriodNumber,
		&b.Amount, &b.WarningThreshold, &b.IsStrict, &b.IsActive, &b.EncumberedAmount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Budget{}, ErrBudgetNotFound
		}
		return Budget{}, err
	}
	return b, nil
}

func scanEncumbrance(row pgx.Row) (Encumbrance, error) {
	var e Encumbrance
	var consumed decimal.NullDecimal
	err := row.Scan(&e.ID, &e.BudgetID, &e.Source.Kind, &e.Source.ID, &e.Amount, &consumed, &e.Status,
		&e.CreatedAt, &e.ReleasedAt, &e.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Encumbrance{}, ErrEncumbranceNotFound
		}
		return Encumbrance{}, err
	}
	if consumed.Valid {
		e.ConsumedAmount = &consumed.Decimal
	}
	return e, nil
}

func collectEncumbrances(rows pgx.Rows) ([]Encumbrance, error) {
	defer rows.Close()
	var out []Encumbrance
	for rows.Next() {
		e, err := scanEncumbrance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repository) CreateBudget(ctx context.Context, in CreateBudgetInput) (Budget, error) {
	return scanBudget(r.pool.QueryRow(ctx, `INSERT INTO budgets
(name, department_id, account_id, fiscal_year, period_type, period_number, amount, warning_threshold, is_strict)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+budgetColumns,
		in.Name, in.DepartmentID, in.AccountID, in.FiscalYear, in.PeriodType, in.PeriodNumber,
		in.Amount, in.WarningThreshold, in.IsStrict))
}

func (r *repository) GetBudget(ctx context.Context, id int64) (Budget, error) {
	return scanBudget(r.pool.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id=$1`, id))
}

func (r *repository) ListBudgets(ctx context.Context, fiscalYear int) ([]Budget, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+budgetColumns+` FROM budgets
WHERE ($1 = 0 OR fiscal_year = $1)
ORDER BY fiscal_year DESC, department_id, period_type, period_number, id`, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) SetBudgetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE budgets SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func (r *repository) GetEncumbrance(ctx context.Context, id int64) (Encumbrance, error) {
	return scanEncumbrance(r.pool.QueryRow(ctx, `SELECT `+encumbranceColumns+` FROM encumbrances WHERE id=$1`, id))
}

func (r *repository) ListEncumbrances(ctx context.Context, budgetID int64) ([]Encumbrance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+encumbranceColumns+` FROM encumbrances
WHERE budget_id=$1 ORDER BY created_at DESC, id DESC`, budgetID)
	if err != nil {
		return nil, err
	}
	return collectEncumbrances(rows)
}

// WithTx runs fn at READ COMMITTED so the conditional update in Reserve
// re-evaluates against the latest committed budget row after waiting on its
// row lock.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx})
	})
}

func (t *txRepo) Reserve(ctx context.Context, budgetID int64, amount decimal.Decimal) (Budget, bool, error) {
	b, err := scanBudget(t.tx.QueryRow(ctx, `UPDATE budgets
SET encumbered_amount = encumbered_amount + $2, updated_at = NOW()
WHERE id = $1 AND is_active AND (NOT is_strict OR encumbered_amount + $2 <= amount)
RETURNING `+budgetColumns, budgetID, amount))
	if errors.Is(err, ErrBudgetNotFound) {
		return Budget{}, false, nil
	}
	if err != nil {
		return Budget{}, false, err
	}
	return b, true, nil
}

func (t *txRepo) Unreserve(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE budgets
SET encumbered_amount = encumbered_amount - $2, updated_at = NOW()
WHERE id = $1`, budgetID, amount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func (t *txRepo) LoadBudget(ctx context.Context, id int64) (Budget, error) {
	return scanBudget(t.tx.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id=$1`, id))
}

func (t *txRepo) InsertEncumbrance(ctx context.Context, e Encumbrance) (Encumbrance, error) {
	out, err := scanEncumbrance(t.tx.QueryRow(ctx, `INSERT INTO encumbrances
(budget_id, source_kind, source_id, amount, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+encumbranceColumns, e.BudgetID, e.Source.Kind, e.Source.ID, e.Amount, e.Status, e.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err, activeSourceConstraint) {
			return Encumbrance{}, ErrAlreadyEncumbered
		}
		return Encumbrance{}, err
	}
	return out, nil
}

func (t *txRepo) LoadEncumbranceForUpdate(ctx context.Context, id int64) (Encumbrance, error) {
	return scanEncumbrance(t.tx.QueryRow(ctx, `SELECT `+encumbranceColumns+` FROM encumbrances WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) ActiveBySource(ctx context.Context, source Encumberable) ([]Encumbrance, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+encumbranceColumns+` FROM encumbrances
WHERE source_kind=$1 AND source_id=$2 AND status='ACTIVE'
ORDER BY id FOR UPDATE`, source.Kind, source.ID)
	if err != nil {
		return nil, err
	}
	return collectEncumbrances(rows)
}

func (t *txRepo) CloseEncumbrance(ctx context.Context, id int64, status EncumbranceStatus, consumed *decimal.Decimal, at time.Time) (Encumbrance, error) {
	var releasedAt, consumedAt *time.Time
	if status == EncumbranceReleased {
		releasedAt = &at
	} else {
		consumedAt = &at
	}
	var consumedAmount decimal.NullDecimal
	if consumed != nil {
		consumedAmount = decimal.NewNullDecimal(*consumed)
	}
	return scanEncumbrance(t.tx.QueryRow(ctx, `UPDATE encumbrances
SET status=$2, consumed_amount=$3, released_at=$4, consumed_at=$5
WHERE id=$1 AND status='ACTIVE'
RETURNING `+encumbranceColumns, id, status, consumedAmount, releasedAt, consumedAt))
}
