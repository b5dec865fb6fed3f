package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Repository persists accounting periods.
type Repository interface {
	List(ctx context.Context) ([]Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	LoadForUpdate(ctx context.Context, id int64) (Period, error)
	RangeConflict(ctx context.Context, start, end time.Time, excludeID int64) (bool, error)
	HasEntries(ctx context.Context, id int64) (bool, error)
	Insert(ctx context.Context, in CreatePeriodInput) (Period, error)
	UpdateDates(ctx context.Context, id int64, in UpdatePeriodInput) (Period, error)
	Delete(ctx context.Context, id int64) error
	SetLock(ctx context.Context, id int64, status PeriodStatus, actorID *int64, at *time.Time, notes string) (Period, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const periodColumns = `id, name, start_date, end_date, status, locked_by, locked_at, lock_notes, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ScanPeriod maps a row selected with the canonical column list.
func ScanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.LockedBy, &p.LockedAt, &p.LockNotes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// FindByDateShared loads the period covering date with FOR SHARE, so a
// concurrent Lock waits for the caller's transaction to finish.
func FindByDateShared(ctx context.Context, q querier, date time.Time) (Period, error) {
	return ScanPeriod(q.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE start_date <= $1::date AND end_date >= $1::date
ORDER BY start_date LIMIT 1 FOR SHARE`, date))
}

func (r *repository) List(ctx context.Context) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := ScanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	return ScanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id))
}

func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return ScanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE start_date <= $1::date AND end_date >= $1::date ORDER BY start_date LIMIT 1`, date))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.RepeatableRead, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) LoadForUpdate(ctx context.Context, id int64) (Period, error) {
	return ScanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) RangeConflict(ctx context.Context, start, end time.Time, excludeID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM accounting_periods
	WHERE id <> $3 AND daterange(start_date, end_date, '[]') && daterange($1::date, $2::date, '[]'))`, start, end, excludeID).Scan(&exists)
	return exists, err
}

func (r *txRepository) HasEntries(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_entries WHERE period_id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) Insert(ctx context.Context, in CreatePeriodInput) (Period, error) {
	return ScanPeriod(r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (name, start_date, end_date, status)
VALUES ($1,$2,$3,'OPEN') RETURNING `+periodColumns, in.Name, in.StartDate, in.EndDate))
}

func (r *txRepository) UpdateDates(ctx context.Context, id int64, in UpdatePeriodInput) (Period, error) {
	return ScanPeriod(r.tx.QueryRow(ctx, `UPDATE accounting_periods SET name=$2, start_date=$3, end_date=$4, updated_at=NOW()
WHERE id=$1 RETURNING `+periodColumns, id, in.Name, in.StartDate, in.EndDate))
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM accounting_periods WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) SetLock(ctx context.Context, id int64, status PeriodStatus, actorID *int64, at *time.Time, notes string) (Period, error) {
	return ScanPeriod(r.tx.QueryRow(ctx, `UPDATE accounting_periods SET status=$2, locked_by=$3, locked_at=$4, lock_notes=$5, updated_at=NOW()
WHERE id=$1 RETURNING `+periodColumns, id, status, actorID, at, notes))
}
