package journals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

const referenceConstraint = "uq_journal_entries_reference"

// Repository encapsulates DB operations for journals.
type Repository interface {
	Get(ctx context.Context, id int64) (JournalEntry, error)
	GetByReference(ctx context.Context, reference string) (JournalEntry, error)
	List(ctx context.Context, filter ListFilter) ([]JournalEntry, error)
	AccountTotals(ctx context.Context, accountID int64, asOf time.Time) (debit, credit decimal.Decimal, err error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. FindByDate
// takes a shared lock on the period row so it cannot be locked until the
// posting transaction ends.
type TxRepository interface {
	periods.Finder
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []DraftLine) ([]JournalLine, error)
	LoadForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	UpdateStatus(ctx context.Context, id int64, status accounting.JournalStatus) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const entryColumns = `id, reference_number, entry_date, description, status, source_event, period_id, reversal_of, posted_by, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var postedBy *int64
	err := row.Scan(&e.ID, &e.ReferenceNumber, &e.Date, &e.Description, &e.Status, &e.SourceEvent, &e.PeriodID, &e.ReversalOf, &postedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, accounting.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	return e, nil
}

func loadLines(ctx context.Context, q querier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, debit, credit, description
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Description); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func loadEntry(ctx context.Context, q querier, row pgx.Row) (JournalEntry, error) {
	entry, err := scanEntry(row)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = loadLines(ctx, q, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *repository) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return loadEntry(ctx, r.pool, r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id))
}

func (r *repository) GetByReference(ctx context.Context, reference string) (JournalEntry, error) {
	return loadEntry(ctx, r.pool, r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE reference_number=$1`, reference))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE ($1::date IS NULL OR entry_date >= $1::date)
  AND ($2::date IS NULL OR entry_date <= $2::date)
  AND ($3 = '' OR status = $3)
ORDER BY entry_date DESC, id DESC
LIMIT $4 OFFSET $5`, filter.From, filter.To, string(filter.Status), filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) AccountTotals(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.entry_id
WHERE jl.account_id=$1 AND je.status IN ('POSTED','REVERSED') AND je.entry_date <= $2::date`, accountID, asOf).Scan(&debit, &credit)
	return debit, credit, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.RepeatableRead, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) FindByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	return periods.FindByDateShared(ctx, r.tx, date)
}

func (r *txRepository) InsertEntry(ctx context.Context, in JournalEntry) (JournalEntry, error) {
	var postedBy any
	if in.PostedBy != 0 {
		postedBy = in.PostedBy
	}
	entry, err := scanEntry(r.tx.QueryRow(ctx, `INSERT INTO journal_entries (reference_number, entry_date, description, status, source_event, period_id, reversal_of, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING `+entryColumns,
		in.ReferenceNumber, in.Date, in.Description, in.Status, in.SourceEvent, in.PeriodID, in.ReversalOf, postedBy))
	if err != nil {
		if db.IsUniqueViolation(err, referenceConstraint) {
			return JournalEntry{}, accounting.ErrDuplicateReference
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []DraftLine) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for i, l := range lines {
		line := JournalLine{EntryID: entryID, LineNo: i + 1, AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description}
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, entryID, line.LineNo, line.AccountID, line.Debit, line.Credit, line.Description).Scan(&line.ID)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return nil, &accounting.AccountError{AccountID: l.AccountID, Err: accounting.ErrAccountNotFound}
			}
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) LoadForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return loadEntry(ctx, r.tx, r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status accounting.JournalStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return accounting.ErrJournalNotFound
	}
	return nil
}
