package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Repository persists chart of accounts rows.
type Repository interface {
	List(ctx context.Context) ([]Account, error)
	Get(ctx context.Context, id int64) (Account, error)
	Create(ctx context.Context, in CreateAccountInput) (Account, error)
	Update(ctx context.Context, id int64, in UpdateAccountInput) (Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
	HasPostedLines(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, code, name, type, normal_balance, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, accounting.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	return scanAccount(db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *repository) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `INSERT INTO accounts (code, name, type, normal_balance, is_active)
VALUES ($1,$2,$3,$4,TRUE) RETURNING `+accountColumns, in.Code, in.Name, in.Type, in.NormalBalance))
	if db.IsUniqueViolation(err, "uq_accounts_code") {
		return Account{}, ErrDuplicateCode
	}
	return a, err
}

func (r *repository) Update(ctx context.Context, id int64, in UpdateAccountInput) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `UPDATE accounts SET
	code = COALESCE($2, code),
	name = COALESCE($3, name),
	type = COALESCE($4, type),
	updated_at = NOW()
WHERE id=$1 RETURNING `+accountColumns, id, in.Code, in.Name, in.Type))
	if db.IsUniqueViolation(err, "uq_accounts_code") {
		return Account{}, ErrDuplicateCode
	}
	return a, err
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return accounting.ErrAccountNotFound
	}
	return nil
}

func (r *repository) HasPostedLines(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM journal_lines jl
	JOIN journal_entries je ON je.id = jl.entry_id
	WHERE jl.account_id=$1 AND je.status IN ('POSTED','REVERSED'))`, id).Scan(&exists)
	return exists, err
}
