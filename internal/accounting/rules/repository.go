package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

const activeEventConstraint = "uq_posting_rules_active_event"

// Store is the posting rule persistence port.
type Store interface {
	FindActiveRule(ctx context.Context, eventType string) (PostingRule, error)
	Get(ctx context.Context, id int64) (PostingRule, error)
	List(ctx context.Context, filter ListFilter) ([]PostingRule, error)
	Create(ctx context.Context, in RuleInput) (PostingRule, error)
	Update(ctx context.Context, id int64, in RuleInput) (PostingRule, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx backed Store.
func NewRepository(pool *pgxpool.Pool) Store {
	return &repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const ruleColumns = `id, event_type, description, module, is_active, created_at, updated_at`

func scanRule(row pgx.Row) (PostingRule, error) {
	var r PostingRule
	if err := row.Scan(&r.ID, &r.EventType, &r.Description, &r.Module, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PostingRule{}, accounting.ErrRuleNotFound
		}
		return PostingRule{}, err
	}
	return r, nil
}

func loadLines(ctx context.Context, q querier, ruleID int64) ([]PostingRuleLine, error) {
	rows, err := q.Query(ctx, `SELECT id, rule_id, line_no, account_id, side, amount_key, description_template
FROM posting_rule_lines WHERE rule_id=$1 ORDER BY line_no ASC`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []PostingRuleLine
	for rows.Next() {
		var l PostingRuleLine
		if err := rows.Scan(&l.ID, &l.RuleID, &l.LineNo, &l.AccountID, &l.Side, &l.AmountKey, &l.DescriptionTemplate); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func withLines(ctx context.Context, q querier, row pgx.Row) (PostingRule, error) {
	rule, err := scanRule(row)
	if err != nil {
		return PostingRule{}, err
	}
	rule.Lines, err = loadLines(ctx, q, rule.ID)
	if err != nil {
		return PostingRule{}, err
	}
	return rule, nil
}

// FindActiveRule returns the active rule for eventType. Legacy data with
// several active rules resolves to the lowest id. Inside a transaction the
// lookup reuses its connection.
func (r *repository) FindActiveRule(ctx context.Context, eventType string) (PostingRule, error) {
	q := db.Conn(ctx, r.pool)
	row := q.QueryRow(ctx, `SELECT `+ruleColumns+` FROM posting_rules
WHERE event_type=$1 AND is_active ORDER BY id ASC LIMIT 1`, eventType)
	return withLines(ctx, q, row)
}

func (r *repository) Get(ctx context.Context, id int64) (PostingRule, error) {
	return withLines(ctx, r.pool, r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM posting_rules WHERE id=$1`, id))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]PostingRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM posting_rules
WHERE ($1 = '' OR event_type = $1) AND (NOT $2 OR is_active)
ORDER BY event_type, id`, filter.EventType, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	var out []PostingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rule)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadLines(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *repository) Create(ctx context.Context, in RuleInput) (PostingRule, error) {
	var rule PostingRule
	err := db.WithTx(ctx, r.pool, db.RepeatableRead, func(tx pgx.Tx) error {
		var err error
		rule, err = scanRule(tx.QueryRow(ctx, `INSERT INTO posting_rules (event_type, description, module, is_active)
VALUES ($1,$2,$3,$4) RETURNING `+ruleColumns, in.EventType, in.Description, in.Module, in.IsActive))
		if err != nil {
			return err
		}
		rule.Lines, err = insertLines(ctx, tx, rule.ID, linesFromInput(in.Lines))
		return err
	})
	if db.IsUniqueViolation(err, activeEventConstraint) {
		return PostingRule{}, ErrDuplicateActiveRule
	}
	return rule, err
}

// Update replaces header fields and all lines of the rule.
func (r *repository) Update(ctx context.Context, id int64, in RuleInput) (PostingRule, error) {
	var rule PostingRule
	err := db.WithTx(ctx, r.pool, db.RepeatableRead, func(tx pgx.Tx) error {
		var err error
		rule, err = scanRule(tx.QueryRow(ctx, `UPDATE posting_rules SET event_type=$2, description=$3, module=$4, is_active=$5, updated_at=NOW()
WHERE id=$1 RETURNING `+ruleColumns, id, in.EventType, in.Description, in.Module, in.IsActive))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM posting_rule_lines WHERE rule_id=$1`, id); err != nil {
			return fmt.Errorf("rules: clear lines: %w", err)
		}
		rule.Lines, err = insertLines(ctx, tx, id, linesFromInput(in.Lines))
		return err
	})
	if db.IsUniqueViolation(err, activeEventConstraint) {
		return PostingRule{}, ErrDuplicateActiveRule
	}
	return rule, err
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE posting_rules SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		if db.IsUniqueViolation(err, activeEventConstraint) {
			return ErrDuplicateActiveRule
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return accounting.ErrRuleNotFound
	}
	return nil
}

func insertLines(ctx context.Context, tx pgx.Tx, ruleID int64, lines []PostingRuleLine) ([]PostingRuleLine, error) {
	out := make([]PostingRuleLine, 0, len(lines))
	for _, l := range lines {
		l.RuleID = ruleID
		err := tx.QueryRow(ctx, `INSERT INTO posting_rule_lines (rule_id, line_no, account_id, side, amount_key, description_template)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, ruleID, l.LineNo, l.AccountID, l.Side, l.AmountKey, l.DescriptionTemplate).Scan(&l.ID)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return nil, &accounting.AccountError{AccountID: l.AccountID, Err: accounting.ErrAccountNotFound}
			}
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
