package accounts

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

var (
	// ErrAccountInUse indicates posted lines reference the account.
	ErrAccountInUse = errors.New("accounting: account referenced by posted lines")
	// ErrDuplicateCode indicates the account code already exists.
	ErrDuplicateCode = errors.New("accounting: account code already exists")
)

// Account models a chart of accounts node.
type Account struct {
	ID            int64                  `json:"id"`
	Code          string                 `json:"code"`
	Name          string                 `json:"name"`
	Type          accounting.AccountType `json:"type"`
	NormalBalance accounting.Side        `json:"normal_balance"`
	IsActive      bool                   `json:"is_active"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Signed returns debit/credit totals as a balance on the account's normal side.
func (a Account) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	return accounting.SignedBalance(a.NormalBalance, debit, credit)
}

// CreateAccountInput captures fields for a new account.
type CreateAccountInput struct {
	Code          string                 `json:"code" validate:"required,max=32"`
	Name          string                 `json:"name" validate:"required,max=128"`
	Type          accounting.AccountType `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	NormalBalance accounting.Side        `json:"normal_balance" validate:"omitempty,oneof=DEBIT CREDIT"`
}

// UpdateAccountInput changes mutable attributes. Code and Type may only change
// while no posted line references the account.
type UpdateAccountInput struct {
	Code *string                 `json:"code" validate:"omitempty,max=32"`
	Name *string                 `json:"name" validate:"omitempty,max=128"`
	Type *accounting.AccountType `json:"type" validate:"omitempty,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
}

func (in UpdateAccountInput) changesStructure() bool {
	return in.Code != nil || in.Type != nil
}
