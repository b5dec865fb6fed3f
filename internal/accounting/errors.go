package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrEmptyPosting indicates every resolved line was zero.
	ErrEmptyPosting = errors.New("accounting: posting produced no lines")
	// ErrPeriodNotFound indicates no period covers the entry date.
	ErrPeriodNotFound = errors.New("accounting: no accounting period covers date")
	// ErrPeriodLocked indicates locked period.
	ErrPeriodLocked = errors.New("accounting: period locked")
	// ErrDuplicateReference indicates the reference number is already posted.
	ErrDuplicateReference = errors.New("accounting: duplicate journal reference")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrAccountNotFound indicates an unknown account id.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountInactive indicates a deactivated account.
	ErrAccountInactive = errors.New("accounting: account inactive")
	// ErrRuleNotFound indicates no active rule for the event type.
	ErrRuleNotFound = errors.New("accounting: posting rule not found")
)

// UnbalancedEntryError carries the totals of a rejected entry.
type UnbalancedEntryError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("accounting: unbalanced entry (debit %s, credit %s)", e.Debit.String(), e.Credit.String())
}

// Is makes errors.Is(err, ErrUnbalanced) hold.
func (e *UnbalancedEntryError) Is(target error) bool {
	return target == ErrUnbalanced
}

// PeriodLockedError names the locked period that rejected a posting.
type PeriodLockedError struct {
	PeriodID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("accounting: period %s (%s..%s) is locked", e.Name, e.StartDate.Format("2006-01-02"), e.EndDate.Format("2006-01-02"))
}

// Is makes errors.Is(err, ErrPeriodLocked) hold.
func (e *PeriodLockedError) Is(target error) bool {
	return target == ErrPeriodLocked
}

// AccountError names the account that failed a registry check.
type AccountError struct {
	AccountID int64
	Err       error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("%s: %d", e.Err.Error(), e.AccountID)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}
