package journals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID              int64                    `json:"id"`
	ReferenceNumber string                   `json:"reference_number"`
	Date            time.Time                `json:"date"`
	Description     string                   `json:"description"`
	Status          accounting.JournalStatus `json:"status"`
	SourceEvent     string                   `json:"source_event,omitempty"`
	PeriodID        int64                    `json:"period_id"`
	ReversalOf      *int64                   `json:"reversal_of,omitempty"`
	PostedBy        int64                    `json:"posted_by,omitempty"`
	PostedAt        time.Time                `json:"posted_at"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	Lines           []JournalLine            `json:"lines"`
}

// Totals sums debit and credit columns.
func (e JournalEntry) Totals() (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	LineNo      int             `json:"line_no"`
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// PostInput groups fields required to persist a built draft.
type PostInput struct {
	ReferenceNumber string    `validate:"required,max=128"`
	Date            time.Time `validate:"required"`
	Description     string
	SourceEvent     string
	ActorID         int64
	Draft           Draft
}

// ReverseInput wraps parameters for reversal. Empty ReferenceNumber defaults
// to REV-<original reference>; zero Date defaults to the original date.
type ReverseInput struct {
	EntryID         int64
	ReferenceNumber string
	Date            time.Time
	Memo            string
	ActorID         int64
}

// ListFilter narrows journal listings.
type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Status accounting.JournalStatus
	Page   shared.Page
}

// AccountBalance is the balance of one account as of a date.
type AccountBalance struct {
	AccountID     int64           `json:"account_id"`
	Code          string          `json:"code"`
	NormalBalance accounting.Side `json:"normal_balance"`
	AsOf          time.Time       `json:"as_of"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Balance       decimal.Decimal `json:"balance"`
}
