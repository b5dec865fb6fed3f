package journals

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/rules"
)

// DraftLine is a resolved line with exactly one positive side.
type DraftLine struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Draft is a balanced, not yet persisted journal entry body.
type Draft struct {
	Lines       []DraftLine
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// AccountIDs lists the distinct accounts of the draft in line order.
func (d Draft) AccountIDs() []int64 {
	seen := make(map[int64]struct{}, len(d.Lines))
	ids := make([]int64, 0, len(d.Lines))
	for _, l := range d.Lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	return ids
}

// Validate re-checks the draft invariants: one non-zero side per line and
// equal totals.
func (d Draft) Validate() error {
	if len(d.Lines) == 0 {
		return accounting.ErrEmptyPosting
	}
	debit, credit := decimal.Zero, decimal.Zero
	for i, l := range d.Lines {
		if l.AccountID == 0 {
			return fmt.Errorf("accounting: line %d missing account", i+1)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("accounting: line %d negative amount", i+1)
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return fmt.Errorf("accounting: line %d must carry exactly one side", i+1)
		}
		if !payload.FitsScale(l.Debit) || !payload.FitsScale(l.Credit) {
			return fmt.Errorf("accounting: line %d: %w", i+1, payload.ErrAmountScale)
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !debit.Equal(credit) {
		return &accounting.UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	return nil
}

// Build resolves rule lines against the payload. A negative amount is posted
// on the opposite side, zero lines are dropped, and the remaining lines must
// balance exactly. Amounts finer than the stored scale are rejected so the
// persisted lines balance exactly as built.
func Build(lines []rules.PostingRuleLine, p payload.Payload) (Draft, error) {
	draft := Draft{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, rl := range lines {
		amount, err := payload.ResolveAmount(p, rl.AmountKey)
		if err != nil {
			return Draft{}, err
		}
		if amount.IsZero() {
			continue
		}
		side := rl.Side
		if amount.IsNegative() {
			side = side.Opposite()
			amount = amount.Abs()
		}
		line := DraftLine{
			AccountID:   rl.AccountID,
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
			Description: payload.RenderTemplate(p, rl.DescriptionTemplate),
		}
		if side == accounting.SideDebit {
			line.Debit = amount
			draft.TotalDebit = draft.TotalDebit.Add(amount)
		} else {
			line.Credit = amount
			draft.TotalCredit = draft.TotalCredit.Add(amount)
		}
		draft.Lines = append(draft.Lines, line)
	}
	if !draft.TotalDebit.Equal(draft.TotalCredit) {
		return Draft{}, &accounting.UnbalancedEntryError{Debit: draft.TotalDebit, Credit: draft.TotalCredit}
	}
	if len(draft.Lines) == 0 {
		return Draft{}, accounting.ErrEmptyPosting
	}
	return draft, nil
}

// CheckSample is the authoring-time balance check used by rules.Service. An
// all-zero sample is accepted.
func CheckSample(lines []rules.PostingRuleLine, p payload.Payload) error {
	_, err := Build(lines, p)
	if errors.Is(err, accounting.ErrEmptyPosting) {
		return nil
	}
	return err
}

// reverseDraft swaps the sides of every line of entry.
func reverseDraft(entry JournalEntry) Draft {
	draft := Draft{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, l := range entry.Lines {
		draft.Lines = append(draft.Lines, DraftLine{
			AccountID:   l.AccountID,
			Debit:       l.Credit,
			Credit:      l.Debit,
			Description: l.Description,
		})
		draft.TotalDebit = draft.TotalDebit.Add(l.Credit)
		draft.TotalCredit = draft.TotalCredit.Add(l.Debit)
	}
	return draft
}
