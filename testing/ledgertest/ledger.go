// Package ledgertest provides an in-memory ledger backing the account and
// journal repository ports, for tests that exercise posting end to end
// without PostgreSQL.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
)

// Ledger holds accounts, periods and journal entries in memory. Journal
// transactions are serialised and staged, so a failing transaction leaves no
// trace.
type Ledger struct {
	mu        sync.Mutex
	accounts  map[int64]accounts.Account
	periods   []periods.Period
	entries   map[int64]journals.JournalEntry
	nextEntry int64
	nextLine  int64

	// FailLineInsert, when set, is returned by the next InsertLines call.
	FailLineInsert error
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[int64]accounts.Account), entries: make(map[int64]journals.JournalEntry)}
}

// AddAccount registers an active account.
func (l *Ledger) AddAccount(id int64, code string, t accounting.AccountType) accounts.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := accounts.Account{ID: id, Code: code, Name: code, Type: t, NormalBalance: accounting.DefaultNormalBalance(t), IsActive: true}
	l.accounts[id] = acc
	return acc
}

// AddPeriod registers a period and returns it.
func (l *Ledger) AddPeriod(name string, start, end time.Time, status periods.PeriodStatus) periods.Period {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := periods.Period{ID: int64(len(l.periods) + 1), Name: name, StartDate: start, EndDate: end, Status: status}
	l.periods = append(l.periods, p)
	return p
}

// SetPeriodStatus changes the status of period id.
func (l *Ledger) SetPeriodStatus(id int64, status periods.PeriodStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.periods {
		if l.periods[i].ID == id {
			l.periods[i].Status = status
		}
	}
}

// Entries returns committed entries ordered by id.
func (l *Ledger) Entries() []journals.JournalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]journals.JournalEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LineCount returns the number of committed journal lines.
func (l *Ledger) LineCount() int {
	n := 0
	for _, e := range l.Entries() {
		n += len(e.Lines)
	}
	return n
}

// Accounts returns the accounts.Repository view of the ledger.
func (l *Ledger) Accounts() accounts.Repository { return accountRepo{l} }

// Journals returns the journals.Repository view of the ledger.
func (l *Ledger) Journals() journals.Repository { return journalRepo{l} }

type accountRepo struct{ l *Ledger }

func (r accountRepo) List(ctx context.Context) ([]accounts.Account, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	out := make([]accounts.Account, 0, len(r.l.accounts))
	for _, a := range r.l.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r accountRepo) Get(ctx context.Context, id int64) (accounts.Account, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	a, ok := r.l.accounts[id]
	if !ok {
		return accounts.Account{}, accounting.ErrAccountNotFound
	}
	return a, nil
}

func (r accountRepo) Create(ctx context.Context, in accounts.CreateAccountInput) (accounts.Account, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	id := int64(len(r.l.accounts) + 1)
	a := accounts.Account{ID: id, Code: in.Code, Name: in.Name, Type: in.Type, NormalBalance: in.NormalBalance, IsActive: true}
	r.l.accounts[id] = a
	return a, nil
}

func (r accountRepo) Update(ctx context.Context, id int64, in accounts.UpdateAccountInput) (accounts.Account, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	a, ok := r.l.accounts[id]
	if !ok {
		return accounts.Account{}, accounting.ErrAccountNotFound
	}
	if in.Name != nil {
		a.Name = *in.Name
	}
	r.l.accounts[id] = a
	return a, nil
}

func (r accountRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	a, ok := r.l.accounts[id]
	if !ok {
		return accounting.ErrAccountNotFound
	}
	a.IsActive = active
	r.l.accounts[id] = a
	return nil
}

func (r accountRepo) HasPostedLines(ctx context.Context, id int64) (bool, error) {
	for _, e := range r.l.Entries() {
		for _, line := range e.Lines {
			if line.AccountID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

type journalRepo struct{ l *Ledger }

func (r journalRepo) Get(ctx context.Context, id int64) (journals.JournalEntry, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	e, ok := r.l.entries[id]
	if !ok {
		return journals.JournalEntry{}, accounting.ErrJournalNotFound
	}
	return e, nil
}

func (r journalRepo) GetByReference(ctx context.Context, reference string) (journals.JournalEntry, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, e := range r.l.entries {
		if e.ReferenceNumber == reference {
			return e, nil
		}
	}
	return journals.JournalEntry{}, accounting.ErrJournalNotFound
}

func (r journalRepo) List(ctx context.Context, filter journals.ListFilter) ([]journals.JournalEntry, error) {
	var out []journals.JournalEntry
	for _, e := range r.l.Entries() {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.From != nil && e.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Date.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r journalRepo) AccountTotals(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range r.l.Entries() {
		if e.Date.After(asOf) {
			continue
		}
		for _, line := range e.Lines {
			if line.AccountID == accountID {
				debit = debit.Add(line.Debit)
				credit = credit.Add(line.Credit)
			}
		}
	}
	return debit, credit, nil
}

func (r journalRepo) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	tx := &journalTx{l: r.l, staged: make(map[int64]journals.JournalEntry), nextEntry: r.l.nextEntry, nextLine: r.l.nextLine}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, e := range tx.staged {
		r.l.entries[id] = e
	}
	r.l.nextEntry, r.l.nextLine = tx.nextEntry, tx.nextLine
	return nil
}

type journalTx struct {
	l         *Ledger
	staged    map[int64]journals.JournalEntry
	nextEntry int64
	nextLine  int64
}

func (t *journalTx) lookup(id int64) (journals.JournalEntry, bool) {
	if e, ok := t.staged[id]; ok {
		return e, true
	}
	e, ok := t.l.entries[id]
	return e, ok
}

func (t *journalTx) FindByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range t.l.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrPeriodNotFound
}

func (t *journalTx) InsertEntry(ctx context.Context, in journals.JournalEntry) (journals.JournalEntry, error) {
	for _, e := range t.l.entries {
		if e.ReferenceNumber == in.ReferenceNumber {
			return journals.JournalEntry{}, accounting.ErrDuplicateReference
		}
	}
	for _, e := range t.staged {
		if e.ReferenceNumber == in.ReferenceNumber {
			return journals.JournalEntry{}, accounting.ErrDuplicateReference
		}
	}
	t.nextEntry++
	in.ID = t.nextEntry
	in.PostedAt = time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = in.PostedAt, in.PostedAt
	t.staged[in.ID] = in
	return in, nil
}

func (t *journalTx) InsertLines(ctx context.Context, entryID int64, lines []journals.DraftLine) ([]journals.JournalLine, error) {
	if err := t.l.FailLineInsert; err != nil {
		t.l.FailLineInsert = nil
		return nil, err
	}
	entry, ok := t.staged[entryID]
	if !ok {
		return nil, accounting.ErrJournalNotFound
	}
	out := make([]journals.JournalLine, 0, len(lines))
	for i, dl := range lines {
		t.nextLine++
		out = append(out, journals.JournalLine{
			ID: t.nextLine, EntryID: entryID, LineNo: i + 1, AccountID: dl.AccountID,
			Debit: dl.Debit, Credit: dl.Credit, Description: dl.Description,
		})
	}
	entry.Lines = append(entry.Lines, out...)
	t.staged[entryID] = entry
	return out, nil
}

func (t *journalTx) LoadForUpdate(ctx context.Context, id int64) (journals.JournalEntry, error) {
	e, ok := t.lookup(id)
	if !ok {
		return journals.JournalEntry{}, accounting.ErrJournalNotFound
	}
	return e, nil
}

func (t *journalTx) UpdateStatus(ctx context.Context, id int64, status accounting.JournalStatus) error {
	e, ok := t.lookup(id)
	if !ok {
		return accounting.ErrJournalNotFound
	}
	e.Status = status
	t.staged[id] = e
	return nil
}
