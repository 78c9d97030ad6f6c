package memdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// AddAccount seeds an account and returns it with its id.
func (d *DB) AddAccount(a accounting.Account) accounting.Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a.ID == 0 {
		a.ID = d.nextID("accounts")
	} else if a.ID > d.ids["accounts"] {
		d.ids["accounts"] = a.ID
	}
	a.IsActive = true
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	d.accounts[a.ID] = a
	return a
}

// Account returns the committed state of an account.
func (d *DB) Account(id int64) (accounting.Account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	return a, ok
}

// RemoveAccount deletes an account, simulating a vanished row.
func (d *DB) RemoveAccount(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, id)
}

// SetAccountBalance overwrites a stored balance.
func (d *DB) SetAccountBalance(id int64, balance decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.accounts[id]
	a.Balance = balance
	d.accounts[id] = a
}

// Entries lists every journal entry ordered by id.
func (d *DB) Entries() []accounting.JournalEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]accounting.JournalEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InjectLines overwrites the stored lines of an entry, bypassing the engine.
func (d *DB) InjectLines(entryID int64, lines []accounting.JournalLine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[entryID]
	e.Lines = append([]accounting.JournalLine(nil), lines...)
	d.entries[entryID] = e
}

func copyEntry(e accounting.JournalEntry) accounting.JournalEntry {
	e.Lines = append([]accounting.JournalLine(nil), e.Lines...)
	return e
}

// Ledger returns the accounting repository view.
func (d *DB) Ledger() *LedgerRepo {
	return &LedgerRepo{db: d}
}

// LedgerRepo implements accounting.RepositoryPort and accounting.IntegrityReader.
type LedgerRepo struct {
	db *DB
}

// WithTx implements accounting.RepositoryPort.
func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &ledgerTx{db: r.db, t: current(ctx)})
	})
}

// FindUnbalancedEntries implements accounting.IntegrityReader.
func (r *LedgerRepo) FindUnbalancedEntries(context.Context) ([]accounting.UnbalancedEntry, error) {
	var out []accounting.UnbalancedEntry
	for _, e := range r.db.Entries() {
		if e.Status != accounting.EntryStatusPosted {
			continue
		}
		debit, credit := e.Totals()
		if !money.Balanced(debit, credit) {
			out = append(out, accounting.UnbalancedEntry{EntryID: e.ID, Reference: e.Reference, Debit: debit, Credit: credit})
		}
	}
	return out, nil
}

// FindBalanceDrift implements accounting.IntegrityReader.
func (r *LedgerRepo) FindBalanceDrift(context.Context) ([]accounting.BalanceDrift, error) {
	net := make(map[int64]decimal.Decimal)
	for _, e := range r.db.Entries() {
		if e.Status != accounting.EntryStatusPosted {
			continue
		}
		for _, l := range e.Lines {
			net[l.AccountID] = net[l.AccountID].Add(l.Debit.Sub(l.Credit))
		}
	}
	r.db.mu.Lock()
	ids := make([]int64, 0, len(r.db.accounts))
	for id := range r.db.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []accounting.BalanceDrift
	for _, id := range ids {
		a := r.db.accounts[id]
		expected := net[id]
		if !a.Type.DebitNormal() {
			expected = expected.Neg()
		}
		if !a.Balance.Equal(expected) {
			out = append(out, accounting.BalanceDrift{AccountID: id, Code: a.Code, Stored: a.Balance, Expected: expected})
		}
	}
	r.db.mu.Unlock()
	return out, nil
}

type ledgerTx struct {
	db *DB
	t  *tx
}

func (x *ledgerTx) NextEntrySequence(context.Context) (int64, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq, nil
}

func (x *ledgerTx) InsertEntry(_ context.Context, e accounting.JournalEntry) (accounting.JournalEntry, error) {
	if err := x.db.fault("InsertEntry"); err != nil {
		return accounting.JournalEntry{}, err
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.entries {
		if other.Reference == e.Reference {
			return accounting.JournalEntry{}, fmt.Errorf("memdb: duplicate reference %s", e.Reference)
		}
		if e.Source.ID != 0 && other.Source == e.Source {
			return accounting.JournalEntry{}, fmt.Errorf("%w: %s/%s#%d", accounting.ErrSourceAlreadyLinked, e.Source.Module, e.Source.Type, e.Source.ID)
		}
	}
	e.ID = d.nextID("entries")
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	e.Lines = nil
	d.entries[e.ID] = e
	id := e.ID
	x.t.onUndo(func() { delete(d.entries, id) })
	return e, nil
}

func (x *ledgerTx) InsertLines(_ context.Context, entryID int64, lines []accounting.LineInput) ([]accounting.JournalLine, error) {
	if err := x.db.fault("InsertLines"); err != nil {
		return nil, err
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[entryID]
	if !ok {
		return nil, accounting.ErrEntryNotFound
	}
	previous := append([]accounting.JournalLine(nil), e.Lines...)
	out := make([]accounting.JournalLine, 0, len(lines))
	for _, l := range lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return nil, fmt.Errorf("memdb: negative amount on entry %d", entryID)
		}
		if _, ok := d.accounts[l.AccountID]; !ok {
			return nil, fmt.Errorf("memdb: foreign key violation, account %d", l.AccountID)
		}
		out = append(out, accounting.JournalLine{
			ID:          d.nextID("lines"),
			EntryID:     entryID,
			LineNo:      len(e.Lines) + len(out) + 1,
			AccountID:   l.AccountID,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
		})
	}
	e.Lines = append(e.Lines, out...)
	d.entries[entryID] = e
	x.t.onUndo(func() {
		if cur, ok := d.entries[entryID]; ok {
			cur.Lines = previous
			d.entries[entryID] = cur
		}
	})
	return out, nil
}

func (x *ledgerTx) ReplaceLines(ctx context.Context, entryID int64, lines []accounting.LineInput) ([]accounting.JournalLine, error) {
	d := x.db
	d.mu.Lock()
	e, ok := d.entries[entryID]
	if !ok {
		d.mu.Unlock()
		return nil, accounting.ErrEntryNotFound
	}
	previous := e.Lines
	e.Lines = nil
	d.entries[entryID] = e
	x.t.onUndo(func() {
		if cur, ok := d.entries[entryID]; ok {
			cur.Lines = previous
			d.entries[entryID] = cur
		}
	})
	d.mu.Unlock()
	return x.InsertLines(ctx, entryID, lines)
}

func (x *ledgerTx) DeleteEntry(_ context.Context, entryID int64) error {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[entryID]
	if !ok || e.Status != accounting.EntryStatusDraft {
		return accounting.ErrEntryNotFound
	}
	delete(d.entries, entryID)
	x.t.onUndo(func() { d.entries[entryID] = e })
	return nil
}

func (x *ledgerTx) GetEntry(_ context.Context, entryID int64) (accounting.JournalEntry, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[entryID]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrEntryNotFound
	}
	return copyEntry(e), nil
}

func (x *ledgerTx) GetEntryForUpdate(ctx context.Context, entryID int64) (accounting.JournalEntry, error) {
	if err := x.t.lock(ctx, EntryKey(entryID)); err != nil {
		return accounting.JournalEntry{}, err
	}
	return x.GetEntry(ctx, entryID)
}

func (x *ledgerTx) FindEntryBySource(_ context.Context, ref accounting.SourceRef) (accounting.JournalEntry, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if ref.ID != 0 && e.Source == ref {
			return copyEntry(e), nil
		}
	}
	return accounting.JournalEntry{}, accounting.ErrEntryNotFound
}

func (x *ledgerTx) MarkPosted(_ context.Context, entryID, approverID int64, at time.Time) error {
	if err := x.db.fault("MarkPosted"); err != nil {
		return err
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[entryID]
	if !ok {
		return accounting.ErrEntryNotFound
	}
	if e.Status != accounting.EntryStatusDraft {
		return accounting.ErrAlreadyPosted
	}
	before := e
	e.Status = accounting.EntryStatusPosted
	e.ApprovedBy = &approverID
	e.PostedAt = &at
	e.UpdatedAt = time.Now()
	d.entries[entryID] = e
	x.t.onUndo(func() {
		if cur, ok := d.entries[entryID]; ok {
			cur.Status, cur.ApprovedBy, cur.PostedAt, cur.UpdatedAt = before.Status, before.ApprovedBy, before.PostedAt, before.UpdatedAt
			d.entries[entryID] = cur
		}
	})
	return nil
}

func (x *ledgerTx) MarkReversed(_ context.Context, entryID, reversalID int64) error {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[entryID]
	if !ok {
		return accounting.ErrEntryNotFound
	}
	if e.ReversedByEntryID != nil {
		return accounting.ErrAlreadyReversed
	}
	e.ReversedByEntryID = &reversalID
	d.entries[entryID] = e
	x.t.onUndo(func() {
		if cur, ok := d.entries[entryID]; ok {
			cur.ReversedByEntryID = nil
			d.entries[entryID] = cur
		}
	})
	return nil
}

func (x *ledgerTx) GetAccount(_ context.Context, accountID int64) (accounting.Account, error) {
	a, ok := x.db.Account(accountID)
	if !ok {
		return accounting.Account{}, fmt.Errorf("%w: %d", accounting.ErrAccountNotFound, accountID)
	}
	return a, nil
}

func (x *ledgerTx) LockAccounts(ctx context.Context, ids []int64) (map[int64]accounting.Account, error) {
	if err := x.db.fault("LockAccounts"); err != nil {
		return nil, err
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		if err := x.t.lock(ctx, AccountKey(id)); err != nil {
			return nil, err
		}
	}
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range sorted {
		if a, ok := x.db.Account(id); ok {
			out[id] = a
		}
	}
	return out, nil
}

func (x *ledgerTx) UpdateAccountBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	if err := x.db.fault("UpdateAccountBalance"); err != nil {
		return err
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %d", accounting.ErrAccountNotFound, accountID)
	}
	previous := a.Balance
	a.Balance = balance
	d.accounts[accountID] = a
	x.t.onUndo(func() {
		if cur, ok := d.accounts[accountID]; ok {
			cur.Balance = previous
			d.accounts[accountID] = cur
		}
	})
	return nil
}

var (
	_ accounting.RepositoryPort  = (*LedgerRepo)(nil)
	_ accounting.IntegrityReader = (*LedgerRepo)(nil)
	_ accounting.TxRepository    = (*ledgerTx)(nil)
)
