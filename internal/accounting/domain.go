package accounting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// DebitNormal reports whether debits increase the balance.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "draft"
	EntryStatusPosted EntryStatus = "posted"
)

// Account models a chart of accounts node with its running balance.
type Account struct {
	ID        int64
	BranchID  int64
	Code      string
	Name      string
	Type      AccountType
	Balance   decimal.Decimal
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceRef links an entry to the business document that produced it.
type SourceRef struct {
	Module string
	Type   string
	ID     int64
}

// IsZero reports whether the reference is empty.
func (r SourceRef) IsZero() bool {
	return r.Module == "" && r.Type == "" && r.ID == 0
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID                int64
	BranchID          int64
	Reference         string
	Date              time.Time
	Description       string
	Status            EntryStatus
	Source            SourceRef
	FiscalYear        int
	FiscalPeriod      int
	AutoGenerated     bool
	Reversible        bool
	CreatedBy         int64
	ApprovedBy        *int64
	PostedAt          *time.Time
	ReversedByEntryID *int64
	ReversalOfEntryID *int64
	ReversalReason    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Lines             []JournalLine
}

// IsReversed reports whether a reversal entry exists.
func (e JournalEntry) IsReversed() bool {
	return e.ReversedByEntryID != nil
}

// Totals sums debits and credits of the entry lines.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	return Totals(e.Inputs())
}

// Inputs converts stored lines back into line inputs, keeping their order.
func (e JournalEntry) Inputs() []LineInput {
	out := make([]LineInput, 0, len(e.Lines))
	for _, l := range e.Lines {
		out = append(out, LineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
	}
	return out
}

// JournalLine stores debit/credit amounts.
type JournalLine struct {
	ID          int64
	EntryID     int64
	LineNo      int
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// LineInput is a proposed journal line.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Debit builds a debit line.
func Debit(accountID int64, amount decimal.Decimal, description string) LineInput {
	return LineInput{AccountID: accountID, Debit: amount, Description: description}
}

// Credit builds a credit line.
func Credit(accountID int64, amount decimal.Decimal, description string) LineInput {
	return LineInput{AccountID: accountID, Credit: amount, Description: description}
}

// Swapped returns the line with debit and credit exchanged.
func (l LineInput) Swapped() LineInput {
	l.Debit, l.Credit = l.Credit, l.Debit
	return l
}

// EntryHeader is the non-line part of a new entry.
type EntryHeader struct {
	BranchID      int64
	Reference     string
	Date          time.Time
	Description   string
	Source        SourceRef
	AutoGenerated bool
	NonReversible bool
	CreatedBy     int64
}

// UnbalancedEntry is a posted entry whose stored lines do not balance.
type UnbalancedEntry struct {
	EntryID   int64
	Reference string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// BalanceDrift is an account whose stored balance differs from its posted lines.
type BalanceDrift struct {
	AccountID int64
	Code      string
	Stored    decimal.Decimal
	Expected  decimal.Decimal
}

var (
	ErrUnbalanced          = shared.ErrUnbalanced
	ErrTooFewLines         = shared.ErrTooFewLines
	ErrInvalidLine         = shared.ErrInvalidLine
	ErrSourceAlreadyLinked = shared.ErrSourceAlreadyLinked
	ErrEntryNotFound       = shared.ErrEntryNotFound
	ErrAccountNotFound     = shared.ErrAccountNotFound
	ErrAlreadyPosted       = shared.ErrAlreadyPosted
	ErrNotPosted           = shared.ErrNotPosted
	ErrNotReversible       = shared.ErrNotReversible
	ErrAlreadyReversed     = shared.ErrAlreadyReversed
	ErrEntryImmutable      = shared.ErrEntryImmutable
)

func normaliseLines(lines []LineInput) []LineInput {
	out := make([]LineInput, len(lines))
	for i, l := range lines {
		l.Debit = money.Round(l.Debit)
		l.Credit = money.Round(l.Credit)
		out[i] = l
	}
	return out
}
