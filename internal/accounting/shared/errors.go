package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a structurally invalid journal line.
	ErrInvalidLine = errors.New("accounting: invalid journal line")
	// ErrPeriodNotFound indicates no open fiscal period covers the date.
	ErrPeriodNotFound = errors.New("accounting: no open fiscal period")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("accounting: journal entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAlreadyPosted rejects a second posting.
	ErrAlreadyPosted = errors.New("accounting: journal entry already posted")
	// ErrNotPosted rejects reversal of a draft.
	ErrNotPosted = errors.New("accounting: journal entry is not posted")
	// ErrNotReversible rejects reversal of entries flagged non reversible.
	ErrNotReversible = errors.New("accounting: journal entry is not reversible")
	// ErrAlreadyReversed rejects a second reversal.
	ErrAlreadyReversed = errors.New("accounting: journal entry already reversed")
	// ErrEntryImmutable rejects line edits on posted entries.
	ErrEntryImmutable = errors.New("accounting: posted journal entry is immutable")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
)
