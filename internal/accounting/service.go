package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the row level operations of one unit of work.
type TxRepository interface {
	NextEntrySequence(ctx context.Context) (int64, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error)
	ReplaceLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error)
	DeleteEntry(ctx context.Context, entryID int64) error
	GetEntry(ctx context.Context, entryID int64) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	FindEntryBySource(ctx context.Context, ref SourceRef) (JournalEntry, error)
	MarkPosted(ctx context.Context, entryID, approverID int64, at time.Time) error
	MarkReversed(ctx context.Context, entryID, reversalID int64) error
	GetAccount(ctx context.Context, accountID int64) (Account, error)
	// LockAccounts takes exclusive row locks held until the unit of work ends.
	// Ids missing from the result do not exist.
	LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
}

// IntegrityReader runs ledger wide consistency queries.
type IntegrityReader interface {
	FindUnbalancedEntries(ctx context.Context) ([]UnbalancedEntry, error)
	FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodResolver maps a booking date to its fiscal period.
type PeriodResolver interface {
	PeriodFor(ctx context.Context, branchID int64, date time.Time) (periods.FiscalPeriod, error)
}

// Metrics receives posting outcomes.
type Metrics interface {
	EntryPosted(kind string)
	PostingFailed(reason string)
}

type nopMetrics struct{}

func (nopMetrics) EntryPosted(string)   {}
func (nopMetrics) PostingFailed(string) {}

// Service coordinates the draft, post and reverse lifecycle of journal entries.
type Service struct {
	repo    RepositoryPort
	periods PeriodResolver
	audit   AuditPort
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, periods PeriodResolver, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, periods: periods, audit: audit, logger: logger, metrics: nopMetrics{}, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics sets the metrics sink.
func (s *Service) WithMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// CreateDraftEntry stores an editable entry. Lines may be unbalanced while draft.
func (s *Service) CreateDraftEntry(ctx context.Context, header EntryHeader, lines []LineInput) (int64, error) {
	lines = normaliseLines(lines)
	if err := ValidateLines(lines); err != nil {
		return 0, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.insertEntry(ctx, tx, header, lines)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.record(ctx, header.CreatedBy, "journal.draft", entry, nil)
	return entry.ID, nil
}

// UpdateDraftLines replaces the lines of a draft entry.
func (s *Service) UpdateDraftLines(ctx context.Context, entryID int64, lines []LineInput, actorID int64) error {
	lines = normaliseLines(lines)
	if err := ValidateLines(lines); err != nil {
		return err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return fmt.Errorf("%w: %s", ErrEntryImmutable, current.Reference)
		}
		current.Lines, err = tx.ReplaceLines(ctx, entryID, lines)
		entry = current
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "journal.update_draft", entry, map[string]any{"lines": len(lines)})
	return nil
}

// DeleteDraftEntry removes a draft entry and its lines.
func (s *Service) DeleteDraftEntry(ctx context.Context, entryID, actorID int64) error {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return fmt.Errorf("%w: %s", ErrEntryImmutable, current.Reference)
		}
		entry = current
		return tx.DeleteEntry(ctx, entryID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "journal.delete_draft", entry, nil)
	return nil
}

// Post validates a draft entry and applies its lines to account balances.
func (s *Service) Post(ctx context.Context, entryID, approverID int64) error {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		entry, err = s.post(ctx, tx, current, approverID)
		return err
	})
	if err != nil {
		s.metrics.PostingFailed(failureReason(err))
		return err
	}
	s.countPosted(ctx, entryKind(entry))
	s.record(ctx, approverID, "journal.post", entry, nil)
	return nil
}

// CreateAndPost inserts and posts an entry in one unit of work. A posting
// failure leaves no draft behind.
func (s *Service) CreateAndPost(ctx context.Context, header EntryHeader, lines []LineInput, approverID int64) (JournalEntry, error) {
	lines = normaliseLines(lines)
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := validateForPosting(describe(header), lines); err != nil {
			return err
		}
		draft, err := s.insertEntry(ctx, tx, header, lines)
		if err != nil {
			return err
		}
		entry, err = s.post(ctx, tx, draft, approverID)
		return err
	})
	if err != nil {
		s.metrics.PostingFailed(failureReason(err))
		return JournalEntry{}, err
	}
	s.countPosted(ctx, entryKind(entry))
	s.record(ctx, approverID, "journal.post", entry, map[string]any{"auto_generated": entry.AutoGenerated})
	return entry, nil
}

// Reverse books a posted entry's mirror image and stamps the original. The
// reversal is created posted and cannot itself be reversed.
func (s *Service) Reverse(ctx context.Context, entryID int64, reason string, userID int64) (int64, error) {
	var original, reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		switch {
		case current.Status != EntryStatusPosted:
			return fmt.Errorf("%w: %s", ErrNotPosted, current.Reference)
		case current.IsReversed():
			return fmt.Errorf("%w: %s by entry %d", ErrAlreadyReversed, current.Reference, *current.ReversedByEntryID)
		case !current.Reversible:
			return fmt.Errorf("%w: %s", ErrNotReversible, current.Reference)
		}
		original = current

		lines := make([]LineInput, 0, len(current.Lines))
		for _, l := range current.Inputs() {
			swapped := l.Swapped()
			swapped.Description = "Reversal: " + l.Description
			lines = append(lines, swapped)
		}
		now := s.now()
		description := "Reversal of " + current.Reference
		if reason != "" {
			description += ": " + reason
		}
		header := EntryHeader{
			BranchID:      current.BranchID,
			Date:          now,
			Description:   description,
			AutoGenerated: current.AutoGenerated,
			NonReversible: true,
			CreatedBy:     userID,
		}
		reversal, err = s.buildEntry(ctx, tx, header)
		if err != nil {
			return err
		}
		reversal.Status = EntryStatusPosted
		reversal.ApprovedBy = &userID
		reversal.PostedAt = &now
		reversal.ReversalOfEntryID = &current.ID
		reversal.ReversalReason = reason
		if err := validateForPosting(reversal.Reference, lines); err != nil {
			return err
		}
		reversal, err = tx.InsertEntry(ctx, reversal)
		if err != nil {
			return err
		}
		if reversal.Lines, err = tx.InsertLines(ctx, reversal.ID, lines); err != nil {
			return err
		}
		if err := s.applyBalances(ctx, tx, "reverse "+current.Reference, lines); err != nil {
			return err
		}
		return tx.MarkReversed(ctx, current.ID, reversal.ID)
	})
	if err != nil {
		s.metrics.PostingFailed(failureReason(err))
		return 0, err
	}
	s.countPosted(ctx, "reversal")
	s.record(ctx, userID, "journal.reverse", original, map[string]any{
		"reversal_id":        reversal.ID,
		"reversal_reference": reversal.Reference,
		"reason":             reason,
	})
	return reversal.ID, nil
}

// GetAccountBalance returns the running balance of an account.
func (s *Service) GetAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		balance = acct.Balance
		return nil
	})
	return balance, err
}

// GetEntry loads an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntry(ctx, entryID)
		return err
	})
	return entry, err
}

// FindBySource returns the entry linked to a business document, or ErrEntryNotFound.
func (s *Service) FindBySource(ctx context.Context, ref SourceRef) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindEntryBySource(ctx, ref)
		return err
	})
	return entry, err
}

// ValidateEntryBalance checks the stored lines of an entry.
func (s *Service) ValidateEntryBalance(ctx context.Context, entryID int64) (bool, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return false, err
	}
	return ValidateBalance(entry.Inputs()), nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, entry JournalEntry, approverID int64) (JournalEntry, error) {
	if entry.Status == EntryStatusPosted {
		return JournalEntry{}, fmt.Errorf("%w: %s", ErrAlreadyPosted, entry.Reference)
	}
	lines := entry.Inputs()
	if err := validateForPosting(entry.Reference, lines); err != nil {
		return JournalEntry{}, err
	}
	at := s.now()
	if err := tx.MarkPosted(ctx, entry.ID, approverID, at); err != nil {
		return JournalEntry{}, err
	}
	if err := s.applyBalances(ctx, tx, "post "+entry.Reference, lines); err != nil {
		return JournalEntry{}, err
	}
	entry.Status = EntryStatusPosted
	entry.ApprovedBy = &approverID
	entry.PostedAt = &at
	return entry, nil
}

// applyBalances locks every referenced account in ascending id order, then
// applies the lines in order and writes each final balance back.
func (s *Service) applyBalances(ctx context.Context, tx TxRepository, op string, lines []LineInput) error {
	ids := distinctAccounts(lines)
	accounts, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return err
	}
	for _, l := range lines {
		acct, ok := accounts[l.AccountID]
		if !ok {
			return s.integrity(ctx, op, fmt.Errorf("%w: %d", ErrAccountNotFound, l.AccountID))
		}
		acct.Balance = acct.Balance.Add(NetChange(acct.Type, l.Debit, l.Credit))
		accounts[l.AccountID] = acct
	}
	for _, id := range ids {
		if err := tx.UpdateAccountBalance(ctx, id, money.Round(accounts[id].Balance)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) insertEntry(ctx context.Context, tx TxRepository, header EntryHeader, lines []LineInput) (JournalEntry, error) {
	entry, err := s.buildEntry(ctx, tx, header)
	if err != nil {
		return JournalEntry{}, err
	}
	entry, err = tx.InsertEntry(ctx, entry)
	if err != nil {
		return JournalEntry{}, err
	}
	if entry.Lines, err = tx.InsertLines(ctx, entry.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) buildEntry(ctx context.Context, tx TxRepository, header EntryHeader) (JournalEntry, error) {
	date := header.Date
	if date.IsZero() {
		date = s.now()
	}
	if s.periods == nil {
		return JournalEntry{}, errors.New("accounting: period resolver not configured")
	}
	period, err := s.periods.PeriodFor(ctx, header.BranchID, date)
	if err != nil {
		return JournalEntry{}, err
	}
	reference := strings.TrimSpace(header.Reference)
	if reference == "" {
		seq, err := tx.NextEntrySequence(ctx)
		if err != nil {
			return JournalEntry{}, err
		}
		reference = fmt.Sprintf("JE-%d-%s-%06d", header.BranchID, date.Format("200601"), seq)
	}
	return JournalEntry{
		BranchID:      header.BranchID,
		Reference:     reference,
		Date:          date,
		Description:   header.Description,
		Status:        EntryStatusDraft,
		Source:        header.Source,
		FiscalYear:    period.Year,
		FiscalPeriod:  period.Period,
		AutoGenerated: header.AutoGenerated,
		Reversible:    !header.NonReversible,
		CreatedBy:     header.CreatedBy,
	}, nil
}

// countPosted records a posting once the enclosing unit of work commits.
func (s *Service) countPosted(ctx context.Context, kind string) {
	db.AfterCommit(ctx, func() { s.metrics.EntryPosted(kind) })
}

func (s *Service) integrity(ctx context.Context, op string, cause error) error {
	err := shared.NewIntegrityError(op, cause)
	s.logger.ErrorContext(ctx, "ledger data integrity failure",
		slog.String("op", op),
		slog.String("detail", err.Detail()),
	)
	return err
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entry JournalEntry, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"reference":      entry.Reference,
		"branch_id":      entry.BranchID,
		"source_module":  entry.Source.Module,
		"source_type":    entry.Source.Type,
		"source_id":      entry.Source.ID,
		"auto_generated": entry.AutoGenerated,
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func describe(h EntryHeader) string {
	if h.Reference != "" {
		return h.Reference
	}
	if !h.Source.IsZero() {
		return fmt.Sprintf("%s/%s#%d", h.Source.Module, h.Source.Type, h.Source.ID)
	}
	return "(new)"
}

func entryKind(e JournalEntry) string {
	if e.AutoGenerated && e.Source.Module != "" {
		return e.Source.Module
	}
	return "manual"
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnbalanced):
		return "unbalanced"
	case errors.Is(err, ErrAlreadyPosted), errors.Is(err, ErrAlreadyReversed):
		return "duplicate"
	case errors.Is(err, ErrNotPosted), errors.Is(err, ErrNotReversible), errors.Is(err, ErrEntryImmutable):
		return "state"
	case errors.Is(err, ErrTooFewLines), errors.Is(err, ErrInvalidLine):
		return "invalid"
	case errors.Is(err, shared.ErrDataIntegrity):
		return "integrity"
	case errors.Is(err, ErrEntryNotFound):
		return "not_found"
	default:
		return "error"
	}
}
