package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a READ COMMITTED transaction, joining one already
// carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, branch_id, reference, entry_date, description, status, source_module, source_type, source_id,
fiscal_year, fiscal_period, auto_generated, is_reversible, created_by, approved_by, posted_at,
reversed_by_entry_id, reversal_of_entry_id, reversal_reason, created_at, updated_at`

func (r *txRepository) NextEntrySequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `SELECT nextval('journal_entry_number_seq')`).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (branch_id, reference, entry_date, description, status, source_module, source_type, source_id,
fiscal_year, fiscal_period, auto_generated, is_reversible, created_by, approved_by, posted_at, reversal_of_entry_id, reversal_reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING id, created_at, updated_at`,
		e.BranchID, e.Reference, e.Date, e.Description, string(e.Status), e.Source.Module, e.Source.Type, nullInt(e.Source.ID),
		e.FiscalYear, e.FiscalPeriod, e.AutoGenerated, e.Reversible, nullInt(e.CreatedBy), e.ApprovedBy, e.PostedAt, e.ReversalOfEntryID, e.ReversalReason)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, "uq_journal_entries_source") {
			return JournalEntry{}, fmt.Errorf("%w: %s/%s#%d", ErrSourceAlreadyLinked, e.Source.Module, e.Source.Type, e.Source.ID)
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for i, line := range lines {
		jl := JournalLine{EntryID: entryID, LineNo: i + 1, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Description: line.Description}
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, entryID, jl.LineNo, jl.AccountID, jl.Debit, jl.Credit, jl.Description).Scan(&jl.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, jl)
	}
	return out, nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return nil, err
	}
	if _, err := r.tx.Exec(ctx, `UPDATE journal_entries SET updated_at=NOW() WHERE id=$1`, entryID); err != nil {
		return nil, err
	}
	return r.InsertLines(ctx, entryID, lines)
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1 AND status='draft'`, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	return r.loadEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, entryID)
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	return r.loadEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID)
}

func (r *txRepository) FindEntryBySource(ctx context.Context, ref SourceRef) (JournalEntry, error) {
	return r.loadEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE source_module=$1 AND source_type=$2 AND source_id=$3`, ref.Module, ref.Type, ref.ID)
}

func (r *txRepository) loadEntry(ctx context.Context, query string, args ...any) (JournalEntry, error) {
	var (
		e         JournalEntry
		status    string
		sourceID  *int64
		createdBy *int64
	)
	err := r.tx.QueryRow(ctx, query, args...).Scan(&e.ID, &e.BranchID, &e.Reference, &e.Date, &e.Description, &status,
		&e.Source.Module, &e.Source.Type, &sourceID, &e.FiscalYear, &e.FiscalPeriod, &e.AutoGenerated, &e.Reversible,
		&createdBy, &e.ApprovedBy, &e.PostedAt, &e.ReversedByEntryID, &e.ReversalOfEntryID, &e.ReversalReason,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	e.Status = EntryStatus(status)
	if sourceID != nil {
		e.Source.ID = *sourceID
	}
	if createdBy != nil {
		e.CreatedBy = *createdBy
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, line_no, account_id, debit, credit, description
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no, id`, e.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Description); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func (r *txRepository) MarkPosted(ctx context.Context, entryID, approverID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='posted', approved_by=$2, posted_at=$3, updated_at=NOW()
WHERE id=$1 AND status='draft'`, entryID, nullInt(approverID), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

func (r *txRepository) MarkReversed(ctx context.Context, entryID, reversalID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET reversed_by_entry_id=$2, updated_at=NOW()
WHERE id=$1 AND reversed_by_entry_id IS NULL`, entryID, reversalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	var a Account
	var typ string
	err := r.tx.QueryRow(ctx, `SELECT id, branch_id, code, name, type, balance, is_active, created_at, updated_at
FROM accounts WHERE id=$1`, accountID).
		Scan(&a.ID, &a.BranchID, &a.Code, &a.Name, &typ, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
		}
		return Account{}, err
	}
	a.Type = AccountType(typ)
	return a, nil
}

func (r *txRepository) LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, branch_id, code, name, type, balance, is_active, created_at, updated_at
FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		var a Account
		var typ string
		if err := rows.Scan(&a.ID, &a.BranchID, &a.Code, &a.Name, &typ, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Type = AccountType(typ)
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$2, updated_at=NOW() WHERE id=$1`, accountID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
	}
	return nil
}

// CreateAccount inserts a chart of accounts row with a zero balance.
func (r *Repository) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if !a.Type.Valid() {
		return Account{}, fmt.Errorf("accounting: invalid account type %q", a.Type)
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO accounts (branch_id, code, name, type, is_active)
VALUES ($1,$2,$3,$4,TRUE) RETURNING id, balance, is_active, created_at, updated_at`, a.BranchID, a.Code, a.Name, string(a.Type)).
		Scan(&a.ID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// FindUnbalancedEntries lists posted entries whose lines differ by 0.01 or more.
func (r *Repository) FindUnbalancedEntries(ctx context.Context) ([]UnbalancedEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT e.id, e.reference, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status = 'posted'
GROUP BY e.id, e.reference
HAVING ABS(COALESCE(SUM(l.debit),0) - COALESCE(SUM(l.credit),0)) >= 0.01
ORDER BY e.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedEntry
	for rows.Next() {
		var u UnbalancedEntry
		if err := rows.Scan(&u.EntryID, &u.Reference, &u.Debit, &u.Credit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// FindBalanceDrift lists accounts whose stored balance differs from the sum of posted lines.
func (r *Repository) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `WITH net AS (
    SELECT l.account_id, SUM(l.debit - l.credit) AS net
    FROM journal_lines l
    JOIN journal_entries e ON e.id = l.entry_id AND e.status = 'posted'
    GROUP BY l.account_id
), expected AS (
    SELECT a.id, a.code, a.balance,
           CASE WHEN a.type IN ('asset', 'expense') THEN COALESCE(n.net, 0) ELSE -COALESCE(n.net, 0) END AS expected
    FROM accounts a
    LEFT JOIN net n ON n.account_id = a.id
)
SELECT id, code, balance, expected FROM expected WHERE balance <> expected ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.Code, &d.Stored, &d.Expected); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
