package mappings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository reads account_mappings from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Resolve returns the branch row when present, else the default row.
func (r *Repository) Resolve(ctx context.Context, module Module, role Role, branchID int64) (AccountRef, error) {
	if module == "" || role == "" {
		return NotConfigured(), errors.New("accounting: module and role required")
	}
	var accountID int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT account_id FROM account_mappings
WHERE module=$1 AND role=$2 AND (branch_id=$3 OR branch_id IS NULL)
ORDER BY branch_id NULLS LAST LIMIT 1`, string(module), string(role), branchID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotConfigured(), nil
		}
		return NotConfigured(), err
	}
	return Configured(accountID), nil
}

// Upsert stores a mapping, replacing the account of an existing slot.
func (r *Repository) Upsert(ctx context.Context, m AccountMapping) error {
	if m.Module == "" || m.Role == "" || m.AccountID <= 0 {
		return errors.New("accounting: module, role and account required")
	}
	conn := db.Conn(ctx, r.pool)
	if m.BranchID == DefaultBranch {
		_, err := conn.Exec(ctx, `INSERT INTO account_mappings (module, role, branch_id, account_id)
VALUES ($1, $2, NULL, $3)
ON CONFLICT (module, role) WHERE branch_id IS NULL
DO UPDATE SET account_id = EXCLUDED.account_id, updated_at = NOW()`, string(m.Module), string(m.Role), m.AccountID)
		return err
	}
	_, err := conn.Exec(ctx, `INSERT INTO account_mappings (module, role, branch_id, account_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (module, role, branch_id) WHERE branch_id IS NOT NULL
DO UPDATE SET account_id = EXCLUDED.account_id, updated_at = NOW()`, string(m.Module), string(m.Role), m.BranchID, m.AccountID)
	return err
}
