package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository finds open fiscal periods.
type Repository interface {
	FindOpenPeriod(ctx context.Context, branchID int64, date time.Time) (FiscalPeriod, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// FindOpenPeriod returns the open period covering date, preferring the branch's own calendar.
func (r *repository) FindOpenPeriod(ctx context.Context, branchID int64, date time.Time) (FiscalPeriod, error) {
	var (
		period FiscalPeriod
		branch *int64
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, branch_id, fiscal_year, period_no, code, start_date, end_date, status
FROM fiscal_periods
WHERE status='OPEN' AND $1::date BETWEEN start_date AND end_date AND (branch_id=$2 OR branch_id IS NULL)
ORDER BY branch_id NULLS LAST, start_date LIMIT 1`, date, branchID).
		Scan(&period.ID, &branch, &period.Year, &period.Period, &period.Code, &period.StartDate, &period.EndDate, &period.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, shared.ErrPeriodNotFound
		}
		return FiscalPeriod{}, err
	}
	if branch != nil {
		period.BranchID = *branch
	}
	return period, nil
}

// MemoryRepository is a fixed list of periods.
type MemoryRepository struct {
	Periods []FiscalPeriod
}

// FindOpenPeriod implements Repository.
func (m *MemoryRepository) FindOpenPeriod(_ context.Context, branchID int64, date time.Time) (FiscalPeriod, error) {
	var fallback *FiscalPeriod
	for i := range m.Periods {
		p := m.Periods[i]
		if p.Status != PeriodStatusOpen || !p.Covers(date) {
			continue
		}
		if p.BranchID == branchID {
			return p, nil
		}
		if p.BranchID == 0 && fallback == nil {
			fallback = &m.Periods[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return FiscalPeriod{}, shared.ErrPeriodNotFound
}
