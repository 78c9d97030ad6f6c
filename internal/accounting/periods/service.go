package periods

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Service resolves the fiscal period entries are booked into.
type Service struct {
	repo             Repository
	calendarFallback bool
	now              func() time.Time
}

// NewService constructs the resolver. With calendarFallback a date not covered
// by any open period row maps to its calendar month.
func NewService(repo Repository, calendarFallback bool) *Service {
	return &Service{repo: repo, calendarFallback: calendarFallback, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CurrentPeriod returns the period covering today for the branch.
func (s *Service) CurrentPeriod(ctx context.Context, branchID int64) (FiscalPeriod, error) {
	return s.PeriodFor(ctx, branchID, s.now())
}

// PeriodFor returns the period covering date for the branch.
func (s *Service) PeriodFor(ctx context.Context, branchID int64, date time.Time) (FiscalPeriod, error) {
	if s.repo != nil {
		period, err := s.repo.FindOpenPeriod(ctx, branchID, date)
		if err == nil {
			return period, nil
		}
		if !errors.Is(err, shared.ErrPeriodNotFound) {
			return FiscalPeriod{}, err
		}
	}
	if s.calendarFallback {
		return CalendarMonth(branchID, date), nil
	}
	return FiscalPeriod{}, shared.ErrPeriodNotFound
}
