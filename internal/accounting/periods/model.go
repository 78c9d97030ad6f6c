package periods

import (
	"fmt"
	"time"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// FiscalPeriod represents a fiscal period window. BranchID 0 applies to all branches.
type FiscalPeriod struct {
	ID        int64
	BranchID  int64
	Year      int
	Period    int
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
}

// Covers reports whether date falls inside the period, inclusive of both ends.
func (p FiscalPeriod) Covers(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// CalendarMonth builds the implicit period for the month containing date.
func CalendarMonth(branchID int64, date time.Time) FiscalPeriod {
	start := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	return FiscalPeriod{
		BranchID:  branchID,
		Year:      date.Year(),
		Period:    int(date.Month()),
		Code:      fmt.Sprintf("%04d-%02d", date.Year(), int(date.Month())),
		StartDate: start,
		EndDate:   start.AddDate(0, 1, -1),
		Status:    PeriodStatusOpen,
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
