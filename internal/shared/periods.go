package shared

import (
	"errors"
	"time"
)

// ErrInvalidPeriod indicates a period string outside the YYYY-MM format.
var ErrInvalidPeriod = errors.New("period must use YYYY-MM format")

// Period is a calendar month used by statements and totals.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses a YYYY-MM string into a Period.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// CurrentPeriod returns the period containing the current moment.
func CurrentPeriod() Period {
	return PeriodOf(time.Now())
}

// PeriodOf returns the period containing ts (in UTC).
func PeriodOf(ts time.Time) Period {
	ts = ts.UTC()
	return Period{Year: ts.Year(), Month: ts.Month()}
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Bounds returns the half-open [start, end) interval of the period in UTC.
func (p Period) Bounds() (time.Time, time.Time) {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
