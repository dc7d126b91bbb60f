package types

import (
	"fmt"
	"time"
)

// Period is one calendar billing month.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%q is not a valid month (expected YYYY-MM)", s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PreviousPeriod returns the calendar month before the one containing now.
func PreviousPeriod(now time.Time) Period {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return Period{Year: prev.Year(), Month: prev.Month()}
}

// Start is midnight UTC on the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is midnight UTC on the first day of the following period.
func (p Period) End() time.Time { return p.Start().AddDate(0, 1, 0) }

// String formats the period as YYYY-MM.
func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }
