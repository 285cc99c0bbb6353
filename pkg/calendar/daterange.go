package calendar

import (
	"errors"
	"time"
)

// DateRange is an inclusive date interval used for range queries.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange creates a range; times are truncated to dates. Start must not
// be after End.
func NewDateRange(start, end time.Time) (DateRange, error) {
	start = truncateToDate(start)
	end = truncateToDate(end)
	if start.After(end) {
		return DateRange{}, errors.New("start date must be before or equal to end date")
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns the number of days in the range, inclusive of both ends.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether t falls on a date within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := truncateToDate(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
