package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// BillFrequency describes how often a bill recurs.
type BillFrequency string

const (
	FrequencyOnce    BillFrequency = "once"
	FrequencyWeekly  BillFrequency = "weekly"
	FrequencyMonthly BillFrequency = "monthly"
	FrequencyYearly  BillFrequency = "yearly"
)

// Bill is the slice of a bill record this subsystem consumes. The bill
// database itself lives outside the calendar layer.
type Bill struct {
	ID         int64
	Name       string
	Amount     float64
	Category   string
	CategoryID int64
	DueDate    time.Time
	Frequency  BillFrequency
}

// timed events generated from templates start at this hour of the due date
const timedEventStartHour = 9

// BuildEvents expands a bill into calendar events for every due date inside
// rng, applying the template for titles, descriptions, duration and color.
// Recurring bills are expanded with an RRULE matching their frequency.
func BuildEvents(bill Bill, tmpl EventTemplate, rng DateRange) ([]*Event, error) {
	if bill.ID <= 0 {
		return nil, NewValidationError("bill ID must be a positive integer", "bill_id")
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	dueDates, err := dueDatesIn(bill, rng)
	if err != nil {
		return nil, err
	}

	events := make([]*Event, 0, len(dueDates))
	for _, due := range dueDates {
		title := renderTemplate(tmpl.TitleTemplate, bill, due)
		description := renderTemplate(tmpl.DescriptionTemplate, bill, due)

		var start, end time.Time
		allDay := tmpl.DurationType == DurationAllDay
		if allDay {
			start = time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, due.Location())
			end = start.Add(24*time.Hour - time.Second)
		} else {
			start = time.Date(due.Year(), due.Month(), due.Day(), timedEventStartHour, 0, 0, 0, due.Location())
			end = start.Add(time.Duration(tmpl.DurationMinutes) * time.Minute)
		}

		event, err := NewEvent(title, description, start, end, allDay, nil, bill.ID)
		if err != nil {
			return nil, err
		}
		event.Color = tmpl.ColorFor(bill.Category)
		events = append(events, event)
	}
	return events, nil
}

func dueDatesIn(bill Bill, rng DateRange) ([]time.Time, error) {
	if bill.Frequency == "" || bill.Frequency == FrequencyOnce {
		if rng.Contains(bill.DueDate) {
			return []time.Time{bill.DueDate}, nil
		}
		return nil, nil
	}

	var freq rrule.Frequency
	switch bill.Frequency {
	case FrequencyWeekly:
		freq = rrule.WEEKLY
	case FrequencyMonthly:
		freq = rrule.MONTHLY
	case FrequencyYearly:
		freq = rrule.YEARLY
	default:
		return nil, NewValidationError("invalid bill frequency", "frequency")
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    freq,
		Dtstart: bill.DueDate,
		Until:   rng.End.Add(24*time.Hour - time.Second),
	})
	if err != nil {
		return nil, NewValidationError("invalid recurrence: "+err.Error(), "frequency")
	}
	return rule.Between(rng.Start, rng.End.Add(24*time.Hour-time.Second), true), nil
}

func renderTemplate(tmpl string, bill Bill, due time.Time) string {
	r := strings.NewReplacer(
		"{name}", bill.Name,
		"{amount}", fmt.Sprintf("%.2f", bill.Amount),
		"{category}", bill.Category,
		"{due_date}", due.Format("2006-01-02"),
	)
	return r.Replace(tmpl)
}
