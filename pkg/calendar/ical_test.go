package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteICS(t *testing.T) {
	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	allDay := &Event{
		Title:     "Rent",
		Start:     start,
		End:       start.Add(24*time.Hour - time.Second),
		AllDay:    true,
		BillID:    1,
		Reminders: []Reminder{{MinutesBefore: 1440, Method: ReminderPopup}},
	}
	timed := &Event{
		Title:           "Insurance",
		Description:     "Quarterly premium",
		Start:           time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC),
		End:             time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC),
		BillID:          2,
		ExternalEventID: "abc123",
	}

	var buf strings.Builder
	require.NoError(t, WriteICS(&buf, []*Event{allDay, timed}))
	out := buf.String()

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "PRODID:-//billsync//EN")
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))

	// All-day DTEND is exclusive: the day after the event
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20260410")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20260411")

	assert.Contains(t, out, "SUMMARY:Rent")
	assert.Contains(t, out, "UID:bill-1-20260410@billsync")
	assert.Contains(t, out, "UID:abc123")
	assert.Contains(t, out, "DESCRIPTION:Quarterly premium")

	assert.Contains(t, out, "BEGIN:VALARM")
	assert.Contains(t, out, "TRIGGER:-PT1440M")
}
