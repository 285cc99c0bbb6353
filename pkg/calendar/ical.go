package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
)

const icalProductID = "-//billsync//EN"

// WriteICS writes events as an iCalendar stream, one VEVENT per event with
// VALARM children for reminders. This lets any calendar application import
// bill due-dates without an OAuth connection.
func WriteICS(w io.Writer, events []*Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icalProductID)

	for _, event := range events {
		cal.Children = append(cal.Children, eventToVEvent(event))
	}

	return ical.NewEncoder(w).Encode(cal)
}

func eventToVEvent(event *Event) *ical.Component {
	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, eventUID(event))
	vevent.Props.SetText(ical.PropSummary, event.Title)

	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}

	if event.AllDay {
		// DTEND is exclusive for all-day events
		vevent.Props.SetDate(ical.PropDateTimeStart, event.Start)
		vevent.Props.SetDate(ical.PropDateTimeEnd, truncateToDate(event.End).AddDate(0, 0, 1))
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start)
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now())

	for _, reminder := range event.Reminders {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, event.Title)
		alarm.Props.SetText(ical.PropTrigger, fmt.Sprintf("-PT%dM", reminder.MinutesBefore))
		vevent.Children = append(vevent.Children, alarm)
	}

	return vevent
}

func eventUID(event *Event) string {
	if event.ExternalEventID != "" {
		return event.ExternalEventID
	}
	return fmt.Sprintf("bill-%d-%s@billsync", event.BillID, event.Start.Format("20060102"))
}
