package calendar

import (
	"io"
	"time"

	"github.com/emersion/go-ical"
)

const (
	icsProductID     = "-//calsched//Timeline Export//EN"
	icsInstanceStamp = "20060102T150405Z"
)

// EncodeICS writes instances as one VEVENT each. An overridden instance keeps
// its event's UID and carries RECURRENCE-ID, its original start. Any other
// instance is a standalone VEVENT with a UID derived from its original start.
func EncodeICS(w io.Writer, name string, instances []Instance) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, icsProductID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if name != "" {
		cal.Props.SetText(ical.PropName, name)
	}

	stamp := time.Now().UTC()
	for _, in := range instances {
		ev := ical.NewEvent()
		if in.Overridden() {
			ev.Props.SetText(ical.PropUID, in.EventID)
			ev.Props.SetDateTime(ical.PropRecurrenceID, in.OriginalStart.UTC())
		} else {
			ev.Props.SetText(ical.PropUID, in.EventID+"-"+in.OriginalStart.UTC().Format(icsInstanceStamp))
		}
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		ev.Props.SetDateTime(ical.PropDateTimeStart, in.Period.Start().UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, in.Period.End().UTC())
		if in.Title != "" {
			ev.Props.SetText(ical.PropSummary, in.Title)
		}
		cal.Children = append(cal.Children, ev.Component)
	}
	return ical.NewEncoder(w).Encode(cal)
}
