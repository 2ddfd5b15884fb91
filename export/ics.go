// ABOUTME: iCalendar export of the local event mirror
// ABOUTME: Renders mirrored events as VEVENTs with golang-ical
package export

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/harperreed/calmirror/models"
)

const productID = "-//calmirror//calendar mirror//EN"

// WriteICS writes events to w as one iCalendar feed named name.
func WriteICS(w io.Writer, name string, events []models.MirroredEvent, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		if ev.ProviderEventID == "" {
			continue
		}

		vevent := cal.AddEvent(UID(ev))
		vevent.SetDtStampTime(now.UTC())
		if !ev.UpdatedAt.IsZero() {
			vevent.SetModifiedAt(ev.UpdatedAt.UTC())
		}

		if ev.AllDay {
			vevent.SetAllDayStartAt(ev.Start)
			vevent.SetAllDayEndAt(ev.End)
		} else {
			vevent.SetStartAt(ev.Start.UTC())
			vevent.SetEndAt(ev.End.UTC())
		}

		vevent.SetSummary(ev.Title)
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if ev.HTMLLink != "" {
			vevent.SetURL(ev.HTMLLink)
		}
		if ev.CalendarName != "" {
			vevent.AddProperty(ical.ComponentPropertyCategories, ev.CalendarName)
		}
	}

	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	return nil
}

// UID is the stable iCalendar UID for a mirrored event.
func UID(ev models.MirroredEvent) string {
	return ev.ProviderEventID + "@calmirror"
}
