// ABOUTME: Converts provider events into mirrored events
// ABOUTME: Applies skip rules and parses all-day vs timed start/end values
package sync

import (
	"fmt"
	"time"

	"github.com/harperreed/calmirror/models"
)

const (
	defaultTitle        = "No Title"
	defaultCalendarName = "Unknown Calendar"

	skipMissingID    = "missing id"
	skipMissingStart = "missing start time"
	skipCancelled    = "cancelled"
	skipBadTime      = "unparseable time"
)

// shouldSkipEvent determines if an event should be left out of the mirror.
// Returns (true, reason) if the event should be skipped, (false, "") otherwise.
func shouldSkipEvent(ev models.RawEvent) (bool, string) {
	if ev.ID == "" {
		return true, skipMissingID
	}

	if ev.Start == nil || (ev.Start.Date == "" && ev.Start.DateTime == "") {
		return true, skipMissingStart
	}

	if ev.Status == "cancelled" {
		return true, skipCancelled
	}

	return false, ""
}

// MirrorEvent builds the cached form of ev for userID, tagged with the
// sub-calendar it came from.
func MirrorEvent(userID string, cal models.SubCalendar, ev models.RawEvent) (models.MirroredEvent, error) {
	if skip, reason := shouldSkipEvent(ev); skip {
		return models.MirroredEvent{}, fmt.Errorf("event %q skipped: %s", ev.ID, reason)
	}

	start, allDay, err := parseEventTime(ev.Start)
	if err != nil {
		return models.MirroredEvent{}, fmt.Errorf("event %q start: %w", ev.ID, err)
	}

	end := start
	if ev.End != nil && (ev.End.Date != "" || ev.End.DateTime != "") {
		end, _, err = parseEventTime(ev.End)
		if err != nil {
			return models.MirroredEvent{}, fmt.Errorf("event %q end: %w", ev.ID, err)
		}
	} else if allDay {
		end = start.AddDate(0, 0, 1)
	}

	title := ev.Summary
	if title == "" {
		title = defaultTitle
	}
	calendarName := cal.Name
	if calendarName == "" {
		calendarName = defaultCalendarName
	}

	return models.MirroredEvent{
		UserID:          userID,
		ProviderEventID: ev.ID,
		CalendarID:      cal.ID,
		CalendarName:    calendarName,
		Title:           title,
		Description:     ev.Description,
		Start:           start,
		End:             end,
		AllDay:          allDay,
		HTMLLink:        ev.HTMLLink,
		ColorID:         ev.ColorID,
		Payload:         ev.Payload,
		Active:          true,
	}, nil
}

// parseEventTime returns the instant and whether it is an all-day date.
// All-day dates are taken as midnight UTC.
func parseEventTime(t *models.EventTime) (time.Time, bool, error) {
	if t.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", t.Date, time.UTC)
		if err != nil {
			return time.Time{}, true, err
		}
		return parsed, true, nil
	}

	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed.UTC(), false, nil
}
