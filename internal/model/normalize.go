package model

import (
	"strings"
	"time"
)

// RawEvent is the shape acquisition collaborators hand over before
// validation: every field still a string, times in whatever form the
// source produced.
type RawEvent struct {
	Title       string
	Start       string
	End         string
	AllDay      bool
	Zone        string // optional IANA zone hint for naive date-times
	Location    string
	Description string
	UID         string
	Status      string
	Recurrence  []string
}

// Accepted naive date-time layouts, interpreted in the hinted zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"20060102T150405",
	"2006-01-02 15:04:05",
}

// Accepted date-only layouts. A value matching one of these marks the
// event as all-day.
var dateLayouts = []string{
	"2006-01-02",
	"20060102",
}

// Normalize validates and shape-normalizes a raw event into a
// CanonicalEvent. Events missing title, start or end, or whose times parse
// as neither an instant nor a civil date, are rejected with a
// ValidationError.
func Normalize(raw RawEvent) (CanonicalEvent, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return CanonicalEvent{}, &ValidationError{Field: "title", Reason: "missing"}
	}
	if strings.TrimSpace(raw.Start) == "" {
		return CanonicalEvent{}, &ValidationError{Field: "start", Reason: "missing"}
	}
	if strings.TrimSpace(raw.End) == "" {
		return CanonicalEvent{}, &ValidationError{Field: "end", Reason: "missing"}
	}

	start, err := ParseEventTime(raw.Start, raw.Zone, raw.AllDay)
	if err != nil {
		return CanonicalEvent{}, &ValidationError{Field: "start", Reason: err.Error()}
	}
	end, err := ParseEventTime(raw.End, raw.Zone, raw.AllDay)
	if err != nil {
		return CanonicalEvent{}, &ValidationError{Field: "end", Reason: err.Error()}
	}

	// A date-only start makes the whole event all-day; coerce the end the
	// same way so the pair stays consistent.
	if start.AllDay != end.AllDay {
		return CanonicalEvent{}, &ValidationError{Field: "end", Reason: "all-day start paired with timed end"}
	}

	rules := make([]string, 0, len(raw.Recurrence))
	for _, r := range raw.Recurrence {
		if r = strings.TrimSpace(r); r != "" {
			rules = append(rules, r)
		}
	}
	if len(rules) == 0 {
		rules = nil
	}

	return CanonicalEvent{
		Title:           title,
		Start:           start,
		End:             end,
		Location:        strings.TrimSpace(raw.Location),
		Description:     strings.TrimSpace(raw.Description),
		UID:             strings.TrimSpace(raw.UID),
		RecurrenceRules: rules,
		StatusText:      strings.TrimSpace(raw.Status),
	}, nil
}

// ParseEventTime parses a single start/end value. allDay forces the
// date-only interpretation; otherwise it is detected from the value shape
// (8-digit or YYYY-MM-DD forms). Naive date-times are interpreted in the
// hinted zone, falling back to UTC.
func ParseEventTime(value, zone string, allDay bool) (EventTime, error) {
	value = strings.TrimSpace(value)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return EventTime{Time: t.UTC(), AllDay: true}, nil
		}
	}
	if allDay {
		// Explicit flag with a timed value: keep the civil date only.
		if t, z, err := parseTimed(value, zone); err == nil {
			day, _ := time.Parse("2006-01-02", EventTime{Time: t, Zone: z}.DateString())
			return EventTime{Time: day, AllDay: true}, nil
		}
		return EventTime{}, &ValidationError{Field: "time", Reason: "unparsable all-day value " + value}
	}

	t, z, err := parseTimed(value, zone)
	if err != nil {
		return EventTime{}, err
	}
	return EventTime{Time: t, Zone: z}, nil
}

func parseTimed(value, zone string) (time.Time, string, error) {
	// Offset-carrying forms first; the value's own offset is
	// authoritative, the zone hint survives only when it agrees.
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, zoneForOffset(t, zone), nil
	}
	// UTC basic form, e.g. 20240905T120000Z (the trailing Z is literal).
	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t.UTC(), "", nil
	}

	loc := time.UTC
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		} else {
			zone = ""
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, zone, nil
		}
	}
	return time.Time{}, "", &ValidationError{Field: "time", Reason: "unparsable value " + value}
}

// zoneForOffset keeps the declared zone hint when the parsed offset agrees
// with it; otherwise the value's own offset wins and the zone is dropped.
func zoneForOffset(t time.Time, zone string) string {
	if zone == "" {
		return ""
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return ""
	}
	_, wantOff := t.In(loc).Zone()
	_, haveOff := t.Zone()
	if wantOff == haveOff {
		return zone
	}
	return ""
}
