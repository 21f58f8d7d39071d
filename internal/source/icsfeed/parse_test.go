package icsfeed

import (
	"errors"
	"strings"
	"testing"

	"calsync/internal/model"
)

const parseFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:timed-1\r\n" +
	"SUMMARY:Project Review\r\n" +
	"DESCRIPTION:Quarterly numbers\r\n" +
	"LOCATION:HQ\r\n" +
	"DTSTART:20260212T100000Z\r\n" +
	"DTEND:20260212T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allday-1\r\n" +
	"SUMMARY:Company Holiday\r\n" +
	"DTSTART;VALUE=DATE:20260701\r\n" +
	"DTEND;VALUE=DATE:20260702\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20260105T090000Z\r\n" +
	"DTEND:20260105T091500Z\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO\r\n" +
	"EXDATE:20260119T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken-1\r\n" +
	"DTSTART:20260101T000000Z\r\n" +
	"DTEND:20260101T010000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseFeed(t *testing.T) {
	events, err := Parse(Feed{ID: "test"}, []byte(parseFeed))
	if err != nil {
		t.Fatal(err)
	}
	// The summaryless event is skipped, the other three survive.
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	timed := events[0]
	if timed.UID != "timed-1" || timed.Title != "Project Review" || timed.Location != "HQ" {
		t.Fatalf("unexpected timed event: %+v", timed)
	}
	if timed.Start.AllDay || timed.Start.Time.UTC().Hour() != 10 {
		t.Fatalf("unexpected start: %+v", timed.Start)
	}

	allDay := events[1]
	if !allDay.Start.AllDay || allDay.Start.DateString() != "2026-07-01" {
		t.Fatalf("all-day not detected: %+v", allDay.Start)
	}

	weekly := events[2]
	if len(weekly.RecurrenceRules) != 2 {
		t.Fatalf("expected RRULE and EXDATE clauses, got %v", weekly.RecurrenceRules)
	}
	if weekly.RecurrenceRules[0] != "RRULE:FREQ=WEEKLY;BYDAY=MO" {
		t.Fatalf("unexpected rule: %q", weekly.RecurrenceRules[0])
	}
	if !strings.HasPrefix(weekly.RecurrenceRules[1], "EXDATE:") {
		t.Fatalf("unexpected exception clause: %q", weekly.RecurrenceRules[1])
	}
}

func TestParseKeepsExdateZoneParameter(t *testing.T) {
	feed := "BEGIN:VCALENDAR\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:weekly-2\r\n" +
		"SUMMARY:Standup\r\n" +
		"DTSTART;TZID=Europe/Berlin:20260105T100000\r\n" +
		"DTEND;TZID=Europe/Berlin:20260105T101500\r\n" +
		"RRULE:FREQ=WEEKLY;BYDAY=MO\r\n" +
		"EXDATE;TZID=Europe/Berlin:20260119T100000\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	events, err := Parse(Feed{ID: "test"}, []byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	rules := events[0].RecurrenceRules
	if len(rules) != 2 || rules[1] != "EXDATE;TZID=Europe/Berlin:20260119T100000" {
		t.Fatalf("exception zone parameter must survive: %v", rules)
	}
}

func TestParseUTCMarkerSetsZone(t *testing.T) {
	events, err := Parse(Feed{ID: "test", Zone: "Asia/Seoul"}, []byte(parseFeed))
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Start.Zone != "UTC" {
		t.Fatalf("Z-suffixed values are UTC regardless of the feed zone: %q", events[0].Start.Zone)
	}
}

func TestParseRejectsEmptyAndGarbage(t *testing.T) {
	if _, err := Parse(Feed{ID: "x"}, nil); err == nil {
		t.Fatal("empty body must fail")
	}

	_, err := Parse(Feed{ID: "x"}, []byte("not ics at all"))
	var decodeErr *model.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
