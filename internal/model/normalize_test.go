package model

import (
	"testing"
	"time"
)

func TestNormalizeTimedRFC3339(t *testing.T) {
	ev, err := Normalize(RawEvent{
		Title: "  Standup ",
		Start: "2026-03-05T09:00:00Z",
		End:   "2026-03-05T09:30:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Title != "Standup" {
		t.Fatalf("title not trimmed: %q", ev.Title)
	}
	want := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	if !ev.Start.Time.Equal(want) || ev.Start.AllDay {
		t.Fatalf("unexpected start: %+v", ev.Start)
	}
}

func TestNormalizeNaiveWithZoneHint(t *testing.T) {
	ev, err := Normalize(RawEvent{
		Title: "Lunch",
		Start: "2026-03-05T12:00:00",
		End:   "2026-03-05T13:00:00",
		Zone:  "Europe/Berlin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Start.Zone != "Europe/Berlin" {
		t.Fatalf("zone hint lost: %q", ev.Start.Zone)
	}
	// Noon Berlin in March is 11:00 UTC.
	if got := ev.Start.Time.UTC().Hour(); got != 11 {
		t.Fatalf("naive value not interpreted in hinted zone, UTC hour = %d", got)
	}
}

func TestNormalizeAllDay(t *testing.T) {
	ev, err := Normalize(RawEvent{Title: "Holiday", Start: "2026-07-04", End: "2026-07-05"})
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Start.AllDay || !ev.End.AllDay {
		t.Fatalf("date-only values not detected as all-day: %+v", ev)
	}
	if ev.Start.DateString() != "2026-07-04" {
		t.Fatalf("unexpected date: %s", ev.Start.DateString())
	}
}

func TestNormalizeBasicUTCForm(t *testing.T) {
	ev, err := Normalize(RawEvent{Title: "Call", Start: "20260305T140000Z", End: "20260305T150000Z"})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Start.Time.UTC().Hour() != 14 || ev.Start.Zone != "" {
		t.Fatalf("unexpected start: %+v", ev.Start)
	}
}

func TestNormalizeRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  RawEvent
	}{
		{"missing title", RawEvent{Start: "2026-01-01", End: "2026-01-02"}},
		{"missing start", RawEvent{Title: "x", End: "2026-01-02"}},
		{"missing end", RawEvent{Title: "x", Start: "2026-01-01"}},
		{"garbage time", RawEvent{Title: "x", Start: "not a time", End: "2026-01-02"}},
		{"mixed all-day and timed", RawEvent{Title: "x", Start: "2026-01-01", End: "2026-01-01T10:00:00Z"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Normalize(tc.raw); !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestNormalizeDropsBlankRules(t *testing.T) {
	ev, err := Normalize(RawEvent{
		Title:      "Weekly",
		Start:      "2026-03-05T09:00:00Z",
		End:        "2026-03-05T10:00:00Z",
		Recurrence: []string{" ", "FREQ=WEEKLY"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.RecurrenceRules) != 1 || ev.RecurrenceRules[0] != "FREQ=WEEKLY" {
		t.Fatalf("unexpected rules: %v", ev.RecurrenceRules)
	}
	if !ev.Recurring() {
		t.Fatal("expected recurring")
	}
}

func TestEventTimeEqual(t *testing.T) {
	instant := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	a := EventTime{Time: instant, Zone: "UTC"}
	b := EventTime{Time: instant.In(time.FixedZone("X", 3600)), Zone: "Europe/Berlin"}
	if !a.Equal(b) {
		t.Fatal("same instant should be equal regardless of zone")
	}
	c := EventTime{Time: instant, AllDay: true}
	if a.Equal(c) {
		t.Fatal("timed and all-day must differ")
	}
}
