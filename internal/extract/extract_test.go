package extract

import (
	"encoding/json"
	"testing"

	"calsync/internal/model"
)

func doc(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestExtractDefaultCandidates(t *testing.T) {
	d := doc(t, `{"events":[
		{"title":"Standup","start":"2026-03-05T09:00:00Z","end":"2026-03-05T09:15:00Z","location":"Zoom"},
		{"summary":"Review","begin":"2026-03-05T14:00:00Z","finish":"2026-03-05T15:00:00Z","id":"ev-2"}
	]}`)

	events, errs := Extract(d, Mapping{Items: "events"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Title != "Standup" || events[0].Location != "Zoom" {
		t.Fatalf("primary keys misread: %+v", events[0])
	}
	if events[1].Title != "Review" || events[1].UID != "ev-2" {
		t.Fatalf("fallback keys misread: %+v", events[1])
	}
}

func TestExtractCandidateOrderWins(t *testing.T) {
	d := doc(t, `{"events":[{"title":"Primary","name":"Secondary","start":"2026-01-01","end":"2026-01-02"}]}`)
	events, errs := Extract(d, Mapping{Items: "events"})
	if len(errs) != 0 || len(events) != 1 {
		t.Fatalf("got %v %v", events, errs)
	}
	if events[0].Title != "Primary" {
		t.Fatalf("earlier candidate must win, got %q", events[0].Title)
	}
}

func TestExtractFieldOverride(t *testing.T) {
	d := doc(t, `{"rows":[{"what":"Talk","when":{"from":"2026-02-01T10:00:00Z","to":"2026-02-01T11:00:00Z"}}]}`)
	m := Mapping{
		Items: "rows",
		Fields: Candidates{
			Title: []string{"what"},
			Start: []string{"when.from"},
			End:   []string{"when.to"},
		},
	}
	events, errs := Extract(d, m)
	if len(errs) != 0 || len(events) != 1 {
		t.Fatalf("got %v %v", events, errs)
	}
	if events[0].Title != "Talk" || events[0].Start.Time.Hour() != 10 {
		t.Fatalf("nested candidate paths misread: %+v", events[0])
	}
}

func TestExtractDropsInvalidItemsOnly(t *testing.T) {
	d := doc(t, `{"events":[
		{"title":"Good","start":"2026-01-01","end":"2026-01-02"},
		{"title":"","start":"2026-01-01","end":"2026-01-02"},
		{"title":"No times"}
	]}`)
	events, errs := Extract(d, Mapping{Items: "events"})
	if len(events) != 1 || events[0].Title != "Good" {
		t.Fatalf("valid item must survive: %+v", events)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 per-item errors, got %v", errs)
	}
	for _, err := range errs {
		if !model.IsValidation(err) {
			t.Fatalf("expected validation errors, got %v", err)
		}
	}
}

func TestExtractEpochSeconds(t *testing.T) {
	d := doc(t, `{"events":[{"title":"Epoch","start":1767171600,"end":1767175200}]}`)
	events, errs := Extract(d, Mapping{Items: "events"})
	if len(errs) != 0 || len(events) != 1 {
		t.Fatalf("got %v %v", events, errs)
	}
	// 1767171600 = 2025-12-31T09:00:00Z.
	if got := events[0].Start.Time.UTC().Format("2006-01-02T15:04:05Z"); got != "2025-12-31T09:00:00Z" {
		t.Fatalf("epoch not converted: %s", got)
	}
}

func TestExtractAllDayFlagAndRecurrence(t *testing.T) {
	d := doc(t, `{"events":[{"title":"Camp","start":"2026-06-01T09:00:00Z","end":"2026-06-01T17:00:00Z","allDay":true,"rrule":"FREQ=YEARLY"}]}`)
	events, errs := Extract(d, Mapping{Items: "events"})
	if len(errs) != 0 || len(events) != 1 {
		t.Fatalf("got %v %v", events, errs)
	}
	ev := events[0]
	if !ev.Start.AllDay {
		t.Fatalf("allDay flag ignored: %+v", ev.Start)
	}
	if len(ev.RecurrenceRules) != 1 || ev.RecurrenceRules[0] != "FREQ=YEARLY" {
		t.Fatalf("recurrence lost: %v", ev.RecurrenceRules)
	}
}

func TestExtractZoneHint(t *testing.T) {
	d := doc(t, `{"events":[{"title":"Local","start":"2026-03-05T09:00:00","end":"2026-03-05T10:00:00"}]}`)
	events, errs := Extract(d, Mapping{Items: "events", Zone: "Asia/Seoul"})
	if len(errs) != 0 || len(events) != 1 {
		t.Fatalf("got %v %v", events, errs)
	}
	if events[0].Start.Zone != "Asia/Seoul" {
		t.Fatalf("zone hint lost: %q", events[0].Start.Zone)
	}
	// 09:00 Seoul is midnight UTC.
	if events[0].Start.Time.UTC().Hour() != 0 {
		t.Fatalf("naive time not read in mapping zone: %v", events[0].Start.Time)
	}
}
