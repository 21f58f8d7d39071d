package model

import "time"

// EventTime is the start/end representation used throughout the engine:
// either an absolute instant with a declared IANA zone, or a bare civil
// date for all-day events.
type EventTime struct {
	// Time holds the instant for timed values. For all-day values it holds
	// midnight UTC of the civil date and only the date portion is
	// meaningful.
	Time time.Time

	// Zone is the declared IANA zone name for timed values. Empty means
	// the value was authored in (or normalized to) UTC.
	Zone string

	AllDay bool
}

// DateString returns the civil date of the value as YYYY-MM-DD.
// For timed values this is the date of the instant in its declared zone.
func (t EventTime) DateString() string {
	if t.AllDay {
		return t.Time.UTC().Format("2006-01-02")
	}
	return t.In(t.Zone).Format("2006-01-02")
}

// In returns the instant shifted into the named zone, falling back to UTC
// when the zone is empty or unknown.
func (t EventTime) In(zone string) time.Time {
	if zone == "" {
		return t.Time.UTC()
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return t.Time.UTC()
	}
	return t.Time.In(loc)
}

// Equal reports whether two values denote the same point (same civil date
// for all-day values, same instant otherwise).
func (t EventTime) Equal(o EventTime) bool {
	if t.AllDay != o.AllDay {
		return false
	}
	if t.AllDay {
		return t.DateString() == o.DateString()
	}
	return t.Time.Equal(o.Time)
}

// CanonicalEvent is the validated, backend-independent event record every
// component of the engine operates on.
type CanonicalEvent struct {
	Title       string
	Start       EventTime
	End         EventTime
	Location    string
	Description string

	// UID is an optional stable external identifier. When present it is
	// the strongest identity tier during reconciliation.
	UID string

	// RecurrenceRules holds RFC5545-style recurrence clauses. A bare rule
	// body without a clause prefix is treated as an RRULE.
	RecurrenceRules []string

	StatusText string

	// SourceOpaque carries the unparsed backend-native block this event
	// was decoded from. When set, encoders must echo it back verbatim so
	// fields the model does not understand survive a round trip.
	SourceOpaque string
}

// Recurring reports whether the event carries at least one recurrence rule.
func (e CanonicalEvent) Recurring() bool { return len(e.RecurrenceRules) > 0 }

// ExistingEvent is one entry of a backend snapshot: a canonical event plus
// the backend-native identifier needed for update/delete and the identity
// keys precomputed by the snapshot builder.
type ExistingEvent struct {
	// NativeID is the backend's own identifier for the record (UID line
	// for the text backend, resource id for the structured backend).
	NativeID string

	Event CanonicalEvent

	// Signature is the content identity, computed with the signature
	// strategy of the backend the snapshot came from.
	Signature string

	// UID is the external stable identifier, if the backend stored one.
	UID string

	// DayTitleKey is the loose (title, civil day) correlation key.
	DayTitleKey string
}

// PlannedUpdate pairs an existing record's native id with the incoming
// event that should replace its content.
type PlannedUpdate struct {
	NativeID string
	Event    CanonicalEvent
}

// PlanStats summarizes how a plan was derived.
type PlanStats struct {
	Incoming int
	Existing int
	// MatchedByUID/DayTitle/Signature count incoming events resolved at
	// each identity tier.
	MatchedByUID       int
	MatchedByDayTitle  int
	MatchedBySignature int
}

// Plan is the reconciler's output: the minimal operation set that brings a
// backend in line with an incoming batch.
type Plan struct {
	Inserts []CanonicalEvent
	Updates []PlannedUpdate
	Deletes []string
	Skipped int
	Stats   PlanStats

	// Merged is the final full event list (kept ∪ updated ∪ inserted,
	// minus deleted) for backends that only support whole-document
	// rewrites. Nil unless requested.
	Merged []CanonicalEvent
}

// Result is what a backend adapter reports after executing a plan.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
	Failed   int
	Total    int
}
