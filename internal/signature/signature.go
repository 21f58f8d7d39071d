// Package signature derives content-based identity keys from canonical
// events. The signature is the dedup/equality key reconciliation runs on;
// two events with equal signatures are the same logical event.
package signature

import (
	"strings"

	"calsync/internal/model"
)

// Strategy encodes start/end values into their signature form. Time-zone
// handling deliberately differs per backend kind: the text backend only
// ever stores UTC, so its strategy folds the declared zone away, while the
// structured backend preserves zone annotations. A snapshot's signatures
// must be built with the same strategy the adapter writes with, or
// logically identical events stop matching.
type Strategy interface {
	EncodeTime(t model.EventTime) string
}

// UTC normalizes all timed values to UTC before comparison (text backend).
var UTC Strategy = utcStrategy{}

// ZonePreserving keeps the declared zone distinct from the instant
// (structured backend).
var ZonePreserving Strategy = zoneStrategy{}

const instantLayout = "2006-01-02T15:04:05Z"

type utcStrategy struct{}

func (utcStrategy) EncodeTime(t model.EventTime) string {
	if t.AllDay {
		return "date:" + t.DateString()
	}
	return t.Time.UTC().Format(instantLayout) + "|UTC"
}

type zoneStrategy struct{}

func (zoneStrategy) EncodeTime(t model.EventTime) string {
	if t.AllDay {
		return "date:" + t.DateString()
	}
	zone := t.Zone
	if zone == "" {
		zone = "UTC"
	}
	return t.Time.UTC().Format(instantLayout) + "|" + zone
}

// Of computes the signature of an event under the given strategy:
// lowercased title, start/end encodings, lowercased location and the
// normalized recurrence clauses, joined with "|".
func Of(e model.CanonicalEvent, s Strategy) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(e.Title)),
		s.EncodeTime(e.Start),
		s.EncodeTime(e.End),
		strings.ToLower(strings.TrimSpace(e.Location)),
		JoinClauses(e.RecurrenceRules),
	}
	return strings.Join(parts, "|")
}

// DayTitleKey returns the loose identity key correlating events by
// lowercased trimmed title plus the civil date of the start. It tolerates
// small time or location edits within the same day.
func DayTitleKey(e model.CanonicalEvent) string {
	return strings.ToLower(strings.TrimSpace(e.Title)) + "|" + e.Start.DateString()
}

// Existing wraps a decoded backend record with its identity keys, computed
// under the backend's strategy.
func Existing(nativeID string, e model.CanonicalEvent, s Strategy) model.ExistingEvent {
	return model.ExistingEvent{
		NativeID:    nativeID,
		Event:       e,
		Signature:   Of(e, s),
		UID:         e.UID,
		DayTitleKey: DayTitleKey(e),
	}
}

// Recognized recurrence clause prefixes, in canonical casing.
var clausePrefixes = []string{"RRULE", "EXRULE", "RDATE", "EXDATE"}

// NormalizeClause canonicalizes one recurrence clause: a bare rule body is
// assumed to be an RRULE, the clause body is uppercased, and a recognized
// prefix is matched case-insensitively and re-emitted in canonical casing.
// Property parameters on the prefix (EXDATE;TZID=...) are kept, uppercased.
func NormalizeClause(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if prefix, body, ok := strings.Cut(raw, ":"); ok {
		name, params, hasParams := strings.Cut(prefix, ";")
		for _, canonical := range clausePrefixes {
			if strings.EqualFold(strings.TrimSpace(name), canonical) {
				head := canonical
				if hasParams {
					head += ";" + strings.ToUpper(strings.TrimSpace(params))
				}
				return head + ":" + strings.ToUpper(body)
			}
		}
	}
	return "RRULE:" + strings.ToUpper(raw)
}

// JoinClauses normalizes each clause and joins them with ";".
func JoinClauses(rules []string) string {
	if len(rules) == 0 {
		return ""
	}
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if c := NormalizeClause(r); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, ";")
}
