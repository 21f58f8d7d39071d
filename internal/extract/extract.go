// Package extract turns arbitrary decoded JSON documents into canonical
// events through a declarative mapping: a path to the item list plus an
// explicit ordered list of candidate keys per canonical field, evaluated
// by pure lookup. No reflection, no per-source code.
package extract

import (
	"strconv"
	"strings"
	"time"

	"calsync/internal/jsonpath"
	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Candidates holds the ordered candidate keys (relative paths into one
// item) tried for each canonical field. The first key that resolves to a
// non-empty value wins.
type Candidates struct {
	Title       []string `yaml:"title"`
	Start       []string `yaml:"start"`
	End         []string `yaml:"end"`
	Location    []string `yaml:"location"`
	Description []string `yaml:"description"`
	UID         []string `yaml:"uid"`
	Status      []string `yaml:"status"`
	Recurrence  []string `yaml:"recurrence"`
	AllDay      []string `yaml:"all_day"`
}

// DefaultCandidates covers the key names scraped and feed-derived event
// JSON is commonly seen with.
func DefaultCandidates() Candidates {
	return Candidates{
		Title:       []string{"title", "summary", "name", "subject"},
		Start:       []string{"start", "startTime", "start_time", "begin", "dtstart", "date"},
		End:         []string{"end", "endTime", "end_time", "finish", "dtend"},
		Location:    []string{"location", "place", "venue", "where"},
		Description: []string{"description", "details", "notes", "body"},
		UID:         []string{"uid", "id", "guid", "eventId", "event_id"},
		Status:      []string{"status", "state"},
		Recurrence:  []string{"rrule", "recurrence", "repeat"},
		AllDay:      []string{"allDay", "all_day", "isAllDay"},
	}
}

// Mapping describes how to read one source document.
type Mapping struct {
	// Items is the path to the event list within the document.
	Items string `yaml:"items"`

	// Fields overrides individual candidate lists; empty lists fall back
	// to the defaults.
	Fields Candidates `yaml:"fields"`

	// Zone is the IANA zone naive date-times in this source are
	// authored in.
	Zone string `yaml:"zone"`
}

// Extract maps a document to canonical events. Items that fail validation
// are dropped individually and reported; they never abort the batch.
func Extract(doc any, m Mapping) ([]model.CanonicalEvent, []error) {
	items, err := jsonpath.Evaluate(doc, m.Items)
	if err != nil {
		// A capacity truncation still yields a usable (bounded) item set.
		appLog.Warn("extract: item set truncated", "path", m.Items, "err", err)
	}

	fields := m.Fields.withDefaults()

	var events []model.CanonicalEvent
	var errs []error
	for _, item := range items {
		raw := model.RawEvent{
			Title:       lookupString(item, fields.Title),
			Start:       lookupString(item, fields.Start),
			End:         lookupString(item, fields.End),
			Location:    lookupString(item, fields.Location),
			Description: lookupString(item, fields.Description),
			UID:         lookupString(item, fields.UID),
			Status:      lookupString(item, fields.Status),
			Recurrence:  lookupStrings(item, fields.Recurrence),
			AllDay:      lookupBool(item, fields.AllDay),
			Zone:        m.Zone,
		}
		ev, err := model.Normalize(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

func (c Candidates) withDefaults() Candidates {
	defaults := DefaultCandidates()
	pick := func(override, fallback []string) []string {
		if len(override) > 0 {
			return override
		}
		return fallback
	}
	return Candidates{
		Title:       pick(c.Title, defaults.Title),
		Start:       pick(c.Start, defaults.Start),
		End:         pick(c.End, defaults.End),
		Location:    pick(c.Location, defaults.Location),
		Description: pick(c.Description, defaults.Description),
		UID:         pick(c.UID, defaults.UID),
		Status:      pick(c.Status, defaults.Status),
		Recurrence:  pick(c.Recurrence, defaults.Recurrence),
		AllDay:      pick(c.AllDay, defaults.AllDay),
	}
}

// lookupString tries the candidate paths in order and returns the first
// non-empty scalar, rendered as a string.
func lookupString(item any, candidates []string) string {
	for _, key := range candidates {
		if s := asString(jsonpath.First(item, key)); s != "" {
			return s
		}
	}
	return ""
}

// lookupStrings collects string values from the first candidate that
// resolves; a scalar value becomes a single-element list.
func lookupStrings(item any, candidates []string) []string {
	for _, key := range candidates {
		switch v := jsonpath.First(item, key).(type) {
		case nil:
			continue
		case []any:
			var out []string
			for _, e := range v {
				if s := asString(e); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		default:
			if s := asString(v); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func lookupBool(item any, candidates []string) bool {
	for _, key := range candidates {
		switch v := jsonpath.First(item, key).(type) {
		case bool:
			return v
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return parsed
			}
		}
	}
	return false
}

// asString renders a scalar JSON value. Large integral numbers are taken
// as Unix-second timestamps, which scraped event JSON commonly carries.
func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			n := int64(val)
			if n >= 1_000_000_000 && n < 100_000_000_000 {
				return unixString(n)
			}
			return strconv.FormatInt(n, 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func unixString(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
