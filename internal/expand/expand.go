// Package expand materializes recurrence rules into bounded sets of
// concrete occurrences, for backends that cannot represent a rule
// natively and need one row per instance.
package expand

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

const (
	// DefaultHorizonDays bounds how far into the future rules are
	// materialized.
	DefaultHorizonDays = 365

	// DefaultMaxOccurrences is the hard per-event instance cap guarding
	// against malformed or effectively infinite rules.
	DefaultMaxOccurrences = 400
)

// Options controls expansion bounds. Now is injectable for tests; if nil,
// time.Now is used.
type Options struct {
	HorizonDays    int
	MaxOccurrences int
	Now            func() time.Time
}

// Diagnostic records a soft failure during expansion: a rule that could
// not be parsed (the original event is kept unexpanded) or an event whose
// instance set was truncated at the cap.
type Diagnostic struct {
	UID   string
	Title string
	Err   error
}

// Expand turns each event carrying a recurrence rule into concrete
// per-occurrence events bounded by the horizon and the instance cap.
// Events without a rule pass through unchanged, so re-expanding an
// already-expanded list is a no-op. Unsupported rule grammars fail soft:
// the original single event is kept and a diagnostic recorded, never
// silently dropped.
func Expand(events []model.CanonicalEvent, opts Options) ([]model.CanonicalEvent, []Diagnostic) {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = DefaultMaxOccurrences
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	horizon := now().Add(time.Duration(opts.HorizonDays) * 24 * time.Hour)

	out := make([]model.CanonicalEvent, 0, len(events))
	var diags []Diagnostic

	for _, ev := range events {
		if !ev.Recurring() {
			out = append(out, ev)
			continue
		}

		set, err := ruleSet(ev)
		if err != nil {
			appLog.Warn("expand: unsupported recurrence rule; keeping event unexpanded",
				"uid", ev.UID, "title", ev.Title, "err", err)
			diags = append(diags, Diagnostic{UID: ev.UID, Title: ev.Title, Err: err})
			out = append(out, ev)
			continue
		}

		instances, truncated := occurrences(set, ev, horizon, opts.MaxOccurrences)
		if truncated {
			capErr := &model.CapacityError{What: "recurrence expansion", Limit: opts.MaxOccurrences}
			appLog.Warn("expand: occurrence cap hit", "uid", ev.UID, "title", ev.Title, "cap", opts.MaxOccurrences)
			diags = append(diags, Diagnostic{UID: ev.UID, Title: ev.Title, Err: capErr})
		}
		out = append(out, instances...)
	}

	return out, diags
}

// ruleSet builds an rrule set from the event's recurrence clauses,
// anchored at the event start. Bare clauses without a prefix are treated
// as RRULE bodies; EXDATE/RDATE/EXRULE clauses feed the set's exception
// and addition lists.
func ruleSet(ev model.CanonicalEvent) (*rrule.Set, error) {
	var set rrule.Set
	for _, clause := range ev.RecurrenceRules {
		prefix, params, body := splitClause(clause)
		switch prefix {
		case "RRULE":
			r, err := rrule.StrToRRule(body)
			if err != nil {
				return nil, err
			}
			r.DTStart(anchor(ev))
			set.RRule(r)
		case "EXRULE":
			r, err := rrule.StrToRRule(body)
			if err != nil {
				return nil, err
			}
			r.DTStart(anchor(ev))
			set.ExRule(r)
		case "EXDATE", "RDATE":
			loc, err := clauseZone(params)
			if err != nil {
				return nil, err
			}
			times, err := clauseDates(body, loc)
			if err != nil {
				return nil, err
			}
			for _, t := range times {
				if prefix == "EXDATE" {
					set.ExDate(t)
				} else {
					set.RDate(t)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported recurrence clause %q", prefix)
		}
	}
	return &set, nil
}

// splitClause separates a clause into its uppercased prefix, the property
// parameters riding on it (EXDATE;TZID=...) and the uppercased body. A
// clause with no recognized prefix is a bare RRULE body.
func splitClause(clause string) (prefix, params, body string) {
	clause = strings.TrimSpace(clause)
	if head, rest, ok := strings.Cut(clause, ":"); ok {
		name, parm, _ := strings.Cut(head, ";")
		switch p := strings.ToUpper(strings.TrimSpace(name)); p {
		case "RRULE", "EXRULE", "EXDATE", "RDATE":
			return p, strings.TrimSpace(parm), strings.ToUpper(strings.TrimSpace(rest))
		}
	}
	return "RRULE", "", strings.ToUpper(clause)
}

// clauseZone resolves a TZID clause parameter to the location naive date
// values are read in. No parameter means UTC.
func clauseZone(params string) (*time.Location, error) {
	for _, kv := range strings.Split(params, ";") {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.EqualFold(strings.TrimSpace(k), "TZID") {
			return time.LoadLocation(strings.TrimSpace(v))
		}
	}
	return time.UTC, nil
}

// clauseDates parses a comma-separated EXDATE/RDATE value list.
func clauseDates(body string, loc *time.Location) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseClauseDate(part, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseClauseDate(v string, loc *time.Location) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

func anchor(ev model.CanonicalEvent) time.Time {
	if ev.Start.AllDay {
		return ev.Start.Time.UTC()
	}
	return ev.Start.In(ev.Start.Zone)
}

// occurrences materializes the rule set into concrete events within
// [anchor, horizon), preserving the original duration. Instances carry no
// further recurrence rule and derive a per-instance UID from the base UID.
func occurrences(set *rrule.Set, ev model.CanonicalEvent, horizon time.Time, maxInst int) ([]model.CanonicalEvent, bool) {
	start := anchor(ev)
	times := set.Between(start, horizon, true)

	kept := times[:0]
	for _, t := range times {
		if t.Before(start) || !t.Before(horizon) {
			continue
		}
		kept = append(kept, t)
	}
	truncated := false
	if len(kept) > maxInst {
		kept = kept[:maxInst]
		truncated = true
	}

	dur := ev.End.Time.Sub(ev.Start.Time)
	out := make([]model.CanonicalEvent, 0, len(kept))
	for _, t := range kept {
		inst := ev
		inst.RecurrenceRules = nil
		inst.SourceOpaque = ""
		if ev.Start.AllDay {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			inst.Start = model.EventTime{Time: day, AllDay: true}
			inst.End = model.EventTime{Time: day.Add(dur), AllDay: true}
		} else {
			inst.Start = model.EventTime{Time: t, Zone: ev.Start.Zone}
			inst.End = model.EventTime{Time: t.Add(dur), Zone: ev.End.Zone}
		}
		if ev.UID != "" {
			inst.UID = ev.UID + "-" + t.UTC().Format("20060102")
		}
		out = append(out, inst)
	}
	return out, truncated
}
