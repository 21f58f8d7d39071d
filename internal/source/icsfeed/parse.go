package icsfeed

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Parse decodes one ICS payload into canonical events. Individual VEVENTs
// that fail to parse are skipped with a log line; the rest of the feed is
// kept.
func Parse(fd Feed, body []byte) ([]model.CanonicalEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("icsfeed: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &model.DecodeError{Reason: "calendar parse: " + err.Error()}
	}

	events := make([]model.CanonicalEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(fd, ve)
		if perr != nil {
			appLog.Warn("icsfeed: skipping vevent", "id", fd.ID, "err", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("icsfeed: parsed", "id", fd.ID, "events", len(events))
	return events, nil
}

func parseVEvent(fd Feed, ve *ical.VEvent) (model.CanonicalEvent, error) {
	var out model.CanonicalEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if out.Title == "" {
		return out, errors.New("missing SUMMARY")
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.StatusText = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or invalid DTSTART")
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}

	allDay, zone := dtStartShape(ve, fd.Zone)
	if allDay {
		out.Start = model.EventTime{Time: dayOf(start), AllDay: true}
		out.End = model.EventTime{Time: dayOf(end), AllDay: true}
	} else {
		out.Start = model.EventTime{Time: start, Zone: zone}
		out.End = model.EventTime{Time: end, Zone: zone}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		out.RecurrenceRules = append(out.RecurrenceRules, "RRULE:"+strings.ToUpper(p.Value))
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		if p.Value == "" {
			continue
		}
		clause := "EXDATE"
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			clause += ";TZID=" + tzs[0]
		}
		out.RecurrenceRules = append(out.RecurrenceRules, clause+":"+strings.ToUpper(p.Value))
	}

	return out, nil
}

// dtStartShape inspects the DTSTART property for VALUE=DATE (all-day) and
// a TZID parameter. The feed-level zone hint fills in when the property
// carries neither.
func dtStartShape(ve *ical.VEvent, fallbackZone string) (allDay bool, zone string) {
	zone = fallbackZone
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false, zone
	}
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			allDay = true
		}
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			zone = tzs[0]
		}
	}
	if !strings.Contains(p.Value, "T") {
		allDay = true
	}
	if strings.HasSuffix(p.Value, "Z") {
		zone = "UTC"
	}
	return allDay, zone
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
