// Package vcal encodes and decodes the line-oriented VCALENDAR text
// format used by whole-document calendar backends. Decoded blocks keep
// their raw text verbatim, so entries the model does not fully understand
// survive an encode round trip byte-for-byte.
package vcal

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"calsync/internal/model"
	"calsync/internal/signature"
)

const (
	beginCalendar = "BEGIN:VCALENDAR"
	endCalendar   = "END:VCALENDAR"
	beginEvent    = "BEGIN:VEVENT"
	endEvent      = "END:VEVENT"
)

// Decode parses a calendar document into existing-event records. The
// entire raw block text, sentinels included, is retained as SourceOpaque
// on every record. Blocks with unrecognized or unparsable fields are still
// returned (their raw text must survive a rewrite); only a document that
// has content but no VCALENDAR container at all is a DecodeError. An empty
// document decodes to an empty list.
func Decode(blob []byte) ([]model.ExistingEvent, error) {
	text := string(blob)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if !strings.Contains(text, beginCalendar) {
		return nil, &model.DecodeError{Reason: "no VCALENDAR container"}
	}

	var events []model.ExistingEvent

	offset := 0
	blockStart := -1
	var fields map[string]string
	var rules []string

	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var next int
		var line string
		if lineEnd < 0 {
			line = text[offset:]
			next = len(text) + 1
		} else {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		}
		trimmed := strings.TrimRight(line, "\r")

		switch {
		case trimmed == beginEvent:
			blockStart = offset
			fields = make(map[string]string)
			rules = nil
		case trimmed == endEvent && blockStart >= 0:
			raw := text[blockStart:min(next, len(text))]
			events = append(events, existingFromBlock(raw, fields, rules))
			blockStart = -1
		case blockStart >= 0:
			key, value, ok := strings.Cut(trimmed, ":")
			if !ok {
				break
			}
			params := ""
			if name, rest, hasParams := strings.Cut(key, ";"); hasParams {
				key = name
				params = rest
			}
			key = strings.ToUpper(strings.TrimSpace(key))
			if key == "RRULE" {
				rules = append(rules, "RRULE:"+value)
				break
			}
			if _, seen := fields[key]; !seen {
				fields[key] = value
				if params != "" {
					fields[key+";PARAMS"] = params
				}
			}
		}

		offset = next
	}

	return events, nil
}

func existingFromBlock(raw string, fields map[string]string, rules []string) model.ExistingEvent {
	start, startOK := parseValue(fields["DTSTART"], fields["DTSTART;PARAMS"])
	end, endOK := parseValue(fields["DTEND"], fields["DTEND;PARAMS"])
	if startOK && !endOK {
		end = start
	}

	ev := model.CanonicalEvent{
		Title:           Unescape(fields["SUMMARY"]),
		Start:           start,
		End:             end,
		Location:        Unescape(fields["LOCATION"]),
		Description:     Unescape(fields["DESCRIPTION"]),
		UID:             fields["UID"],
		StatusText:      fields["STATUS"],
		RecurrenceRules: rules,
		SourceOpaque:    raw,
	}
	return signature.Existing(fields["UID"], ev, signature.UTC)
}

// parseValue parses a DTSTART/DTEND value with its raw parameter string.
// The text backend stores UTC only: naive values with a TZID parameter are
// shifted into UTC, naive values without one are taken as UTC already.
func parseValue(value, params string) (model.EventTime, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.EventTime{}, false
	}

	allDay := !strings.Contains(value, "T")
	for _, p := range strings.Split(params, ";") {
		if strings.EqualFold(strings.TrimSpace(p), "VALUE=DATE") {
			allDay = true
		}
	}
	if allDay {
		t, err := time.Parse("20060102", value)
		if err != nil {
			if t, err = time.Parse("2006-01-02", value); err != nil {
				return model.EventTime{}, false
			}
		}
		return model.EventTime{Time: t.UTC(), AllDay: true}, true
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		if err != nil {
			return model.EventTime{}, false
		}
		return model.EventTime{Time: t.UTC()}, true
	}

	loc := time.UTC
	for _, p := range strings.Split(params, ";") {
		if id, ok := strings.CutPrefix(strings.TrimSpace(p), "TZID="); ok {
			if l, err := time.LoadLocation(id); err == nil {
				loc = l
			}
		}
	}
	t, err := time.ParseInLocation("20060102T150405", value, loc)
	if err != nil {
		return model.EventTime{}, false
	}
	return model.EventTime{Time: t.UTC()}, true
}

// EncodeOptions configures document generation. Now and NewUID are
// injectable for deterministic output in tests.
type EncodeOptions struct {
	Label  string
	Now    func() time.Time
	NewUID func() string
}

// Encode serializes events into a full calendar document. Events carrying
// SourceOpaque are emitted verbatim; everything else gets a freshly
// generated block with a stable unique identifier and a generation
// timestamp.
func Encode(events []model.CanonicalEvent, opts EncodeOptions) []byte {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewUID == nil {
		opts.NewUID = uuid.NewString
	}

	var b strings.Builder
	writeLine(&b, beginCalendar)
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:-//calsync//calendar sync//EN")
	writeLine(&b, "CALSCALE:GREGORIAN")
	if opts.Label != "" {
		writeLine(&b, "X-WR-CALNAME:"+Escape(opts.Label))
	}

	for _, ev := range events {
		if ev.SourceOpaque != "" {
			b.WriteString(ev.SourceOpaque)
			if !strings.HasSuffix(ev.SourceOpaque, "\n") {
				b.WriteString("\r\n")
			}
			continue
		}
		encodeEvent(&b, ev, opts)
	}

	writeLine(&b, endCalendar)
	return []byte(b.String())
}

func encodeEvent(b *strings.Builder, ev model.CanonicalEvent, opts EncodeOptions) {
	uid := ev.UID
	if uid == "" {
		uid = opts.NewUID()
	}

	writeLine(b, beginEvent)
	writeLine(b, "UID:"+uid)
	writeLine(b, "DTSTAMP:"+opts.Now().UTC().Format("20060102T150405Z"))
	writeLine(b, timeLine("DTSTART", ev.Start))
	writeLine(b, timeLine("DTEND", ev.End))
	writeLine(b, "SUMMARY:"+Escape(ev.Title))
	if ev.Location != "" {
		writeLine(b, "LOCATION:"+Escape(ev.Location))
	}
	if ev.Description != "" {
		writeLine(b, "DESCRIPTION:"+Escape(ev.Description))
	}
	if ev.StatusText != "" {
		writeLine(b, "STATUS:"+ev.StatusText)
	}
	for _, rule := range ev.RecurrenceRules {
		writeLine(b, signature.NormalizeClause(rule))
	}
	writeLine(b, endEvent)
}

// timeLine encodes a start/end value. All-day values use the date-only
// marker; timed values are normalized to UTC.
func timeLine(prop string, t model.EventTime) string {
	if t.AllDay {
		return prop + ";VALUE=DATE:" + t.Time.UTC().Format("20060102")
	}
	return prop + ":" + t.Time.UTC().Format("20060102T150405Z")
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\r\n")
}

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r\n", "\\n",
	"\n", "\\n",
	";", "\\;",
)

// Escape quotes text values: backslash, newline and the clause-separating
// semicolon are escaped, and comma-space runs collapse to a bare comma.
func Escape(s string) string {
	return strings.ReplaceAll(escaper.Replace(s), ", ", ",")
}

// Escaped backslash must be matched first so "\\n" stays a literal
// backslash plus n rather than turning into a newline.
var unescaper = strings.NewReplacer(
	"\\\\", "\\",
	"\\n", "\n",
	"\\N", "\n",
	"\\;", ";",
	"\\,", ",",
)

// Unescape reverses Escape (and tolerates the escaped comma some writers
// emit).
func Unescape(s string) string {
	return unescaper.Replace(s)
}
