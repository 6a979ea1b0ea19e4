// Package ical parses calendar objects into the normalized form consumed by
// the trigger resolver and exposes recurrence expansion over them. Parsing
// is built on arran4/golang-ical; expansion on teambition/rrule-go.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/mistakeknot/calalarmd/internal/core"
)

// Event is the normalized representation of one VEVENT.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Organizer   string

	Start     time.Time
	End       time.Time
	AllDay    bool
	StartTZID string

	RRule   string
	RDates  []time.Time
	ExDates []time.Time

	// RecurrenceID is set when this VEVENT overrides one instance of a
	// recurring series.
	RecurrenceID *time.Time

	Alarms    []Alarm
	Attendees []core.Attendee
}

// Alarm is one VALARM sub-component carrying a recognized action and a
// trigger. Sub-components without both are dropped during parsing of the
// alarm set, not here; here we keep whatever the component declares.
type Alarm struct {
	Action    core.Action
	HasAction bool
	Trigger   *Trigger
	// Attendees holds the raw ATTENDEE values of the alarm itself, used as
	// recipient identifiers for email alarms.
	Attendees []string
}

// Object is one parsed calendar object: a base event plus any overridden
// recurrence instances that accompany it.
type Object struct {
	Event     *Event
	Overrides []*Event
}

// Parse decodes a calendar object. The first VEVENT is the base item;
// subsequent VEVENTs carrying a RECURRENCE-ID are its overrides.
func Parse(data []byte) (*Object, error) {
	if len(data) == 0 {
		return nil, errors.New("ical: empty calendar body")
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ical: parse calendar: %w", err)
	}

	events := cal.Events()
	if len(events) == 0 {
		return nil, errors.New("ical: calendar has no events")
	}

	obj := &Object{}
	for _, ve := range events {
		ev, err := parseEvent(ve)
		if err != nil {
			return nil, err
		}
		switch {
		case obj.Event == nil && ev.RecurrenceID == nil:
			obj.Event = ev
		case ev.RecurrenceID != nil:
			obj.Overrides = append(obj.Overrides, ev)
		}
	}
	if obj.Event == nil {
		// Only overrides present; treat the first as the base item.
		first, err := parseEvent(events[0])
		if err != nil {
			return nil, err
		}
		obj.Event = first
		obj.Overrides = obj.Overrides[1:]
	}
	return obj, nil
}

func parseEvent(ve *ics.VEvent) (*Event, error) {
	ev := &Event{}

	if p := ve.GetProperty(ics.ComponentPropertyUniqueId); p != nil {
		ev.UID = p.Value
	}
	if p := ve.GetProperty(ics.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ics.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ics.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}
	if p := ve.GetProperty(ics.ComponentPropertyOrganizer); p != nil {
		ev.Organizer = p.Value
	}

	startProp := ve.GetProperty(ics.ComponentPropertyDtStart)
	if startProp == nil {
		return nil, errors.New("ical: event has no DTSTART")
	}
	start, allDay, tzid, err := parsePropTime(startProp)
	if err != nil {
		return nil, fmt.Errorf("ical: DTSTART: %w", err)
	}
	ev.Start = start
	ev.AllDay = allDay
	ev.StartTZID = tzid

	if endProp := ve.GetProperty(ics.ComponentPropertyDtEnd); endProp != nil {
		end, _, _, err := parsePropTime(endProp)
		if err != nil {
			return nil, fmt.Errorf("ical: DTEND: %w", err)
		}
		ev.End = end
	} else if ev.AllDay {
		ev.End = ev.Start.Add(24 * time.Hour)
	} else {
		ev.End = ev.Start
	}

	if p := ve.GetProperty(ics.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ics.ComponentPropertyRdate) {
		ev.RDates = append(ev.RDates, parseTimeList(p)...)
	}
	for _, p := range ve.GetProperties(ics.ComponentPropertyExdate) {
		ev.ExDates = append(ev.ExDates, parseTimeList(p)...)
	}

	if p := ve.GetProperty(ics.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, _, _, err := parsePropTime(p); err == nil {
			ev.RecurrenceID = &t
		}
	}

	for _, p := range ve.GetProperties(ics.ComponentPropertyAttendee) {
		if p.Value == "" {
			continue
		}
		ev.Attendees = append(ev.Attendees, core.Attendee{
			Email:  p.Value,
			Name:   firstParam(p, "CN"),
			Status: firstParam(p, "PARTSTAT"),
		})
	}

	for _, va := range ve.Alarms() {
		ev.Alarms = append(ev.Alarms, parseAlarm(va))
	}

	return ev, nil
}

func parseAlarm(va *ics.VAlarm) Alarm {
	al := Alarm{}

	if p := va.GetProperty(ics.ComponentProperty("ACTION")); p != nil {
		al.HasAction = true
		switch strings.ToUpper(strings.TrimSpace(p.Value)) {
		case "DISPLAY":
			al.Action = core.ActionDisplay
		case "EMAIL":
			al.Action = core.ActionEmail
		default:
			al.Action = core.ActionNone
		}
	}

	if p := va.GetProperty(ics.ComponentProperty("TRIGGER")); p != nil {
		if tr, err := parseTrigger(p); err == nil {
			al.Trigger = tr
		}
	}

	for _, p := range va.GetProperties(ics.ComponentPropertyAttendee) {
		if p.Value != "" {
			al.Attendees = append(al.Attendees, p.Value)
		}
	}

	return al
}

func firstParam(p *ics.IANAProperty, name string) string {
	if p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parsePropTime decodes a DATE or DATE-TIME property value, honoring the
// TZID parameter. Floating values (no Z, no TZID) are interpreted in UTC;
// the caller preserves the floating sentinel separately so the choice of
// reference zone never leaks into stored tzids.
func parsePropTime(p *ics.IANAProperty) (t time.Time, allDay bool, tzid string, err error) {
	val := strings.TrimSpace(p.Value)
	if val == "" {
		return time.Time{}, false, "", errors.New("empty time value")
	}

	tzid = firstParam(p, "TZID")
	if vs := firstParam(p, "VALUE"); strings.EqualFold(vs, "DATE") || !strings.Contains(val, "T") {
		allDay = true
	}

	loc := time.UTC
	if tzid != "" {
		if l, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = l
		}
	}

	t, err = parseTimeValue(val, loc)
	return t, allDay, tzid, err
}

// parseTimeValue decodes a bare iCalendar DATE or DATE-TIME string.
func parseTimeValue(val string, loc *time.Location) (time.Time, error) {
	val = strings.TrimSpace(val)
	switch {
	case strings.HasSuffix(val, "Z"):
		return time.Parse("20060102T150405Z", val)
	case strings.Contains(val, "T"):
		return time.ParseInLocation("20060102T150405", val, loc)
	default:
		return time.ParseInLocation("20060102", val, loc)
	}
}

// parseTimeList decodes a comma-separated RDATE/EXDATE property.
func parseTimeList(p *ics.IANAProperty) []time.Time {
	loc := time.UTC
	if tzid := firstParam(p, "TZID"); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, err := parseTimeValue(part, loc); err == nil {
			out = append(out, t)
		}
	}
	return out
}
