package ical

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/mistakeknot/calalarmd/internal/core"
)

// maxOccurrences caps a single expansion so a pathological rule cannot
// produce an unbounded slice.
const maxOccurrences = 5000

// IsRecurring reports whether the item needs recurrence expansion: a rule,
// extra instances, or excluded instances.
func (o *Object) IsRecurring() bool {
	ev := o.Event
	return ev.RRule != "" || len(ev.RDates) > 0 || len(ev.ExDates) > 0
}

// ForEachOccurrence visits every concrete occurrence window of the object.
//
// For a non-recurring item that is the sole start/end window. For a
// recurring item it is every expanded instance whose start falls in
// [from, horizon], followed by every overridden instance's own window.
// Visit order is deterministic: expansion order, then override order.
func (o *Object) ForEachOccurrence(from, horizon time.Time, fn func(core.OccurrenceWindow)) error {
	ev := o.Event

	if !o.IsRecurring() {
		fn(o.window(ev, ev.Start))
		return nil
	}

	set := rrule.Set{}
	set.DTStart(ev.Start)

	if ev.RRule != "" {
		r, err := rrule.StrToRRule(ev.RRule)
		if err != nil {
			return fmt.Errorf("ical: parse RRULE %q: %w", ev.RRule, err)
		}
		r.DTStart(ev.Start)
		set.RRule(r)
	} else {
		// No rule: the base instance is still an occurrence.
		set.RDate(ev.Start)
	}

	for _, rd := range ev.RDates {
		set.RDate(rd)
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(from.In(ev.Start.Location()), horizon.In(ev.Start.Location()), true)
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
	}
	for _, start := range starts {
		fn(o.window(ev, start))
	}

	for _, ov := range o.Overrides {
		fn(o.window(ov, ov.Start))
	}
	return nil
}

// window builds the concrete occurrence window beginning at start,
// preserving the event duration. All-day occurrences span the event's whole
// day count, never less than one day.
func (o *Object) window(ev *Event, start time.Time) core.OccurrenceWindow {
	if ev.AllDay {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		span := ev.End.Sub(ev.Start)
		days := int(span / (24 * time.Hour))
		if span%(24*time.Hour) != 0 {
			days++
		}
		if days < 1 {
			days = 1
		}
		return core.OccurrenceWindow{Start: day, End: day.AddDate(0, 0, days)}
	}
	return core.OccurrenceWindow{Start: start, End: start.Add(ev.End.Sub(ev.Start))}
}
