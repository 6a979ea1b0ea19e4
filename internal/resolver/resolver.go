// Package resolver computes the single next alarm fire for a calendar
// object: across every alarm sub-component and every occurrence of the item,
// the earliest instant strictly after a reference time wins.
package resolver

import (
	"time"

	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/ical"
)

// Prepared is the fragment of an alarm record produced by one resolution:
// everything but the item identity, which the caller already knows.
type Prepared struct {
	Action     core.Action
	NextFire   time.Time
	TZID       string
	Window     core.OccurrenceWindow
	Recipients []string
}

// triggerSpec is one qualifying alarm sub-component's rule, derived per
// resolution call and never persisted.
type triggerSpec struct {
	alarm   *ical.Alarm
	trigger ical.Trigger
	action  core.Action
}

// Prepare resolves the nearest future alarm for obj after the reference
// instant. want filters alarm sub-components by action when it is not
// ActionNone. horizon bounds recurrence expansion. The second return is
// false when the item has nothing to schedule.
func Prepare(obj *ical.Object, want core.Action, after, horizon time.Time) (*Prepared, bool) {
	ev := obj.Event
	if len(ev.Alarms) == 0 {
		return nil, false
	}

	specs := collectTriggers(ev, want)
	if len(specs) == 0 {
		return nil, false
	}

	var (
		best     *triggerSpec
		bestTime time.Time
		bestWin  core.OccurrenceWindow
	)

	// Expansion failures (a malformed rule) leave best nil, which reports
	// nothing to schedule; the caller treats the object as exhausted.
	_ = obj.ForEachOccurrence(after, horizon, func(win core.OccurrenceWindow) {
		for i := range specs {
			spec := &specs[i]

			var at time.Time
			switch spec.trigger.Kind {
			case ical.TriggerRelativeStart:
				at = win.Start.Add(spec.trigger.Offset)
			case ical.TriggerRelativeEnd:
				at = win.End.Add(spec.trigger.Offset)
			case ical.TriggerAbsolute:
				at = spec.trigger.At
			default:
				continue
			}

			// Earliest strictly-future instant wins; on an exact tie the
			// first candidate observed in scan order is kept.
			if at.After(after) && (best == nil || at.Before(bestTime)) {
				best = spec
				bestTime = at
				bestWin = win
			}
		}
	})

	if best == nil {
		return nil, false
	}

	tzid := ev.StartTZID
	if tzid == "" {
		tzid = core.TZIDFloating
	}

	return &Prepared{
		Action:     best.action,
		NextFire:   bestTime,
		TZID:       tzid,
		Window:     bestWin,
		Recipients: append([]string(nil), best.alarm.Attendees...),
	}, true
}

// collectTriggers keeps the alarm sub-components the scheduler understands:
// a Display or Email action, a parseable trigger, and a match against the
// wanted action when one is given.
func collectTriggers(ev *ical.Event, want core.Action) []triggerSpec {
	specs := make([]triggerSpec, 0, len(ev.Alarms))
	for i := range ev.Alarms {
		al := &ev.Alarms[i]
		if !al.HasAction || al.Action == core.ActionNone {
			continue
		}
		if want != core.ActionNone && al.Action != want {
			continue
		}
		if al.Trigger == nil {
			continue
		}
		specs = append(specs, triggerSpec{alarm: al, trigger: *al.Trigger, action: al.Action})
	}
	return specs
}
