package core

import "time"

// Action is the alarm action kind carried by a scheduled fire. Only Display
// and Email alarms are scheduled; everything else maps to ActionNone and is
// skipped during resolution.
type Action int

const (
	ActionNone Action = iota
	ActionDisplay
	ActionEmail
)

func (a Action) String() string {
	switch a {
	case ActionDisplay:
		return "display"
	case ActionEmail:
		return "email"
	case ActionNone:
		return ""
	default:
		return ""
	}
}

// ParseAction maps the textual action back to its enum value. Unknown
// strings map to ActionNone.
func ParseAction(s string) Action {
	switch s {
	case "display":
		return ActionDisplay
	case "email":
		return ActionEmail
	default:
		return ActionNone
	}
}

// TZIDFloating is the sentinel stored for items whose start time carries no
// TZID parameter. It must be preserved verbatim so consumers know not to
// reinterpret the stored instants.
const TZIDFloating = "[floating]"

// AlarmRecord is one pending scheduled fire. Records are never mutated in
// place: rescheduling deletes the consumed row and inserts a successor.
type AlarmRecord struct {
	ID         int64
	MailboxID  string
	Resource   string
	Action     Action
	NextFire   time.Time
	TZID       string
	Start      time.Time
	End        time.Time
	Recipients []string
}

// OccurrenceWindow is one concrete (start, end) instantiation of a calendar
// item: the sole instance of a non-recurring event, or one recurrence
// instance or override.
type OccurrenceWindow struct {
	Start time.Time
	End   time.Time
}

// Attendee is one ATTENDEE line of the underlying event, carried on the
// published alarm event.
type Attendee struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}
