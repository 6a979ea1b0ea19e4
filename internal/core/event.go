package core

import "time"

type EventType string

const (
	// EventCalendarAlarm is published once per fired alarm.
	EventCalendarAlarm EventType = "calendar.alarm"
)

// AlarmEvent is the structured notification published to the event bus when
// an alarm fires. Publication is fire-and-forget: nothing in the scheduler
// consults the outcome.
type AlarmEvent struct {
	ID           string     `json:"id"`
	Type         EventType  `json:"type"`
	UserID       string     `json:"user_id"`
	CalendarName string     `json:"calendar_name"`
	UID          string     `json:"uid"`
	Action       string     `json:"action"`
	AlarmTime    time.Time  `json:"alarm_time"`
	Timezone     string     `json:"timezone"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	AllDay       bool       `json:"all_day"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description"`
	Location     string     `json:"location"`
	Organizer    string     `json:"organizer"`
	Recipients   []string   `json:"recipients"`
	Attendees    []Attendee `json:"attendees"`
}
