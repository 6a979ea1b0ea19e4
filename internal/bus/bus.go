// Package bus publishes fired-alarm events. Publication is fire-and-forget
// relative to the sweep: a failed publish is logged and never changes the
// delete/retain decision for the consumed alarm row.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/logger"
)

// Publisher emits one structured event per fired alarm.
type Publisher interface {
	Publish(ev core.AlarmEvent) error
}

// Multi fans one event out to several publishers; the first error is
// returned after every publisher has been tried.
type Multi []Publisher

func (m Multi) Publish(ev core.AlarmEvent) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogPublisher writes each event to the structured log. It is always wired
// in, so a deployment without NATS still records every fire.
type LogPublisher struct {
	log *zap.SugaredLogger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logger.Named("bus")}
}

func (p *LogPublisher) Publish(ev core.AlarmEvent) error {
	p.log.Infow("alarm fired",
		"uid", ev.UID,
		"action", ev.Action,
		"alarm_time", ev.AlarmTime,
		"tzid", ev.Timezone,
		"summary", ev.Summary,
		"user", ev.UserID,
		"calendar", ev.CalendarName,
		"recipients", ev.Recipients,
	)
	return nil
}

// Capture retains published events for assertions in tests.
type Capture struct {
	mu     sync.Mutex
	events []core.AlarmEvent

	// Err, when set, is returned from Publish after capturing.
	Err error
}

func (c *Capture) Publish(ev core.AlarmEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.Err
}

func (c *Capture) Events() []core.AlarmEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.AlarmEvent(nil), c.events...)
}
