// Package sweep implements the alarm scheduling pass: it drains every due
// row from the alarm store, publishes an event per fired alarm, schedules
// each item's next occurrence, and classifies per-item failures as permanent
// (drop the row) or transient (retain it for the next pass).
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mistakeknot/calalarmd/internal/bus"
	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/ical"
	"github.com/mistakeknot/calalarmd/internal/logger"
	"github.com/mistakeknot/calalarmd/internal/mailbox"
	"github.com/mistakeknot/calalarmd/internal/resolver"
	"github.com/mistakeknot/calalarmd/internal/storage"
)

// DefaultLookahead extends the sweep cutoff past now so alarms firing
// moments after this pass do not immediately re-wake the scheduler.
const DefaultLookahead = 60 * time.Second

// Config tunes one engine.
type Config struct {
	Lookahead time.Duration
	// Horizon bounds recurrence expansion when computing a successor.
	Horizon time.Duration
	Clock   clock.Clock
}

// Engine runs sweep passes. It owns no state between passes; everything
// durable lives in the alarm store.
type Engine struct {
	opener    storage.Opener
	mailboxes mailbox.Store
	publisher bus.Publisher
	lookahead time.Duration
	horizon   time.Duration
	clock     clock.Clock
	log       *zap.SugaredLogger
}

func New(opener storage.Opener, mailboxes mailbox.Store, publisher bus.Publisher, cfg Config) *Engine {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 10 * 365 * 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Engine{
		opener:    opener,
		mailboxes: mailboxes,
		publisher: publisher,
		lookahead: cfg.Lookahead,
		horizon:   cfg.Horizon,
		clock:     cfg.Clock,
		log:       logger.Named("sweep"),
	}
}

// Run performs one pass. It returns an error only when the store cannot be
// opened or the due set cannot be read; per-item failures are classified and
// handled item-locally so one bad calendar item never blocks the queue.
func (e *Engine) Run(ctx context.Context) error {
	before := e.clock.Now().UTC().Add(e.lookahead)

	db, err := e.opener.Open()
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	defer db.Close()

	due, err := db.SelectDueBefore(before)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	e.log.Debugw("processing due alarms", "count", len(due), "before", before)

	// First pass: process every item to its terminal outcome. Items are
	// sequential; an item's resolution runs to completion once started.
	drop := make([]bool, len(due))
	for i := range due {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		drop[i] = e.processItem(&due[i], before, db)
	}

	// Second pass: delete every consumed row.
	for i := range due {
		if !drop[i] {
			continue
		}
		if err := db.DeleteByID(due[i].ID); err != nil {
			e.log.Errorw("delete consumed alarm", "id", due[i].ID, "error", err)
		}
	}
	return nil
}

// processItem resolves one due record to its terminal state and reports
// whether the row is consumed (true) or retained for the next pass (false).
func (e *Engine) processItem(rec *core.AlarmRecord, before time.Time, db storage.Store) bool {
	log := e.log.With("id", rec.ID, "mailbox", rec.MailboxID, "resource", rec.Resource)
	log.Debugw("processing alarm", "action", rec.Action.String(), "nextalarm", rec.NextFire, "tzid", rec.TZID)

	mb, err := e.mailboxes.Open(rec.MailboxID)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			// mailbox was deleted, nothing left to schedule
			log.Infow("mailbox gone, dropping alarm")
			return true
		}
		log.Warnw("mailbox open failed, will retry", "error", err)
		return false
	}
	defer mb.Close()

	item, err := mb.LookupResource(rec.Resource)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			log.Infow("resource gone, dropping alarm")
			return true
		}
		log.Warnw("resource lookup failed, will retry", "error", err)
		return false
	}

	msg, err := mb.FindRecord(item.MessageID)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			log.Infow("message record gone, dropping alarm")
			return true
		}
		log.Warnw("message lookup failed, will retry", "error", err)
		return false
	}
	if msg.Expunged {
		log.Infow("message expunged, dropping alarm")
		return true
	}

	body, err := mb.MapBody(msg)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			log.Infow("message body gone, dropping alarm")
			return true
		}
		log.Warnw("message map failed, will retry", "error", err)
		return false
	}

	obj, err := ical.Parse(body)
	if err != nil {
		// A corrupt stored object cannot be retried productively.
		log.Errorw("calendar object unparsable, dropping alarm", "error", err)
		return true
	}

	ev := e.newAlarmEvent(obj, rec, mb.UserID(), mb.DisplayName())
	if err := e.publisher.Publish(ev); err != nil {
		// Fire-and-forget: a missed notification is less harmful than
		// wedging the schedule.
		log.Errorw("publish alarm event", "error", err)
	}

	// Schedule the successor from the freshly parsed object, seeded with
	// the sweep cutoff and the consumed action.
	prep, ok := resolver.Prepare(obj, rec.Action, before, before.Add(e.horizon))
	if !ok {
		return true
	}
	next := &core.AlarmRecord{
		MailboxID:  rec.MailboxID,
		Resource:   rec.Resource,
		Action:     prep.Action,
		NextFire:   prep.NextFire,
		TZID:       prep.TZID,
		Start:      prep.Window.Start,
		End:        prep.Window.End,
		Recipients: prep.Recipients,
	}
	if _, err := db.Insert(next); err != nil {
		// Retain the consumed row rather than silently losing the future
		// occurrence; the next pass recomputes from the same object.
		log.Errorw("insert successor alarm, retaining original", "error", err)
		return false
	}
	log.Debugw("scheduled successor", "nextalarm", prep.NextFire)
	return true
}

// newAlarmEvent assembles the published notification from the parsed object
// and the consumed record.
func (e *Engine) newAlarmEvent(obj *ical.Object, rec *core.AlarmRecord, userID, calName string) core.AlarmEvent {
	item := obj.Event
	return core.AlarmEvent{
		ID:           uuid.NewString(),
		Type:         core.EventCalendarAlarm,
		UserID:       userID,
		CalendarName: calName,
		UID:          item.UID,
		Action:       rec.Action.String(),
		AlarmTime:    rec.NextFire,
		Timezone:     rec.TZID,
		Start:        rec.Start,
		End:          rec.End,
		AllDay:       item.AllDay,
		Summary:      item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		Organizer:    item.Organizer,
		Recipients:   append([]string(nil), rec.Recipients...),
		Attendees:    append([]core.Attendee(nil), item.Attendees...),
	}
}
