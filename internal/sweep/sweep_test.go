package sweep

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mistakeknot/calalarmd/internal/bus"
	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/mailbox"
	"github.com/mistakeknot/calalarmd/internal/storage"
)

const (
	testMailbox  = "user.chris.#calendars.personal"
	testResource = "standup.ics"
)

// now for all scenarios: the weekly event starts at 12:00 and the -PT15M
// display alarm fires at 11:45.
var testNow = time.Date(2026, 1, 5, 11, 45, 30, 0, time.UTC)

func weeklyICS() []byte {
	return []byte(strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//calalarmd//test//EN",
		"BEGIN:VEVENT",
		"UID:standup-1",
		"SUMMARY:Standup",
		"DTSTART:20260105T120000Z",
		"DTEND:20260105T123000Z",
		"RRULE:FREQ=WEEKLY",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n"))
}

func dueRecord() *core.AlarmRecord {
	return &core.AlarmRecord{
		MailboxID: testMailbox,
		Resource:  testResource,
		Action:    core.ActionDisplay,
		NextFire:  time.Date(2026, 1, 5, 11, 45, 0, 0, time.UTC),
		TZID:      core.TZIDFloating,
		Start:     time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC),
	}
}

type fixture struct {
	store   *storage.InMemory
	boxes   *mailbox.MemStore
	capture *bus.Capture
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(testNow)

	f := &fixture{
		store:   storage.NewInMemory(),
		boxes:   mailbox.NewMemStore(),
		capture: &bus.Capture{},
	}
	f.engine = New(f.store, f.boxes, f.capture, Config{Clock: mock})
	return f
}

func (f *fixture) seed(t *testing.T) int64 {
	t.Helper()
	id, err := f.store.Insert(dueRecord())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}

func TestRunFiresAndReschedules(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())
	id := f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := f.capture.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != core.EventCalendarAlarm || ev.UID != "standup-1" || ev.Action != "display" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.UserID != "chris" || ev.CalendarName != "Personal" || ev.Summary != "Standup" {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.AlarmTime.Equal(time.Date(2026, 1, 5, 11, 45, 0, 0, time.UTC)) {
		t.Fatalf("alarm time = %v", ev.AlarmTime)
	}

	rows := f.store.All()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want consumed row replaced by successor", len(rows))
	}
	succ := rows[0]
	if succ.ID == id {
		t.Fatal("consumed row was not deleted")
	}
	if want := time.Date(2026, 1, 12, 11, 45, 0, 0, time.UTC); !succ.NextFire.Equal(want) {
		t.Fatalf("successor fire = %v, want %v", succ.NextFire, want)
	}
	if succ.MailboxID != testMailbox || succ.Resource != testResource || succ.Action != core.ActionDisplay {
		t.Fatalf("successor = %+v", succ)
	}
}

func TestRunEmptyQueue(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 0 {
		t.Fatalf("events = %d, want 0", len(f.capture.Events()))
	}
}

func TestRunSkipsNotYetDue(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())

	rec := dueRecord()
	// Beyond now + lookahead: left untouched.
	rec.NextFire = testNow.Add(2 * time.Minute)
	if _, err := f.store.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 0 {
		t.Fatal("future alarm fired early")
	}
	if f.store.Len() != 1 {
		t.Fatalf("rows = %d, want untouched row", f.store.Len())
	}
}

func TestRunLookaheadFiresEarly(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())

	rec := dueRecord()
	// Within the 60s lookahead window: fires on this pass.
	rec.NextFire = testNow.Add(30 * time.Second)
	if _, err := f.store.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 1 {
		t.Fatalf("events = %d, want 1", len(f.capture.Events()))
	}
}

func TestRunDropsWhenMailboxGone(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 0 {
		t.Fatal("event published for a deleted mailbox")
	}
	if f.store.Len() != 0 {
		t.Fatalf("rows = %d, want dropped", f.store.Len())
	}
}

func TestRunDropsWhenResourceGone(t *testing.T) {
	f := newFixture(t)
	f.boxes.Add(testMailbox, "chris", "Personal")
	f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("rows = %d, want dropped for missing resource", f.store.Len())
	}
}

func TestRunDropsExpunged(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())
	mb.Expunge(testResource)
	f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 0 {
		t.Fatal("event published for an expunged message")
	}
	if f.store.Len() != 0 {
		t.Fatalf("rows = %d, want dropped", f.store.Len())
	}
}

func TestRunDropsUnparsable(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", []byte("not a calendar"))
	f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 0 {
		t.Fatal("event published for an unparsable body")
	}
	if f.store.Len() != 0 {
		t.Fatalf("rows = %d, want dropped", f.store.Len())
	}
}

func TestRunRetainsOnTransientOpenError(t *testing.T) {
	f := newFixture(t)
	f.boxes.Add(testMailbox, "chris", "Personal")
	f.boxes.OpenErr[testMailbox] = errors.New("backend timeout")
	id := f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	rows := f.store.All()
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("rows = %+v, want the original retained", rows)
	}
}

func TestRunRetainsOnTransientLookupError(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())
	mb.FindErr = errors.New("index read failed")
	id := f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	rows := f.store.All()
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("rows = %+v, want the original retained", rows)
	}
	if len(f.capture.Events()) != 0 {
		t.Fatal("event published despite lookup failure")
	}
}

func TestRunRetainsWhenSuccessorInsertFails(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())
	id := f.seed(t)
	f.store.FailInsert = errors.New("disk full")

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The fire is still announced once.
	if len(f.capture.Events()) != 1 {
		t.Fatalf("events = %d, want 1", len(f.capture.Events()))
	}
	rows := f.store.All()
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("rows = %+v, want the consumed row retained", rows)
	}
}

func TestRunPublishFailureStillConsumes(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())
	id := f.seed(t)
	f.capture.Err = errors.New("bus down")

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	rows := f.store.All()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want successor only", len(rows))
	}
	if rows[0].ID == id {
		t.Fatal("consumed row survived a publish failure")
	}
}

func TestRunConsumesExhaustedItem(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	// Same event without a recurrence rule: one fire, then nothing left.
	oneShot := []byte(strings.ReplaceAll(string(weeklyICS()), "RRULE:FREQ=WEEKLY\r\n", ""))
	mb.Put(testResource, "standup-1", oneShot)
	f.seed(t)

	if err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.capture.Events()) != 1 {
		t.Fatalf("events = %d, want 1", len(f.capture.Events()))
	}
	if f.store.Len() != 0 {
		t.Fatalf("rows = %d, want none after the final occurrence", f.store.Len())
	}
}

func TestRunAbortsWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	eng := New(failingOpener{}, f.boxes, f.capture, Config{Clock: f.engine.clock})
	if err := eng.Run(context.Background()); !errors.Is(err, storage.ErrLockUnavailable) {
		t.Fatalf("run = %v, want ErrLockUnavailable", err)
	}
}

type failingOpener struct{}

func (failingOpener) Open() (storage.Store, error) {
	return nil, storage.ErrLockUnavailable
}

func TestRunHonorsContextCancel(t *testing.T) {
	f := newFixture(t)
	mb := f.boxes.Add(testMailbox, "chris", "Personal")
	mb.Put(testResource, "standup-1", weeklyICS())
	f.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.engine.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v, want context.Canceled", err)
	}
	if f.store.Len() != 1 {
		t.Fatal("cancelled pass mutated the queue")
	}
}
