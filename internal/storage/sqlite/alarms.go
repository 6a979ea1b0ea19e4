package sqlite

import (
	"fmt"
	"time"

	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/storage"
)

// icalTimeLayout is the canonical textual timestamp stored in the database.
// It round-trips to second precision and sorts lexically in time order,
// which the nextalarm comparison in SelectDueBefore relies on.
const icalTimeLayout = "20060102T150405Z"

func encodeTime(t time.Time) string {
	return t.UTC().Format(icalTimeLayout)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(icalTimeLayout, s)
}

// Insert writes the alarm row and its recipient rows in one transaction and
// fills in the assigned id.
func (d *DB) Insert(rec *core.AlarmRecord) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("insert alarm: begin: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO alarms (mailbox, resource, action, nextalarm, tzid, start, end)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.MailboxID, rec.Resource, int(rec.Action),
		encodeTime(rec.NextFire), rec.TZID, encodeTime(rec.Start), encodeTime(rec.End),
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert alarm: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert alarm: id: %w", err)
	}

	for _, email := range rec.Recipients {
		if _, err := tx.Exec(
			`INSERT INTO alarm_recipients (alarmid, email) VALUES (?, ?)`,
			id, email,
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert alarm: commit: %w", err)
	}
	rec.ID = id
	return id, nil
}

func (d *DB) DeleteByID(id int64) error {
	if _, err := d.db.Exec(`DELETE FROM alarms WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("delete alarm %d: %w", id, err)
	}
	return nil
}

func (d *DB) DeleteByItem(mailboxID, resource string) error {
	if _, err := d.db.Exec(
		`DELETE FROM alarms WHERE mailbox = ? AND resource = ?`,
		mailboxID, resource,
	); err != nil {
		return fmt.Errorf("delete alarms for %s/%s: %w", mailboxID, resource, err)
	}
	return nil
}

func (d *DB) DeleteByMailbox(mailboxID string) error {
	if _, err := d.db.Exec(`DELETE FROM alarms WHERE mailbox = ?`, mailboxID); err != nil {
		return fmt.Errorf("delete alarms for %s: %w", mailboxID, err)
	}
	return nil
}

func (d *DB) DeleteByUserPrefix(userID string) error {
	prefix := storage.UserMailboxPrefix(userID)
	if _, err := d.db.Exec(
		`DELETE FROM alarms WHERE mailbox LIKE ? ESCAPE '\'`,
		likeEscape(prefix)+"%",
	); err != nil {
		return fmt.Errorf("delete alarms for user %s: %w", userID, err)
	}
	return nil
}

// likeEscape protects LIKE metacharacters in a literal prefix.
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// SelectDueBefore returns every pending record with nextalarm at or before
// the cutoff, each with its recipients loaded.
func (d *DB) SelectDueBefore(before time.Time) ([]core.AlarmRecord, error) {
	rows, err := d.db.Query(
		`SELECT rowid, mailbox, resource, action, nextalarm, tzid, start, end
		 FROM alarms WHERE nextalarm <= ?`,
		encodeTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("select due alarms: %w", err)
	}
	defer rows.Close()

	var out []core.AlarmRecord
	for rows.Next() {
		var (
			rec                   core.AlarmRecord
			action                int
			nextalarm, start, end string
		)
		if err := rows.Scan(&rec.ID, &rec.MailboxID, &rec.Resource, &action, &nextalarm, &rec.TZID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		rec.Action = core.Action(action)
		if rec.NextFire, err = decodeTime(nextalarm); err != nil {
			return nil, fmt.Errorf("alarm %d: nextalarm: %w", rec.ID, err)
		}
		if rec.Start, err = decodeTime(start); err != nil {
			return nil, fmt.Errorf("alarm %d: start: %w", rec.ID, err)
		}
		if rec.End, err = decodeTime(end); err != nil {
			return nil, fmt.Errorf("alarm %d: end: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select due alarms: %w", err)
	}

	for i := range out {
		if out[i].Recipients, err = d.recipients(out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *DB) recipients(alarmID int64) ([]string, error) {
	rows, err := d.db.Query(`SELECT email FROM alarm_recipients WHERE alarmid = ?`, alarmID)
	if err != nil {
		return nil, fmt.Errorf("select recipients for %d: %w", alarmID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// RecipientCount reports how many recipient rows reference the given alarm.
// Used by tests to verify the delete cascade.
func (d *DB) RecipientCount(alarmID int64) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM alarm_recipients WHERE alarmid = ?`, alarmID).Scan(&n)
	return n, err
}
