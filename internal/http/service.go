// Package http exposes the daemon's small HTTP surface: a health check, a
// scheduler status endpoint and the websocket alarm feed.
package http

import (
	"time"

	"github.com/mistakeknot/calalarmd/internal/storage"
)

// Service answers status queries against the alarm store.
type Service struct {
	opener  storage.Opener
	started time.Time
	now     func() time.Time
}

func NewService(opener storage.Opener) *Service {
	return &Service{opener: opener, started: time.Now(), now: time.Now}
}

// Status is the scheduler status document.
type Status struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	PendingAlarms int        `json:"pending_alarms"`
	NextFire      *time.Time `json:"next_fire,omitempty"`
}

// statusHorizon bounds the pending-alarm scan far past any real schedule.
const statusHorizon = 100 * 365 * 24 * time.Hour

func (s *Service) Status() (Status, error) {
	st := Status{
		Status:        "ok",
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
	}

	db, err := s.opener.Open()
	if err != nil {
		return Status{}, err
	}
	defer db.Close()

	pending, err := db.SelectDueBefore(s.now().Add(statusHorizon))
	if err != nil {
		return Status{}, err
	}
	st.PendingAlarms = len(pending)
	for i := range pending {
		if st.NextFire == nil || pending[i].NextFire.Before(*st.NextFire) {
			f := pending[i].NextFire
			st.NextFire = &f
		}
	}
	return st, nil
}
