package bus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/calalarmd/internal/core"
)

const feedWriteTimeout = 5 * time.Second

// Feed is a websocket hub that streams every published alarm event to
// connected observers. Subscribers connect to /ws/alarms and receive one
// JSON object per fire; they send nothing.
type Feed struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewFeed() *Feed {
	return &Feed{conns: make(map[*websocket.Conn]struct{})}
}

// Handler accepts websocket subscribers.
func (f *Feed) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		f.add(conn)
		defer f.remove(conn)

		// Subscribers are write-only from our side; reading just detects
		// disconnects.
		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

func (f *Feed) Publish(ev core.AlarmEvent) error {
	for _, conn := range f.snapshot() {
		ctx, cancel := context.WithTimeout(context.Background(), feedWriteTimeout)
		err := wsjson.Write(ctx, conn, ev)
		cancel()
		if err != nil {
			go func(c *websocket.Conn) {
				c.Close(websocket.StatusGoingAway, "write error")
				f.remove(c)
			}(conn)
		}
	}
	return nil
}

func (f *Feed) snapshot() []*websocket.Conn {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(f.conns))
	for conn := range f.conns {
		out = append(out, conn)
	}
	return out
}

func (f *Feed) add(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[conn] = struct{}{}
}

func (f *Feed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, conn)
}
