// Package client provides a Go client for the calalarmd alarm feed: a
// websocket subscription delivering one event per fired alarm.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one fired alarm as published on the feed.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	UserID       string    `json:"user_id"`
	CalendarName string    `json:"calendar_name"`
	UID          string    `json:"uid"`
	Action       string    `json:"action"`
	AlarmTime    time.Time `json:"alarm_time"`
	Timezone     string    `json:"timezone"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	AllDay       bool      `json:"all_day"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	Organizer    string    `json:"organizer"`
	Recipients   []string  `json:"recipients,omitempty"`
	Attendees    []struct {
		Email  string `json:"email"`
		Name   string `json:"name,omitempty"`
		Status string `json:"status,omitempty"`
	} `json:"attendees,omitempty"`
}

// Handler is called for each event received from the feed.
type Handler func(event Event)

// Client manages a websocket subscription to the alarm feed.
type Client struct {
	baseURL   string
	token     string
	conn      *websocket.Conn
	handlers  []Handler
	mu        sync.RWMutex
	done      chan struct{}
	reconnect bool
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token presented during the handshake.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithAutoReconnect enables automatic reconnection on disconnect.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Client) {
		c.reconnect = enabled
	}
}

// New creates a feed client for the daemon at baseURL, e.g.
// "http://localhost:7339".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		handlers:  make([]Handler, 0),
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers an event handler.
func (c *Client) OnEvent(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect establishes the websocket connection and starts dispatching
// events to the registered handlers.
func (c *Client) Connect(ctx context.Context) error {
	feedURL, err := c.buildFeedURL()
	if err != nil {
		return fmt.Errorf("build feed url: %w", err)
	}

	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = make(map[string][]string)
		opts.HTTPHeader["Authorization"] = []string{"Bearer " + c.token}
	}

	conn, _, err := websocket.Dial(ctx, feedURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop(ctx)

	return nil
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	close(c.done)
	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *Client) buildFeedURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/alarms"
	return u.String(), nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if c.reconnect {
				select {
				case <-c.done:
					return
				default:
					c.handleReconnect(ctx)
					continue
				}
			}
			return
		}

		c.dispatchEvent(event)
	}
}

func (c *Client) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *Client) handleReconnect(ctx context.Context) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.Connect(ctx); err == nil {
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Filter selects which events a handler sees.
type Filter struct {
	// Actions keeps only the named alarm actions ("display", "email").
	Actions []string
	// UserID keeps only one user's alarms.
	UserID string
	// CalendarName keeps only one calendar's alarms.
	CalendarName string
}

// FilteredHandler wraps a Handler with filtering logic.
func FilteredHandler(filter Filter, handler Handler) Handler {
	return func(event Event) {
		if len(filter.Actions) > 0 {
			matched := false
			for _, a := range filter.Actions {
				if event.Action == a {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
		}
		if filter.UserID != "" && event.UserID != filter.UserID {
			return
		}
		if filter.CalendarName != "" && event.CalendarName != filter.CalendarName {
			return
		}
		handler(event)
	}
}
