// Package embedded provides an embeddable calalarmd scheduler for
// in-process use: a host application gets the sweep loop, the status API and
// the websocket alarm feed without running a separate daemon.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mistakeknot/calalarmd/internal/bus"
	calhttp "github.com/mistakeknot/calalarmd/internal/http"
	"github.com/mistakeknot/calalarmd/internal/mailbox"
	"github.com/mistakeknot/calalarmd/internal/storage/sqlite"
	"github.com/mistakeknot/calalarmd/internal/sweep"
)

// Config configures the embedded scheduler.
type Config struct {
	// DataDir holds the alarm database and lock file.
	// If empty, defaults to ~/.calalarmd.
	DataDir string

	// MailboxRoot is the mailbox store root.
	// If empty, defaults to DataDir/mailboxes.
	MailboxRoot string

	// Port is the HTTP port to listen on.
	// If 0, defaults to 7339.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string

	// Schedule is the sweep cron spec. If empty, defaults to "@every 1m".
	Schedule string
}

// Server is an embedded calalarmd scheduler.
type Server struct {
	cfg     Config
	engine  *sweep.Engine
	feed    *bus.Feed
	cron    *cron.Cron
	http    *http.Server
	started bool
	mu      sync.Mutex
}

// New creates a new embedded scheduler. No auth is applied; the embedded
// surface binds to loopback by default.
func New(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".calalarmd")
	}
	if cfg.MailboxRoot == "" {
		cfg.MailboxRoot = filepath.Join(cfg.DataDir, "mailboxes")
	}
	if cfg.Port == 0 {
		cfg.Port = 7339
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opener := sqlite.Dir{Path: cfg.DataDir}
	mailboxes := mailbox.NewFileStore(cfg.MailboxRoot, nil)
	feed := bus.NewFeed()
	engine := sweep.New(opener, mailboxes, bus.Multi{bus.NewLogPublisher(), feed}, sweep.Config{})

	router := calhttp.NewRouter(calhttp.NewService(opener), feed.Handler(), nil)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		cfg:    cfg,
		engine: engine,
		feed:   feed,
		cron:   cron.New(),
		http:   &http.Server{Addr: addr, Handler: router},
	}, nil
}

// Start begins sweeping and serving in background goroutines.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		_ = s.engine.Run(context.Background())
	}); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()

	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "calalarmd server error: %v\n", err)
		}
	}()

	// Wait a moment for the listener to come up.
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop halts the sweep loop and shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Sweep runs one pass immediately, outside the schedule.
func (s *Server) Sweep(ctx context.Context) error {
	return s.engine.Run(ctx)
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// URL returns the base URL for the server.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.http.Addr)
}
