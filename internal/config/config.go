// Package config loads the calalarmd yaml configuration file and applies
// defaults for anything the file leaves unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "calalarmd.yaml"

// SweepConfig controls the alarm sweep engine.
type SweepConfig struct {
	// Schedule is a cron spec for run mode, e.g. "@every 1m".
	Schedule string `yaml:"schedule"`
	// Lookahead extends each sweep cutoff past now so alarms firing moments
	// after the pass do not immediately re-wake the scheduler.
	Lookahead time.Duration `yaml:"lookahead"`
	// Horizon bounds recurrence expansion when resolving the next trigger.
	Horizon time.Duration `yaml:"horizon"`
}

// MailboxConfig locates the mailbox/message store.
type MailboxConfig struct {
	Root string `yaml:"root"`
	// Bodies selects where message bodies live: "file" or "object".
	Bodies string `yaml:"bodies"`
}

// ObjectStoreConfig configures the optional object-storage body backend.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// BusConfig configures event publication.
type BusConfig struct {
	// NATSURL enables the NATS publisher when set.
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
	// FeedAddr enables the local websocket feed when set, e.g. ":7339".
	FeedAddr string `yaml:"feed_addr"`
	// FeedSocket optionally serves the feed on a unix socket as well.
	FeedSocket string `yaml:"feed_socket"`
	// TokensFile guards the feed with bearer tokens when set. Loopback
	// requests bypass auth unless the file says otherwise.
	TokensFile string `yaml:"tokens_file"`
}

type Config struct {
	// DataDir holds the alarm database and its lock file.
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
	Sweep    SweepConfig   `yaml:"sweep"`
	Mailbox  MailboxConfig `yaml:"mailbox"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Bus         BusConfig         `yaml:"bus"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 1m"
	}
	if c.Sweep.Lookahead <= 0 {
		c.Sweep.Lookahead = 60 * time.Second
	}
	if c.Sweep.Horizon <= 0 {
		// Ten years of recurrence is far past anything a client schedules,
		// and keeps expansion bounded.
		c.Sweep.Horizon = 10 * 365 * 24 * time.Hour
	}
	if c.Mailbox.Root == "" {
		c.Mailbox.Root = filepath.Join(c.DataDir, "mailboxes")
	}
	if c.Mailbox.Bodies == "" {
		c.Mailbox.Bodies = "file"
	}
	if c.Bus.Subject == "" {
		c.Bus.Subject = "calendar.alarm"
	}
}

// ResolvePath returns the config file path, honoring CALALARMD_CONFIG.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("CALALARMD_CONFIG")); v != "" {
		return v
	}
	return defaultConfigFile
}

// Load reads the yaml file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ResolvePath()
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Mailbox.Bodies {
	case "file", "object":
	default:
		return fmt.Errorf("config: unknown mailbox bodies backend %q", c.Mailbox.Bodies)
	}
	if c.Mailbox.Bodies == "object" {
		if c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "" {
			return fmt.Errorf("config: object body backend requires object_store endpoint and bucket")
		}
	}
	return nil
}
