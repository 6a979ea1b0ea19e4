// Package cli holds the bootstrap helpers behind the init command: writing a
// starter configuration file and minting feed subscriber tokens.
package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const starterConfig = `# calalarmd configuration
data_dir: data
log_level: info

sweep:
  schedule: "@every 1m"
  lookahead: 60s

mailbox:
  root: data/mailboxes
  bodies: file

bus:
  subject: calendar.alarm
  # nats_url: nats://localhost:4222
  # feed_addr: ":7339"
`

// InitConfigFile writes the starter configuration. An existing file is left
// untouched and reported as an error so init never clobbers a deployment.
func InitConfigFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config file path required")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("check config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

type tokensFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Subscribers map[string]subscriberTokens `yaml:"subscribers"`
}

type subscriberTokens struct {
	Tokens []string `yaml:"tokens"`
}

// InitTokenFile appends a freshly generated token for the subscriber,
// creating the tokens file when needed, and returns the token.
func InitTokenFile(path, subscriber string) (string, error) {
	path = strings.TrimSpace(path)
	subscriber = strings.TrimSpace(subscriber)
	if path == "" {
		return "", fmt.Errorf("tokens file path required")
	}
	if subscriber == "" {
		return "", fmt.Errorf("subscriber required")
	}

	cfg, err := loadTokensFile(path)
	if err != nil {
		return "", err
	}
	if cfg.Subscribers == nil {
		cfg.Subscribers = make(map[string]subscriberTokens)
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	st := cfg.Subscribers[subscriber]
	st.Tokens = append(st.Tokens, token)
	cfg.Subscribers[subscriber] = st
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		val := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &val
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal tokens file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write tokens file: %w", err)
	}
	return token, nil
}

func loadTokensFile(path string) (tokensFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tokensFile{}, nil
		}
		return tokensFile{}, fmt.Errorf("read tokens file: %w", err)
	}
	var cfg tokensFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return tokensFile{}, fmt.Errorf("parse tokens file: %w", err)
	}
	return cfg, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
