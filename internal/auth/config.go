// Package auth guards the alarm feed endpoints. Subscribers present a
// bearer token from the tokens file; loopback requests may bypass auth so a
// local consumer works with zero setup.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultTokensFile = "calalarmd.tokens.yaml"

type tokensFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Subscribers map[string]subscriberTokens `yaml:"subscribers"`
}

type subscriberTokens struct {
	Tokens []string `yaml:"tokens"`
}

// Ring maps bearer tokens to subscriber names.
type Ring struct {
	AllowLocalhostWithoutAuth bool
	tokenToSubscriber         map[string]string
}

func ResolveTokensPath() string {
	if v := strings.TrimSpace(os.Getenv("CALALARMD_TOKENS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultTokensFile)
}

func LoadRingFromEnv() (*Ring, error) {
	return LoadRing(ResolveTokensPath())
}

func LoadRing(path string) (*Ring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultRing(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, err := BootstrapDevToken(path, "local"); err != nil {
				return nil, fmt.Errorf("bootstrap dev token: %w", err)
			}
			data, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read tokens file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read tokens file: %w", err)
		}
	}
	var cfg tokensFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tokens file: %w", err)
	}
	ring := &Ring{
		AllowLocalhostWithoutAuth: true,
		tokenToSubscriber:         make(map[string]string),
	}
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for subscriber, tokens := range cfg.Subscribers {
		for _, token := range tokens.Tokens {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if existing, ok := ring.tokenToSubscriber[token]; ok && existing != subscriber {
				return nil, fmt.Errorf("token reused across subscribers: %q", token)
			}
			ring.tokenToSubscriber[token] = subscriber
		}
	}
	return ring, nil
}

func defaultRing() *Ring {
	return &Ring{AllowLocalhostWithoutAuth: true, tokenToSubscriber: make(map[string]string)}
}

func NewRing(allowLocalhost bool, tokenToSubscriber map[string]string) *Ring {
	clone := make(map[string]string, len(tokenToSubscriber))
	for k, v := range tokenToSubscriber {
		clone[k] = v
	}
	return &Ring{AllowLocalhostWithoutAuth: allowLocalhost, tokenToSubscriber: clone}
}

func (r *Ring) SubscriberForToken(token string) (string, bool) {
	if r == nil {
		return "", false
	}
	subscriber, ok := r.tokenToSubscriber[token]
	return subscriber, ok
}
