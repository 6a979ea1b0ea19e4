package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapResult describes a bootstrapped dev token.
type BootstrapResult struct {
	TokensFile string
	Subscriber string
	Token      string
	Created    bool
}

// BootstrapDevToken creates the tokens file with one generated token when it
// does not exist yet, so a first deployment needs no manual setup.
func BootstrapDevToken(tokensPath, subscriber string) (*BootstrapResult, error) {
	if tokensPath == "" {
		tokensPath = ResolveTokensPath()
	}
	if subscriber == "" {
		subscriber = "local"
	}

	if _, err := os.Stat(tokensPath); err == nil {
		return &BootstrapResult{TokensFile: tokensPath, Created: false}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("check tokens file: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	cfg := tokensFile{
		Subscribers: map[string]subscriberTokens{
			subscriber: {Tokens: []string{token}},
		},
	}
	allowLocalhost := true
	cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &allowLocalhost

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal tokens file: %w", err)
	}
	if err := os.WriteFile(tokensPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write tokens file: %w", err)
	}

	return &BootstrapResult{
		TokensFile: tokensPath,
		Subscriber: subscriber,
		Token:      token,
		Created:    true,
	}, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
