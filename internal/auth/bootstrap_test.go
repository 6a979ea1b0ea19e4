package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBootstrapCreatesTokensFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")

	res, err := BootstrapDevToken(path, "local")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !res.Created || res.Token == "" || res.Subscriber != "local" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("tokens file missing: %v", err)
	}

	ring, err := LoadRing(path)
	if err != nil {
		t.Fatalf("load ring: %v", err)
	}
	sub, ok := ring.SubscriberForToken(res.Token)
	if !ok || sub != "local" {
		t.Fatalf("token lookup = %q, %v", sub, ok)
	}
	if !ring.AllowLocalhostWithoutAuth {
		t.Fatal("bootstrap should allow localhost by default")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	first, err := BootstrapDevToken(path, "local")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	second, err := BootstrapDevToken(path, "local")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if second.Created {
		t.Fatal("second bootstrap must not rewrite the file")
	}
	ring, err := LoadRing(path)
	if err != nil {
		t.Fatalf("load ring: %v", err)
	}
	if _, ok := ring.SubscriberForToken(first.Token); !ok {
		t.Fatal("original token lost")
	}
}

func TestLoadRingBootstrapsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	ring, err := LoadRing(path)
	if err != nil {
		t.Fatalf("load ring: %v", err)
	}
	if ring == nil {
		t.Fatal("nil ring")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("tokens file not bootstrapped: %v", err)
	}
}

func TestLoadRingRejectsSharedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	body := "subscribers:\n  a:\n    tokens: [dup]\n  b:\n    tokens: [dup]\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRing(path); err == nil {
		t.Fatal("expected error for a token shared across subscribers")
	}
}
