package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLocalhostBypass(t *testing.T) {
	ring := &Ring{AllowLocalhostWithoutAuth: true, tokenToSubscriber: map[string]string{}}
	mw := Middleware(ring)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromContext(r.Context())
		if !ok || info.Mode != ModeLocalhost {
			t.Fatalf("expected localhost auth mode")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/alarms", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestNonLocalhostRequiresBearer(t *testing.T) {
	ring := &Ring{AllowLocalhostWithoutAuth: true, tokenToSubscriber: map[string]string{"secret": "dashboard"}}
	mw := Middleware(ring)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromContext(r.Context())
		if !ok || info.Subscriber != "dashboard" || info.Mode != ModeToken {
			t.Fatalf("expected token auth info")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/alarms", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/alarms", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", rr.Code)
	}
}

func TestBadTokenRejected(t *testing.T) {
	ring := &Ring{tokenToSubscriber: map[string]string{"secret": "dashboard"}}
	mw := Middleware(ring)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/alarms", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestForwardedForLoopback(t *testing.T) {
	ring := &Ring{AllowLocalhostWithoutAuth: true, tokenToSubscriber: map[string]string{}}
	mw := Middleware(ring)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	req.Header.Set("X-Forwarded-For", "127.0.0.1, 10.0.0.8")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for forwarded loopback, got %d", rr.Code)
	}
}
