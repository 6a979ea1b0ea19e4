package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mistakeknot/calalarmd/internal/auth"
	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/storage"
)

func seedStore(t *testing.T) *storage.InMemory {
	t.Helper()
	mem := storage.NewInMemory()
	for i, fire := range []time.Time{
		time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
	} {
		if _, err := mem.Insert(&core.AlarmRecord{
			MailboxID: "mb", Resource: "r.ics",
			Action: core.ActionDisplay, NextFire: fire,
		}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	return mem
}

func TestHealthz(t *testing.T) {
	router := NewRouter(NewService(storage.NewInMemory()), nil, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
}

func TestStatusReportsPending(t *testing.T) {
	router := NewRouter(NewService(seedStore(t)), nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "ok" || st.PendingAlarms != 2 {
		t.Fatalf("status = %+v", st)
	}
	want := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if st.NextFire == nil || !st.NextFire.Equal(want) {
		t.Fatalf("next fire = %v, want %v", st.NextFire, want)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	router := NewRouter(NewService(storage.NewInMemory()), nil, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

type failingOpener struct{}

func (failingOpener) Open() (storage.Store, error) {
	return nil, errors.New("store wedged")
}

func TestStatusUnavailableWhenStoreFails(t *testing.T) {
	router := NewRouter(NewService(failingOpener{}), nil, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestMiddlewareGuardsStatusButNotHealth(t *testing.T) {
	ring := auth.NewRing(false, map[string]string{"secret": "dashboard"})
	router := NewRouter(NewService(storage.NewInMemory()), nil, auth.Middleware(ring))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want open access", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "10.0.0.8:4321"
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rr.Code)
	}
}
