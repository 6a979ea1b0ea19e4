package http

import (
	"encoding/json"
	"net/http"
)

// NewRouter mounts the daemon endpoints. feed may be nil when no websocket
// feed is served; mw, when non-nil, wraps everything but the health check.
func NewRouter(svc *Service, feed http.HandlerFunc, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", handleStatus(svc))
	if feed != nil {
		mux.HandleFunc("/ws/alarms", feed)
	}

	var h http.Handler = mux
	if mw != nil {
		h = mw(h)
	}

	outer := http.NewServeMux()
	outer.HandleFunc("/healthz", handleHealth)
	outer.Handle("/", h)
	return outer
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStatus(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		st, err := svc.Status()
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
