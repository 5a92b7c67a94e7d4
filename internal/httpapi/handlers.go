package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/Flomik10002/ItemRacePlatform/internal/session"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Status returns the session's current view as JSON.
func Status(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := s.View()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

// Probe kicks off a server health probe. The result lands in the session
// view asynchronously; poll /status for it.
func Probe(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.CheckHealth()
		w.WriteHeader(http.StatusAccepted)
	}
}
