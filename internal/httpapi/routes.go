// Package httpapi exposes a small local introspection surface over the
// session: liveness, the current session view, and a health-probe trigger.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Flomik10002/ItemRacePlatform/internal/session"
)

func SetupRoutes(s *session.Session) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/status", Status(s))
	r.Post("/probe", Probe(s))
	return r
}
