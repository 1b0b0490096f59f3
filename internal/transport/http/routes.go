package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"live-classroom-service/internal/app"
)

// NewRouter mounts the host REST endpoints, the participant socket and, when
// metricsHandler is non-nil, the Prometheus scrape endpoint.
func NewRouter(service *app.LiveService, ws *WSHandler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", CreateSession(service))
		r.Get("/{code}", GetSession(service))
		r.Post("/{code}/start", StartSession(service))
		r.Post("/{code}/advance", AdvanceSession(service))
		r.Delete("/{code}", CloseSession(service))
	})
	r.Get("/ws", ws.ServeWS)
	return r
}
