package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manpreetbhatti/synclink/internal/metrics"
)

// Router mounts the HTTP endpoints and the socket endpoint at /ws.
func (a *API) Router(socket http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(metrics.Middleware)

	if socket != nil {
		r.Handle("/ws", socket)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", a.RootHandler)
		r.Get("/health", a.HealthHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/stats", a.StatsHandler)
			r.Get("/rooms", a.ListRoomsHandler)
			r.Get("/ice-servers", a.ICEServersHandler)
		})

		r.Post("/register", a.RegisterHandler)
		r.Post("/login", a.LoginHandler)

		r.Get("/runcode", a.CodeStatusHandler)
		r.Post("/runcode", a.SubmitCodeHandler)
	})

	return r
}
