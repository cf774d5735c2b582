package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	AllowedOrigins    []string
	RateLimitRequests int           // per window on the send endpoint; 0 disables
	RateLimitWindow   time.Duration
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestLogging(apiHandler.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", CorrelationIDHeader},
		ExposedHeaders: []string{CorrelationIDHeader},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.Health)
		r.Get("/bootstrap", apiHandler.Bootstrap)
		r.Get("/state", apiHandler.State)
		r.Get("/shared", apiHandler.Shared)

		// Identity
		r.Post("/login", apiHandler.Login)
		r.Post("/logout", apiHandler.Logout)
		r.Put("/profile", apiHandler.UpdateProfile)
		r.Post("/profile/picture", apiHandler.UploadProfilePicture)
		r.Delete("/profile/picture", apiHandler.DeleteProfilePicture)
		r.Get("/users", apiHandler.Users)
		r.Get("/users/{userID}/sessions/{sessionID}", apiHandler.UserSession)

		// Settings and list view
		r.Get("/settings", apiHandler.GetSettings)
		r.Put("/settings", apiHandler.PutSettings)
		r.Put("/archived", apiHandler.PutArchived)

		// Sessions
		r.Post("/sessions", apiHandler.CreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", apiHandler.GetSession)
			r.Patch("/", apiHandler.PatchSession)
			r.Delete("/", apiHandler.DeleteSession)
			r.Post("/select", apiHandler.SelectSession)
			r.Post("/archive", apiHandler.ArchiveSession)
			r.Post("/public", apiHandler.PublicSessionToggle)
			r.Put("/settings", apiHandler.PutSessionSettings)
			r.Get("/share", apiHandler.ShareSession)
			r.With(RateLimit(opts.RateLimitRequests, opts.RateLimitWindow)).
				Post("/messages", apiHandler.PostMessage)
		})
	})

	return r
}
