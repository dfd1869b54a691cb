package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dishwatch/internal/config"
	"dishwatch/internal/monitor"
)

// Dependencies are the collaborators the HTTP layer needs.
type Dependencies struct {
	Store         *monitor.Store
	Registrar     registrar
	Authenticator googleAuthenticator
	Devices       deviceLister
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Dependencies, logger *slog.Logger) (http.Handler, error) {
	v, err := newViews(logger)
	if err != nil {
		return nil, err
	}

	oauthHandler := NewOAuthHandler(deps.Authenticator, deps.Store, deps.Registrar, v, cfg.NestProjectID, cfg.Environment, logger)
	userHandler := NewUserHandler(deps.Store, deps.Registrar, deps.Devices, logger)
	pageHandler := NewPageHandler(deps.Store, deps.Registrar, deps.Devices, v, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
			"users":       deps.Store.Len(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", pageHandler.Home)
	r.Get("/login", pageHandler.Login)
	r.Get("/dashboard", pageHandler.Dashboard)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", oauthHandler.Authorize)
		r.Get("/callback", oauthHandler.Callback)
	})

	r.Route("/cameras", func(r chi.Router) {
		r.Get("/select", pageHandler.SelectCameras)
		r.Post("/register", pageHandler.RegisterCameras)
		r.Post("/unregister", pageHandler.UnregisterCamera)
	})
	r.Post("/users/unregister", pageHandler.UnregisterUser)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/register", userHandler.Register)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", userHandler.Get)
			r.Delete("/", userHandler.Delete)
			r.Get("/devices", userHandler.ListDevices)
			r.Put("/devices/{deviceID}", userHandler.AddDevice)
			r.Delete("/devices/{deviceID}", userHandler.RemoveDevice)
		})
	})

	r.NotFound(pageHandler.NotFound)

	return r, nil
}
