package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the tab API, the health check and, when given, the
// metrics endpoint.
func NewRouter(tabs *TabHandler, metrics http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics)
	}

	tabs.RegisterRoutes(router)
	return router
}
