package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vnmchuo/medcost/internal/auth"
	"github.com/vnmchuo/medcost/internal/logging"
)

// NewRouter mounts the public and session-protected routes.
func NewRouter(h *Handler, authMiddleware auth.Middleware, metrics http.Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"medcost"}`))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Post("/v1/signup", h.HandleSignup)
	r.Post("/v1/signin", h.HandleSignin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/logout", h.HandleLogout)
		r.Post("/v1/predict", h.HandlePredict)
		r.Post("/v1/report", h.HandleReport)
		r.Get("/v1/predictions", h.HandleHistory)
	})

	return r
}
