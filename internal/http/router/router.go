// Package router assembles the HTTP routes and middleware chain.
package router

import (
	"log/slog"
	"net/http"
	"strings"

	authhttp "quill/internal/http/auth"
	"quill/internal/http/gatekeeper"
	"quill/internal/http/metrics"
	mwLogger "quill/internal/http/middleware/logger"
	"quill/internal/http/pages"
	"quill/internal/http/textsessions"
	transformhttp "quill/internal/http/transform"
	"quill/internal/lib/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Gatekeeper   *gatekeeper.Gatekeeper
	Metrics      *metrics.Metrics
	Health       http.Handler
	Auth         *authhttp.Handler
	TextSessions *textsessions.Handler
	Transform    *transformhttp.Handler
	Pages        *pages.Handler
}

func New(log *slog.Logger, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mwLogger.New(log))
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(h.Gatekeeper.Middleware)

	r.NotFound(notFound)

	r.Get("/healthz", h.Health.ServeHTTP)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	r.Route("/api/auth", h.Auth.Register)
	r.Route("/api/sessions", h.TextSessions.Register)
	r.Route("/api/transform", h.Transform.Register)

	h.Pages.Register(r)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		api.Error(w, http.StatusNotFound, "not found")
		return
	}
	http.NotFound(w, r)
}
