package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/handlers"
)

func init() { Register(registerProbes) }

func registerProbes(r chi.Router, d deps.Deps) {
	g := guarded(r, d)
	g.Get("/healthz", handlers.Healthz(d))
	g.Get("/readyz", handlers.Readyz(d))
}
