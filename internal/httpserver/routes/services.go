package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/handlers"
)

func init() { Register(registerServices) }

func registerServices(r chi.Router, d deps.Deps) {
	if d.MemoryIndex == nil {
		return
	}
	g := guarded(r, d)
	g.Get("/services", handlers.Services(d))
	g.Get("/services/{name}", handlers.Service(d))
	g.Get("/infra", handlers.Infra(d))
}
