package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/mw"
)

func init() { Register(registerServices) }

func registerServices(r chi.Router, d deps.Deps) {
	admin := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	admin.Get("/api/services", handlers.Services(d))
	admin.Get("/api/clients/health", handlers.ClientsHealth(d))
}
