package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/mw"
)

func init() { Register(registerWorkflows) }

func registerWorkflows(r chi.Router, d deps.Deps) {
	limited := r.With(mw.RateLimit(d.RateLimit))
	limited.Post("/api/documents", handlers.ProcessDocument(d))
	limited.Post("/api/query", handlers.QueryKnowledge(d))
	limited.Post("/api/organize", handlers.OrganizeKnowledge(d))
}
