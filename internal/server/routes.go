package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/project/{projectID}", func(r chi.Router) {
		r.Post("/session", s.loadSession)
		r.Get("/session", s.getSession)
		r.Post("/message", s.addMessage)
		r.Post("/generate", s.startGeneration)
		r.Post("/cancel", s.cancelGeneration)

		// Event streaming (SSE)
		r.Get("/event", s.projectEvents)
	})

	r.Get("/model", s.listModels)
	r.Get("/provider", s.listProviders)
}
