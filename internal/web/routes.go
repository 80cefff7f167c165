package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-matcher/internal/web/handlers"
	"github.com/kozaktomas/face-matcher/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	maxBody := s.config.Web.MaxRequestBytes

	recognizeHandler := handlers.NewRecognizeHandler(s.recognizer, maxBody)
	identitiesHandler := handlers.NewIdentitiesHandler(s.recognizer, maxBody)
	statsHandler := handlers.NewStatsHandler(s.recognizer)

	// Recognition endpoint used by the attendance front-end
	s.router.Post("/recognize", recognizeHandler.Recognize)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(s.config.Web.AdminToken))

		// Identities
		r.Post("/identities", identitiesHandler.Create)
		r.Get("/identities", identitiesHandler.List)
		r.Get("/identities/{id}", identitiesHandler.Get)

		// Stats & index maintenance
		r.Get("/stats", statsHandler.Get)
		r.Post("/index/rebuild", statsHandler.RebuildIndex)
	})
}
