package server

import (
	"github.com/drivepacer/drivepacer/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Live governor state
	s.router.Get("/status", handlers.StatusHandler)
}
