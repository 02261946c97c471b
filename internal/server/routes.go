package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Client-facing WebSocket endpoint
	s.echo.GET("/ws", s.handleWebSocket)

	// Internal API for pipeline workers and operators (API-key protected)
	internal := s.echo.Group("/internal", s.requireAPIKey)
	internal.POST("/notify", s.handleNotify)
	internal.POST("/evict-idle", s.handleEvictIdle)
	internal.GET("/stats", s.handleStats)
}
