package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/adimov-eth/vibecheck-notify/internal/errors"
)

// requireAPIKey authenticates internal callers via the X-API-Key header.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.InternalAPIKey)) != 1 {
			return apperrors.UnauthorizedError("invalid API key")
		}
		return next(c)
	}
}

// publishRequest is the internal publish API body: one event destined for
// a user's subscribed connections.
type publishRequest struct {
	UserID    string          `json:"user_id"`
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) handleNotify(c echo.Context) error {
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.UserID == "" {
		return apperrors.ValidationError("user_id is required")
	}
	if req.Topic == "" {
		return apperrors.ValidationError("topic is required")
	}
	if req.Type == "" {
		return apperrors.ValidationError("type is required")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	// Publish never fails from the caller's perspective: undeliverable
	// events are buffered or dropped downstream.
	s.publisher.Publish(req.UserID, req.Topic, req.Type, req.Payload, req.Timestamp)

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleEvictIdle(c echo.Context) error {
	evicted := s.monitor.EvictIdle(s.config.MemoryPressureIdleThreshold)
	slog.Info("Idle connections evicted on request", "count", evicted)
	return c.JSON(http.StatusOK, map[string]any{
		"evicted": evicted,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats := s.registry.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"total_connections":     stats.TotalConnections,
		"total_users":           stats.TotalUsers,
		"connections_per_user":  stats.ConnectionsPerUser,
		"idle_connections":      stats.IdleConnections,
		"oldest_connection_age": stats.OldestConnectionAge.String(),
		"limiter": map[string]any{
			"acquired_slots": s.limits.Current(),
			"unique_ips":     s.limits.UniqueIPs(),
		},
	})
}
