package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/adimov-eth/vibecheck-notify/internal/config"
	apperrors "github.com/adimov-eth/vibecheck-notify/internal/errors"
	"github.com/adimov-eth/vibecheck-notify/internal/notify"
)

// publisher is the dispatcher-side contract the internal API publishes
// through.
type publisher interface {
	Publish(userID, topic, eventType string, payload json.RawMessage, ts time.Time)
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *notify.Hub
	registry  *notify.Registry
	monitor   *notify.Monitor
	publisher publisher
	limits    *ConnectionLimits
	redis     *goredis.Client
	startTime time.Time
}

func NewServer(cfg *config.Config, hub *notify.Hub, registry *notify.Registry, monitor *notify.Monitor, pub publisher, redisClient *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		hub:       hub,
		registry:  registry,
		monitor:   monitor,
		publisher: pub,
		limits: NewConnectionLimits(
			cfg.MaxWebSocketConnections,
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRatePerIP,
			cfg.ConnectionBurstPerIP,
		),
		redis:     redisClient,
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
