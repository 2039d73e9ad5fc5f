// Package web serves the tracking daemon's HTTP API: subsystem status and
// control, live records, Prometheus metrics and a websocket stream of
// changesets.
package web

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/pkg/camera"
	"github.com/teslashibe/go-trackables/pkg/frameloop"
	"github.com/teslashibe/go-trackables/pkg/hub"
)

// Config holds server configuration
type Config struct {
	Addr      string // Listen address, e.g. ":8080"
	AccessLog bool   // Log every request
}

// Server is the tracking daemon's HTTP server
type Server struct {
	app    *fiber.App
	config Config
	log    *slog.Logger

	loop *frameloop.Loop

	// Changeset stream for /ws/changes
	changes *hub.Hub

	// Camera settings; nil when the backend has no local camera
	Camera *camera.Manager
}

// NewServer creates a server over the loop's subsystems
func NewServer(config Config, loop *frameloop.Loop) *Server {
	s := &Server{
		config:  config,
		log:     log.Component("web"),
		loop:    loop,
		changes: hub.New("changes"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "trackd",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if config.AccessLog {
		app.Use(logger.New(logger.Config{
			Format:     "${time} ${status} ${method} ${path} ${latency}\n",
			TimeFormat: time.RFC3339,
		}))
	}

	// API routes
	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/subsystems", s.handleListSubsystems)
	api.Get("/subsystems/:id", s.handleGetSubsystem)
	api.Post("/subsystems/:id/start", s.handleStartSubsystem)
	api.Post("/subsystems/:id/stop", s.handleStopSubsystem)
	api.Get("/subsystems/:id/live", s.handleLive)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/changes", websocket.New(s.handleChangesWS))

	s.app = app
	return s
}

// Changes returns the hub changeset events are broadcast on
func (s *Server) Changes() *hub.Hub {
	return s.changes
}

// Start runs the hub and serves until Shutdown
func (s *Server) Start(ctx context.Context) error {
	go s.changes.Run(ctx)
	s.log.Info("listening", "addr", s.config.Addr)
	return s.app.Listen(s.config.Addr)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.changes.Run(ctx)
	s.log.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
