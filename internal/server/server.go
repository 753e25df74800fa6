// Package server is the dashboard's HTTP and WebSocket front end.
package server

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/vessel-dashboard/internal/cleanup"
	"github.com/p-blackswan/vessel-dashboard/internal/health"
	"github.com/p-blackswan/vessel-dashboard/internal/metrics"
	"github.com/p-blackswan/vessel-dashboard/internal/pin"
	"github.com/p-blackswan/vessel-dashboard/internal/plugins"
	"github.com/p-blackswan/vessel-dashboard/internal/session"
	"github.com/p-blackswan/vessel-dashboard/internal/store"
)

// SessionCookie carries the session token.
const SessionCookie = "vessel_session"

// Rate limits for the maintenance endpoint.
const (
	cleanupMaxCalls = 1
	cleanupWindow   = 300 * time.Second
)

// Config holds the server's tunables.
type Config struct {
	MaxAuthAttempts  int
	AuthLockout      time.Duration
	WSMaxConnections int
	Version          string
}

// Deps are the components the handlers drive.
type Deps struct {
	Registry *session.Registry
	Store    *store.Store
	PIN      *pin.Verifier
	Archiver *cleanup.Archiver
	Checker  *health.Checker
	Metrics  *metrics.Metrics
	Plugins  *plugins.Catalog
}

// Server is the dashboard Fiber application.
type Server struct {
	app      *fiber.App
	cfg      Config
	registry *session.Registry
	store    *store.Store
	pin      *pin.Verifier
	archiver *cleanup.Archiver
	checker  *health.Checker
	metrics  *metrics.Metrics
	plugins  *plugins.Catalog
	hub      *Hub
	logger   zerolog.Logger
}

// New creates and configures the server.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.MaxAuthAttempts <= 0 {
		cfg.MaxAuthAttempts = 5
	}
	if cfg.AuthLockout <= 0 {
		cfg.AuthLockout = 5 * time.Minute
	}
	if cfg.AuthLockout > session.DefaultRateLimitRetention {
		cfg.AuthLockout = session.DefaultRateLimitRetention
	}
	if cfg.WSMaxConnections <= 0 {
		cfg.WSMaxConnections = 10
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		cfg:      cfg,
		registry: deps.Registry,
		store:    deps.Store,
		pin:      deps.PIN,
		archiver: deps.Archiver,
		checker:  deps.Checker,
		metrics:  deps.Metrics,
		plugins:  deps.Plugins,
		logger:   logger.With().Str("component", "server").Logger(),
	}
	s.hub = newHub(cfg.WSMaxConnections, deps.Metrics, logger)
	if s.plugins != nil {
		s.plugins.OnChange(func(found []plugins.Manifest) {
			s.hub.Broadcast(message{Type: "plugins", Data: found})
		})
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestIDMiddleware)
	s.app.Use(securityHeaders)
	s.app.Use(s.observe)
}

func (s *Server) setupRoutes() {
	auth := s.app.Group("/auth")
	auth.Post("/login", s.rateLimit("auth", s.cfg.MaxAuthAttempts, s.cfg.AuthLockout), s.login)
	auth.Post("/logout", s.logout)
	auth.Get("/check", s.check)

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")
	api.Get("/health", s.checker.ReadinessHandler())
	api.Get("/health/live", health.LivenessHandler())
	api.Get("/stats", s.requireSession, s.statsHandler)
	api.Get("/events", s.requireSession, s.listEvents)
	api.Post("/cleanup", s.requireSession, s.rateLimit("cleanup", cleanupMaxCalls, cleanupWindow), s.runCleanup)
	api.Get("/plugins", s.requireSession, s.listPlugins)
	api.Get("/plugins/:id", s.requireSession, s.getPlugin)

	s.app.Use("/ws", s.upgradeOnly)
	s.app.Get("/ws", s.hub.handler(s))
}

// Listen serves plain HTTP on addr. Blocks until shut down.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("dashboard listening (http)")
	return s.app.Listen(addr)
}

// ListenTLS serves HTTPS on addr. Blocks until shut down.
func (s *Server) ListenTLS(addr, certFile, keyFile string) error {
	s.logger.Info().Str("addr", addr).Msg("dashboard listening (https)")
	return s.app.ListenTLS(addr, certFile, keyFile)
}

// Shutdown closes WebSocket clients and stops accepting requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("dashboard shutting down")
	s.hub.closeAll()
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, errType := classify(err)

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
			detail = "An internal error occurred"
		}

		return problemResponse(c, code, errType, statusTitle(code), detail)
	}
}

func statusTitle(code int) string {
	if t := utils.StatusMessage(code); t != "" {
		return t
	}
	return "Error"
}
