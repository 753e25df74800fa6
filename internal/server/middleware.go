package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
	"github.com/p-blackswan/vessel-dashboard/internal/requestid"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'unsafe-inline' 'unsafe-eval'; " +
	"style-src 'unsafe-inline' https://fonts.googleapis.com; " +
	"font-src https://fonts.gstatic.com; " +
	"img-src 'self' data:; " +
	"connect-src 'self' ws: wss:; " +
	"frame-ancestors 'none'; " +
	"object-src 'none';"

func requestIDMiddleware(c *fiber.Ctx) error {
	id := requestid.Resolve(c.Get(requestid.Header))
	c.Set(requestid.Header, id)
	c.Locals(requestid.LocalsKey, id)
	c.SetUserContext(requestid.WithRequestID(c.UserContext(), id))
	return c.Next()
}

func securityHeaders(c *fiber.Ctx) error {
	c.Set("X-Content-Type-Options", "nosniff")
	c.Set("X-Frame-Options", "DENY")
	c.Set("X-XSS-Protection", "1; mode=block")
	c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	c.Set("Content-Security-Policy", contentSecurityPolicy)
	return c.Next()
}

// observe records metrics for every request and logs those outside the quiet paths below.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	took := time.Since(start)

	status := c.Response().StatusCode()
	if err != nil {
		status, _ = classify(err)
	}
	route := c.Route().Path
	if route == "" || route == "/" {
		route = "unmatched"
	}
	if s.metrics != nil {
		s.metrics.ObserveRequest(route, strconv.Itoa(status), took)
	}

	switch c.Path() {
	case "/api/health", "/api/health/live", "/metrics", "/ws":
		return err
	}
	s.logger.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Str("ip", c.IP()).
		Dur("took", took).
		Str("request_id", requestid.FromContext(c.UserContext())).
		Msg("request")
	return err
}

// requireSession rejects requests without a live session cookie.
func (s *Server) requireSession(c *fiber.Ctx) error {
	if !s.registry.Authenticate(c.Cookies(SessionCookie)) {
		return apperrors.ErrUnauthorized
	}
	return c.Next()
}

// rateLimit allows max calls per window for each client IP and action.
func (s *Server) rateLimit(action string, max int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.registry.Allow(c.IP(), action, max, window) {
			if s.metrics != nil {
				s.metrics.RecordRateLimited(action)
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return fmt.Errorf("%w: try again in %s", apperrors.ErrRateLimited, window)
		}
		return c.Next()
	}
}
