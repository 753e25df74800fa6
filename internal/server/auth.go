package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/vessel-dashboard/internal/pin"
	"github.com/p-blackswan/vessel-dashboard/internal/store"
)

type loginRequest struct {
	PIN string `json:"pin"`
}

type loginResponse struct {
	OK    bool `json:"ok"`
	Setup bool `json:"setup"`
}

type checkResponse struct {
	Authenticated bool `json:"authenticated"`
	Setup         bool `json:"setup"`
}

// login handles POST /auth/login. With no PIN configured the first
// valid PIN becomes the dashboard PIN.
func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body")
	}

	ip := c.IP()
	setup := !s.pin.IsSet()

	if setup {
		if err := pin.ValidateNew(req.PIN); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_pin", "Bad Request", "PIN must be 4 digits")
		}
		if err := s.pin.Set(req.PIN); err != nil {
			return err
		}
		s.audit(c, "pin_setup", "ok", "")
	} else {
		ok, err := s.pin.Verify(req.PIN)
		if err != nil {
			return err
		}
		if !ok {
			s.audit(c, "login_fail", "denied", "")
			s.logger.Warn().Str("ip", ip).Msg("login failed")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_pin", "Unauthorized", "Wrong PIN")
		}
	}

	s.registry.ResetLimit(ip, "auth")
	token, err := s.registry.CreateSession()
	if err != nil {
		return err
	}
	s.setSessionCookie(c, token, s.registry.SessionTimeout())
	if s.metrics != nil {
		s.metrics.SetSessions(s.registry.SessionCount())
	}
	s.audit(c, "login", "ok", "")

	return c.JSON(loginResponse{OK: true, Setup: setup})
}

// logout handles POST /auth/logout.
func (s *Server) logout(c *fiber.Ctx) error {
	if token := c.Cookies(SessionCookie); token != "" {
		s.registry.DeleteSession(token)
	}
	s.audit(c, "logout", "ok", "")
	s.setSessionCookie(c, "", -1)
	return c.JSON(fiber.Map{"ok": true})
}

// check handles GET /auth/check.
func (s *Server) check(c *fiber.Ctx) error {
	return c.JSON(checkResponse{
		Authenticated: s.registry.Authenticate(c.Cookies(SessionCookie)),
		Setup:         !s.pin.IsSet(),
	})
}

// setSessionCookie writes the session cookie; a negative maxAge clears it.
func (s *Server) setSessionCookie(c *fiber.Ctx, token string, maxAge time.Duration) {
	cookie := &fiber.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   c.Protocol() == "https",
	}
	if maxAge < 0 {
		cookie.Expires = time.Unix(0, 0)
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(maxAge.Seconds())
	}
	c.Cookie(cookie)
}

// audit records an event; failures are logged, never surfaced.
func (s *Server) audit(c *fiber.Ctx, action, status, details string) {
	err := s.store.LogEvent(c.UserContext(), store.Event{
		Action:   action,
		Actor:    c.IP(),
		Resource: c.Path(),
		Status:   status,
		Details:  details,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit event not recorded")
	}
}
