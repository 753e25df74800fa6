package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
	"github.com/p-blackswan/vessel-dashboard/internal/health"
	"github.com/p-blackswan/vessel-dashboard/internal/plugins"
	"github.com/p-blackswan/vessel-dashboard/internal/store"
)

// Stats is the payload of GET /api/stats and of the "stats" WS message.
type Stats struct {
	Chat          *store.ChatStats         `json:"chat"`
	Usage24h      *store.UsageTotals       `json:"usage_24h"`
	DBSizeBytes   int64                    `json:"db_size_bytes"`
	HistoryCache  store.HistoryCacheStats  `json:"history_cache"`
	Sessions      int                      `json:"sessions"`
	RateLimitKeys int                      `json:"rate_limit_keys"`
	WSClients     int                      `json:"ws_clients"`
	Health        map[string]health.Status `json:"health,omitempty"`
	Time          string                   `json:"time"`
}

func (s *Server) collectStats(ctx context.Context) (*Stats, error) {
	chat, err := s.store.ChatStats(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := s.store.UsageSince(ctx, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	size, err := s.store.DBSizeBytes(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Chat:          chat,
		Usage24h:      usage,
		DBSizeBytes:   size,
		HistoryCache:  s.store.HistoryCacheStats(),
		Sessions:      s.registry.SessionCount(),
		RateLimitKeys: s.registry.RateLimitKeyCount(),
		WSClients:     s.hub.Count(),
		Time:          time.Now().Format("15:04:05"),
	}
	// last readiness results; stats must not run the checks themselves
	if s.checker != nil {
		st.Health = s.checker.Last()
	}
	return st, nil
}

// statsHandler handles GET /api/stats.
func (s *Server) statsHandler(c *fiber.Ctx) error {
	st, err := s.collectStats(c.UserContext())
	if err != nil {
		return fmt.Errorf("collecting stats: %w", err)
	}
	return c.JSON(st)
}

// listEvents handles GET /api/events?limit=&action=.
func (s *Server) listEvents(c *fiber.Ctx) error {
	events, err := s.store.ListEvents(c.UserContext(), store.EventFilter{
		Action: c.Query("action"),
		Limit:  c.QueryInt("limit", 50),
	})
	if err != nil {
		return err
	}
	if events == nil {
		events = []store.Event{}
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// runCleanup handles POST /api/cleanup.
func (s *Server) runCleanup(c *fiber.Ctx) error {
	rep, err := s.ArchiveOldData(c.UserContext())
	if err != nil {
		s.audit(c, "cleanup", "error", err.Error())
		return err
	}
	s.audit(c, "cleanup", "ok", rep.String())
	return c.JSON(fiber.Map{"ok": true, "report": rep, "message": rep.String()})
}

// listPlugins handles GET /api/plugins.
func (s *Server) listPlugins(c *fiber.Ctx) error {
	found := []plugins.Manifest{}
	if s.plugins != nil {
		found = s.plugins.Manifests()
	}
	return c.JSON(fiber.Map{"plugins": found})
}

// getPlugin handles GET /api/plugins/:id.
func (s *Server) getPlugin(c *fiber.Ctx) error {
	id := c.Params("id")
	if s.plugins != nil {
		if m, ok := s.plugins.Get(id); ok {
			return c.JSON(m)
		}
	}
	return fmt.Errorf("%w: plugin %q", apperrors.ErrNotFound, id)
}
