package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newApp(c *Checker) *fiber.App {
	app := fiber.New()
	app.Get("/health", LivenessHandler())
	app.Get("/ready", c.ReadinessHandler())
	return app
}

func TestLivenessHandler(t *testing.T) {
	app := newApp(NewChecker("test", zerolog.Nop()))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ok")
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker("test", zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
	assert.Len(t, c.Last(), 2)
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker("test", zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusDown })

	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker("test", zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusDegraded })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker("test", zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()))
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(pingerFunc(func(context.Context) error { return nil }))
	down := PingCheck(pingerFunc(func(context.Context) error { return errors.New("closed") }))

	assert.Equal(t, StatusOK, ok(context.Background()))
	assert.Equal(t, StatusDown, down(context.Background()))
}

func TestReadinessHandler_Healthy(t *testing.T) {
	c := NewChecker("1.0.0", zerolog.Nop())
	c.Register("sqlite", func(ctx context.Context) Status { return StatusOK })

	resp, err := newApp(c).Test(httptest.NewRequest(http.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rep Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, "ready", rep.Status)
	assert.Equal(t, "1.0.0", rep.Version)
	assert.Equal(t, StatusOK, rep.Checks["sqlite"])
}

func TestReadinessHandler_NotReady(t *testing.T) {
	c := NewChecker("test", zerolog.Nop())
	c.Register("sqlite", func(ctx context.Context) Status { return StatusDown })

	resp, err := newApp(c).Test(httptest.NewRequest(http.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "not_ready")
}
