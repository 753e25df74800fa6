// Package health provides liveness and readiness endpoints for the dashboard.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckTimeout bounds a single check.
const CheckTimeout = 5 * time.Second

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// Report is the readiness payload.
type Report struct {
	Status  string            `json:"status"`
	Checks  map[string]Status `json:"checks"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version,omitempty"`
}

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	cache   map[string]Status
	started time.Time
	version string
	logger  zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(version string, logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		cache:   make(map[string]Status),
		started: time.Now(),
		version: version,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()
			s := f(checkCtx)
			if s != StatusOK {
				c.logger.Warn().Str("check", n).Str("status", string(s)).Msg("health check failing")
			}
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Last returns the results of the most recent RunAll.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// Check runs all checks and builds the readiness report.
func (c *Checker) Check(ctx context.Context) (Report, bool) {
	results := c.RunAll(ctx)
	ready := true
	for _, s := range results {
		if s == StatusDown {
			ready = false
			break
		}
	}
	rep := Report{
		Status:  "ready",
		Checks:  results,
		Uptime:  time.Since(c.started).Truncate(time.Second).String(),
		Version: c.version,
	}
	if !ready {
		rep.Status = "not_ready"
	}
	return rep, ready
}

// IsReady returns true if no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	_, ok := c.Check(ctx)
	return ok
}

// LivenessHandler answers 200 while the process is up.
func LivenessHandler() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok"})
	}
}

// ReadinessHandler answers 200 when ready and 503 otherwise.
func (c *Checker) ReadinessHandler() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		rep, ok := c.Check(ctx.UserContext())
		status := fiber.StatusOK
		if !ok {
			status = fiber.StatusServiceUnavailable
		}
		return ctx.Status(status).JSON(rep)
	}
}
