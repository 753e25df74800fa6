// Package session owns the dashboard's in-memory authentication state:
// session tokens and per-client rate-limit windows.
//
// A Registry is created once at startup and handed to the HTTP handlers and
// to the scheduler, which runs Sweep periodically. All methods are safe for
// concurrent use.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRateLimitRetention is how long the sweeper keeps request timestamps.
// It bounds the largest window any caller may pass to Allow.
const DefaultRateLimitRetention = 600 * time.Second

// Config controls session lifetime and persistence.
type Config struct {
	// SessionTimeout is the idle time after which a token is invalid.
	SessionTimeout time.Duration
	// RateLimitRetention is the trailing window the sweeper keeps.
	RateLimitRetention time.Duration
	// SnapshotPath, when set, is where sessions survive restarts.
	SnapshotPath string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// SweepResult reports what a sweep removed.
type SweepResult struct {
	SessionsRemoved  int `json:"sessions_removed"`
	KeysRemoved      int `json:"keys_removed"`
	TimestampsPruned int `json:"timestamps_pruned"`
}

// Empty reports whether the sweep changed nothing.
func (r SweepResult) Empty() bool {
	return r.SessionsRemoved == 0 && r.KeysRemoved == 0 && r.TimestampsPruned == 0
}

// Registry tracks session tokens (token -> last seen) and rate-limit
// windows (key -> ordered request times).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	limits   map[string][]time.Time
	dirty    bool

	// ioMu serializes snapshot writes without holding mu during disk I/O.
	ioMu sync.Mutex

	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	if cfg.RateLimitRetention <= 0 {
		cfg.RateLimitRetention = DefaultRateLimitRetention
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]time.Time),
		limits:   make(map[string][]time.Time),
		cfg:      cfg,
		now:      now,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// SessionTimeout returns the configured idle timeout.
func (r *Registry) SessionTimeout() time.Duration {
	return r.cfg.SessionTimeout
}

// CreateSession mints a new random token and records it as seen now.
func (r *Registry) CreateSession() (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.sessions[token] = r.now()
	r.dirty = true
	r.mu.Unlock()

	r.flush()
	return token, nil
}

// Authenticate reports whether token names a live session. A live session
// is refreshed; an expired one is evicted.
func (r *Registry) Authenticate(token string) bool {
	if token == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen, ok := r.sessions[token]
	if !ok {
		return false
	}
	now := r.now()
	if now.Sub(seen) < r.cfg.SessionTimeout {
		r.sessions[token] = now
		r.dirty = true
		return true
	}
	delete(r.sessions, token)
	r.dirty = true
	return false
}

// DeleteSession removes a token. Unknown tokens are ignored.
func (r *Registry) DeleteSession(token string) {
	r.mu.Lock()
	_, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
		r.dirty = true
	}
	r.mu.Unlock()

	if ok {
		r.flush()
	}
}

// Allow records a request for ip/action and reports whether it fits in a
// sliding window of max requests per window. Rejected requests are not
// recorded.
func (r *Registry) Allow(ip, action string, max int, window time.Duration) bool {
	key := limitKey(ip, action)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	kept := pruneBefore(r.limits[key], now, window)
	if len(kept) >= max {
		if len(kept) == 0 {
			delete(r.limits, key)
		} else {
			r.limits[key] = kept
		}
		return false
	}
	r.limits[key] = append(kept, now)
	return true
}

// ResetLimit forgets all requests recorded for ip/action.
func (r *Registry) ResetLimit(ip, action string) {
	r.mu.Lock()
	delete(r.limits, limitKey(ip, action))
	r.mu.Unlock()
}

// Sweep prunes expired state: request timestamps older than the retention
// window (dropping keys left empty) and sessions idle longer than the
// session timeout. Running it twice in a row is a no-op the second time.
func (r *Registry) Sweep() SweepResult {
	var res SweepResult

	r.mu.Lock()
	now := r.now()
	for key, stamps := range r.limits {
		kept := pruneBefore(stamps, now, r.cfg.RateLimitRetention)
		res.TimestampsPruned += len(stamps) - len(kept)
		if len(kept) == 0 {
			delete(r.limits, key)
			res.KeysRemoved++
			continue
		}
		r.limits[key] = kept
	}
	for token, seen := range r.sessions {
		if now.Sub(seen) > r.cfg.SessionTimeout {
			delete(r.sessions, token)
			res.SessionsRemoved++
		}
	}
	if res.SessionsRemoved > 0 {
		r.dirty = true
	}
	r.mu.Unlock()

	r.flush()

	if !res.Empty() {
		r.logger.Debug().
			Int("sessions_removed", res.SessionsRemoved).
			Int("keys_removed", res.KeysRemoved).
			Int("timestamps_pruned", res.TimestampsPruned).
			Msg("expired entries swept")
	}
	return res
}

// SessionCount returns the number of tracked sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RateLimitKeyCount returns the number of tracked rate-limit keys.
func (r *Registry) RateLimitKeyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}

// Snapshot returns copies of both maps.
func (r *Registry) Snapshot() (sessions map[string]time.Time, limits map[string][]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions = make(map[string]time.Time, len(r.sessions))
	for k, v := range r.sessions {
		sessions[k] = v
	}
	limits = make(map[string][]time.Time, len(r.limits))
	for k, v := range r.limits {
		limits[k] = append([]time.Time(nil), v...)
	}
	return sessions, limits
}

// pruneBefore returns the stamps younger than window, in their original
// order, as a fresh slice.
func pruneBefore(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	var kept []time.Time
	for _, t := range stamps {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}

func limitKey(ip, action string) string {
	return ip + ":" + action
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
