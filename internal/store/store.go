// Package store persists dashboard data (chat history, token usage and
// audit events) in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/vessel-dashboard/internal/lru"
)

const (
	historyCacheSize = 64
	historyCacheTTL  = 10 * time.Minute
)

// HistoryCacheStats reports the chat-history cache.
type HistoryCacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Store manages the SQLite database
type Store struct {
	db      *sql.DB
	logger  zerolog.Logger
	mu      sync.RWMutex
	now     func() time.Time
	history *lru.Cache[string, []ChatMessage]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for row timestamps and archival cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = lru.New[string, []ChatMessage](historyCacheSize,
		lru.WithTTL(historyCacheTTL), lru.WithClock(s.now))

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("store initialized")
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection (for testing)
func (s *Store) DB() *sql.DB {
	return s.db
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// HistoryCacheStats returns the size and counters of the chat-history cache.
func (s *Store) HistoryCacheStats() HistoryCacheStats {
	st := s.history.Stats()
	return HistoryCacheStats{
		Entries:   s.history.Len(),
		Hits:      st.Hits,
		Misses:    st.Misses,
		Evictions: st.Evictions,
	}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// cutoffMillis is the timestamp before which rows are older than days.
func (s *Store) cutoffMillis(days int) int64 {
	return s.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
}
