package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	store, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

// at runs fn with the store clock set daysAgo days in the past.
func at(clock *testClock, daysAgo int, fn func()) {
	saved := clock.t
	clock.t = saved.Add(-time.Duration(daysAgo) * 24 * time.Hour)
	defer func() { clock.t = saved }()
	fn()
}

func count(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestNew_CreatesDB(t *testing.T) {
	store, _ := newTestStore(t)

	tables := []string{"meta", "chat_messages", "chat_messages_archive", "usage", "events"}
	for _, table := range tables {
		var n int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}

	assert.Equal(t, "2", store.schemaVersion())
}

func TestNew_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vessel.db")
	s1, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.SaveChatMessage(context.Background(), "ollama", "", "user", "ciao"))
	require.NoError(t, s1.Close())

	s2, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 1, count(t, s2, "chat_messages"))
}

func TestChatHistory_OrderAndLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, store.SaveChatMessage(ctx, "ollama", "dashboard", "user", content))
	}
	require.NoError(t, store.SaveChatMessage(ctx, "anthropic", "dashboard", "user", "other"))

	msgs, err := store.LoadChatHistory(ctx, "ollama", "dashboard", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestChatHistory_CacheInvalidatedOnSave(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "user", "first"))
	msgs, err := store.LoadChatHistory(ctx, "ollama", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "assistant", "second"))
	msgs, err = store.LoadChatHistory(ctx, "ollama", "", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHistoryCacheStats_FollowsStoreClock(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "user", "hi"))
	for i := 0; i < 2; i++ {
		_, err := store.LoadChatHistory(ctx, "ollama", "", 10)
		require.NoError(t, err)
	}
	st := store.HistoryCacheStats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)

	// entries expire on the store clock, not the wall clock
	clock.t = clock.t.Add(historyCacheTTL)
	_, err := store.LoadChatHistory(ctx, "ollama", "", 10)
	require.NoError(t, err)
	st = store.HistoryCacheStats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
}

func TestClearChatHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChatMessage(ctx, "ollama", "dashboard", "user", "x"))
	require.NoError(t, store.SaveChatMessage(ctx, "ollama", "telegram", "user", "y"))

	n, err := store.ClearChatHistory(ctx, "dashboard")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, count(t, store, "chat_messages"))
}

func TestArchiveOldChats(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	at(clock, 120, func() {
		require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "user", "ancient"))
		require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "assistant", "ancient reply"))
	})
	at(clock, 91, func() {
		require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "user", "just over"))
	})
	at(clock, 89, func() {
		require.NoError(t, store.SaveChatMessage(ctx, "ollama", "", "user", "recent"))
	})

	// warm the cache so we can check it is dropped
	_, err := store.LoadChatHistory(ctx, "ollama", "", 10)
	require.NoError(t, err)

	n, err := store.ArchiveOldChats(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, count(t, store, "chat_messages"))
	assert.Equal(t, 3, count(t, store, "chat_messages_archive"))

	msgs, err := store.LoadChatHistory(ctx, "ollama", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "recent", msgs[0].Content)

	stats, err := store.ChatStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(3), stats.Archived)
	assert.Equal(t, int64(1), stats.ByProvider["ollama"])

	// nothing left to archive
	n, err = store.ArchiveOldChats(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestArchiveOldUsage(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	at(clock, 200, func() {
		require.NoError(t, store.LogUsage(ctx, UsageRecord{InputTokens: 10, OutputTokens: 5, Model: "gemma3:4b", Provider: "ollama"}))
	})
	at(clock, 100, func() {
		require.NoError(t, store.LogUsage(ctx, UsageRecord{InputTokens: 20, OutputTokens: 7, Model: "gemma3:4b", Provider: "ollama"}))
	})

	n, err := store.ArchiveOldUsage(ctx, 180)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, count(t, store, "usage"))

	totals, err := store.UsageSince(ctx, 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Calls)
	assert.Equal(t, int64(20), totals.InputTokens)
}

func TestCleanupOldEvents(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	at(clock, 95, func() {
		require.NoError(t, store.LogEvent(ctx, Event{Action: "login", Actor: "1.2.3.4"}))
	})
	require.NoError(t, store.LogEvent(ctx, Event{Action: "logout", Actor: "1.2.3.4"}))

	n, err := store.CleanupOldEvents(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := store.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "logout", events[0].Action)
	assert.Equal(t, "ok", events[0].Status)
}

func TestListEvents_Filter(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogEvent(ctx, Event{Action: "login_fail", Actor: "a"}))
	require.NoError(t, store.LogEvent(ctx, Event{Action: "login", Actor: "a"}))
	require.NoError(t, store.LogEvent(ctx, Event{Action: "login_fail", Actor: "b"}))

	events, err := store.ListEvents(ctx, EventFilter{Action: "login_fail"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Actor, "newest first")

	events, err = store.ListEvents(ctx, EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestArchive_ErrorsAreStoreErrors(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.ArchiveOldUsage(context.Background(), 180)
	require.Error(t, err)

	var storeErr *apperrors.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "archive_usage", storeErr.Op)
}

func TestDBSizeBytes(t *testing.T) {
	store, _ := newTestStore(t)
	size, err := store.DBSizeBytes(context.Background())
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
