package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 7 * 24 * time.Hour

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, snapshot string) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(Config{
		SessionTimeout: testTimeout,
		SnapshotPath:   snapshot,
		Now:            clock.Now,
	}, zerolog.Nop())
	return r, clock
}

func TestSweep_PrunesOldTimestamps(t *testing.T) {
	r, clock := newTestRegistry(t, "")
	now := clock.Now()
	r.limits["1.2.3.4"] = []time.Time{now.Add(-700 * time.Second), now.Add(-10 * time.Second)}

	res := r.Sweep()

	_, limits := r.Snapshot()
	assert.Equal(t, map[string][]time.Time{"1.2.3.4": {now.Add(-10 * time.Second)}}, limits)
	assert.Equal(t, 1, res.TimestampsPruned)
	assert.Equal(t, 0, res.KeysRemoved)
}

func TestSweep_RemovesEmptiedKeys(t *testing.T) {
	r, clock := newTestRegistry(t, "")
	now := clock.Now()
	r.limits["5.6.7.8:auth"] = []time.Time{now.Add(-601 * time.Second), now.Add(-600 * time.Second)}
	r.limits["9.9.9.9:chat"] = []time.Time{now.Add(-1 * time.Second)}

	res := r.Sweep()

	_, limits := r.Snapshot()
	assert.NotContains(t, limits, "5.6.7.8:auth")
	assert.Contains(t, limits, "9.9.9.9:chat")
	assert.Equal(t, 1, res.KeysRemoved)
	assert.Equal(t, 2, res.TimestampsPruned)
}

func TestSweep_RetainedTimestampsAreYoung(t *testing.T) {
	r, clock := newTestRegistry(t, "")
	now := clock.Now()
	for i := 0; i < 50; i++ {
		key := "10.0.0." + string(rune('a'+i%26))
		r.limits[key] = append(r.limits[key], now.Add(-time.Duration(i*30)*time.Second))
	}

	r.Sweep()

	_, limits := r.Snapshot()
	for key, stamps := range limits {
		require.NotEmpty(t, stamps, key)
		for _, ts := range stamps {
			assert.Less(t, now.Sub(ts), 600*time.Second, key)
		}
	}
}

func TestSweep_ExpiresSessions(t *testing.T) {
	r, clock := newTestRegistry(t, "")
	now := clock.Now()
	r.sessions["tok1"] = now.Add(-testTimeout - time.Second)
	r.sessions["tok2"] = now.Add(-testTimeout)
	r.sessions["tok3"] = now.Add(-time.Minute)

	res := r.Sweep()

	sessions, _ := r.Snapshot()
	assert.NotContains(t, sessions, "tok1")
	// exactly at the timeout is still kept by the sweeper
	assert.Contains(t, sessions, "tok2")
	assert.Contains(t, sessions, "tok3")
	assert.Equal(t, 1, res.SessionsRemoved)
	for _, seen := range sessions {
		assert.LessOrEqual(t, now.Sub(seen), testTimeout)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	r, clock := newTestRegistry(t, "")
	now := clock.Now()
	r.limits["a"] = []time.Time{now.Add(-900 * time.Second), now.Add(-5 * time.Second)}
	r.limits["b"] = []time.Time{now.Add(-900 * time.Second)}
	r.sessions["old"] = now.Add(-testTimeout - time.Hour)
	r.sessions["new"] = now

	r.Sweep()
	s1, l1 := r.Snapshot()

	second := r.Sweep()
	s2, l2 := r.Snapshot()

	assert.Equal(t, s1, s2)
	assert.Equal(t, l1, l2)
	assert.True(t, second.Empty())
}

func TestSweep_EmptyRegistry(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	assert.True(t, r.Sweep().Empty())
}

func TestAllow_SlidingWindow(t *testing.T) {
	r, clock := newTestRegistry(t, "")

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("1.1.1.1", "chat", 3, time.Minute))
	}
	assert.False(t, r.Allow("1.1.1.1", "chat", 3, time.Minute))

	// other actions and other clients have their own windows
	assert.True(t, r.Allow("1.1.1.1", "file", 3, time.Minute))
	assert.True(t, r.Allow("2.2.2.2", "chat", 3, time.Minute))

	clock.Advance(61 * time.Second)
	assert.True(t, r.Allow("1.1.1.1", "chat", 3, time.Minute))
}

func TestSweep_KeepsLockoutUntilWindowEnds(t *testing.T) {
	r, clock := newTestRegistry(t, "")
	window := DefaultRateLimitRetention

	assert.True(t, r.Allow("3.3.3.3", "auth", 1, window))
	assert.False(t, r.Allow("3.3.3.3", "auth", 1, window))

	clock.Advance(window - time.Second)
	r.Sweep()
	assert.False(t, r.Allow("3.3.3.3", "auth", 1, window), "sweep lifted lockout early")

	clock.Advance(time.Second)
	r.Sweep()
	assert.True(t, r.Allow("3.3.3.3", "auth", 1, window))
}

func TestAllow_RejectedRequestsNotRecorded(t *testing.T) {
	r, _ := newTestRegistry(t, "")

	assert.True(t, r.Allow("ip", "auth", 1, time.Minute))
	for i := 0; i < 5; i++ {
		assert.False(t, r.Allow("ip", "auth", 1, time.Minute))
	}

	_, limits := r.Snapshot()
	assert.Len(t, limits["ip:auth"], 1)
}

func TestAllow_ZeroMaxLeavesNoEmptyKey(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	assert.False(t, r.Allow("ip", "closed", 0, time.Minute))
	assert.Equal(t, 0, r.RateLimitKeyCount())
}

func TestResetLimit(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	assert.True(t, r.Allow("ip", "auth", 1, time.Minute))
	assert.False(t, r.Allow("ip", "auth", 1, time.Minute))

	r.ResetLimit("ip", "auth")
	assert.True(t, r.Allow("ip", "auth", 1, time.Minute))
}

func TestAuthenticate_RefreshesAndExpires(t *testing.T) {
	r, clock := newTestRegistry(t, "")

	token, err := r.CreateSession()
	require.NoError(t, err)
	assert.Len(t, token, 43)

	clock.Advance(testTimeout - time.Hour)
	assert.True(t, r.Authenticate(token))

	// refreshed, so another almost-full timeout is fine
	clock.Advance(testTimeout - time.Hour)
	assert.True(t, r.Authenticate(token))

	clock.Advance(testTimeout)
	assert.False(t, r.Authenticate(token))
	assert.Equal(t, 0, r.SessionCount())
}

func TestAuthenticate_Unknown(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	assert.False(t, r.Authenticate(""))
	assert.False(t, r.Authenticate("nope"))
}

func TestDeleteSession(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	token, err := r.CreateSession()
	require.NoError(t, err)

	r.DeleteSession(token)
	assert.False(t, r.Authenticate(token))
	r.DeleteSession("never-existed")
}

func TestCreateSession_Unique(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := r.CreateSession()
		require.NoError(t, err)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
	assert.Equal(t, 100, r.SessionCount())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(Config{SessionTimeout: time.Hour}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tok, _ := r.CreateSession()
				r.Authenticate(tok)
				r.Allow("ip", "x", 1000, time.Minute)
				if j%50 == 0 {
					r.Sweep()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1600, r.SessionCount())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r, clock := newTestRegistry(t, path)

	token, err := r.CreateSession()
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := NewRegistry(Config{SessionTimeout: testTimeout, SnapshotPath: path, Now: clock.Now}, zerolog.Nop())
	require.NoError(t, restored.Load())
	assert.True(t, restored.Authenticate(token))
}

func TestSnapshot_SweepPersistsRemovals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r, clock := newTestRegistry(t, path)

	token, err := r.CreateSession()
	require.NoError(t, err)
	clock.Advance(testTimeout + time.Second)
	assert.Equal(t, 1, r.Sweep().SessionsRemoved)

	restored := NewRegistry(Config{SessionTimeout: testTimeout, SnapshotPath: path, Now: clock.Now}, zerolog.Nop())
	require.NoError(t, restored.Load())
	assert.Equal(t, 0, restored.SessionCount())
	assert.False(t, restored.Authenticate(token))
}

func TestLoad_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRegistry(t, filepath.Join(dir, "absent.json"))
	assert.NoError(t, r.Load())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	r2, _ := newTestRegistry(t, bad)
	assert.NoError(t, r2.Load())
	assert.Equal(t, 0, r2.SessionCount())
}

func TestLoad_LegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"legacy-token": 1772366400.5}`), 0o600))

	r, _ := newTestRegistry(t, path)
	require.NoError(t, r.Load())

	sessions, _ := r.Snapshot()
	require.Contains(t, sessions, "legacy-token")
	assert.Equal(t, int64(1772366400), sessions["legacy-token"].Unix())
}
