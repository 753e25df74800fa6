package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
)

var (
	errBusy       = apperrors.NewStoreError("archive_chats", errors.New("database is locked (5) (SQLITE_BUSY)"))
	errTableLock  = apperrors.NewStoreError("purge_usage", errors.New("database table is locked (262)"))
	errConstraint = apperrors.NewStoreError("archive_chats", errors.New("constraint failed: NOT NULL constraint failed: chat_messages_archive.ts (1299)"))
)

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

// failing returns a step that fails with errs in order, then succeeds.
func failing(calls *int, errs ...error) func(context.Context) error {
	return func(ctx context.Context) error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}
}

func TestDo_StoreErrors(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "clean step", attempts: 3, wantCalls: 1},
		{name: "busy then committed", attempts: 3, errs: []error{errBusy, errBusy}, wantCalls: 3},
		{name: "table lock then committed", attempts: 3, errs: []error{errTableLock}, wantCalls: 2},
		{name: "busy past last attempt", attempts: 2, errs: []error{errBusy, errBusy, errBusy}, wantCalls: 2, wantErr: errBusy},
		{name: "constraint fails fast", attempts: 3, errs: []error{errConstraint}, wantCalls: 1, wantErr: errConstraint},
		{name: "zero attempts still runs once", attempts: 0, errs: []error{errBusy}, wantCalls: 1, wantErr: errBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(tt.attempts), failing(&calls, tt.errs...))
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			var se *apperrors.StoreError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestDo_StopsWhenArchiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fast(3), failing(&calls, errBusy, errBusy))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, backoff(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, backoff(cfg, 1))
	assert.Equal(t, 300*time.Millisecond, backoff(cfg, 5))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := backoff(cfg, 1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}
