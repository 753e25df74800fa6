// Package cleanup runs the periodic age-based archival of persisted
// dashboard data.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/vessel-dashboard/internal/retry"
)

// Retention thresholds. They apply uniformly to every row of a set.
const (
	ChatRetentionDays  = 90
	UsageRetentionDays = 180
	EventRetentionDays = 90
)

// ArchiveStore is the slice of the persistent store the archiver drives.
// Each call returns the number of rows it moved or deleted.
type ArchiveStore interface {
	ArchiveOldChats(ctx context.Context, days int) (int64, error)
	ArchiveOldUsage(ctx context.Context, days int) (int64, error)
	CleanupOldEvents(ctx context.Context, days int) (int64, error)
}

// Report is the outcome of one archival run.
type Report struct {
	ArchivedChats int64         `json:"archived_chats"`
	PurgedUsage   int64         `json:"purged_usage"`
	PurgedEvents  int64         `json:"purged_events"`
	Duration      time.Duration `json:"duration_ns"`
}

// String renders the human-readable summary line.
func (r Report) String() string {
	return fmt.Sprintf("[Cleanup] Archiviati %d chat, purged %d usage, %d events",
		r.ArchivedChats, r.PurgedUsage, r.PurgedEvents)
}

// Total is the number of rows touched.
func (r Report) Total() int64 {
	return r.ArchivedChats + r.PurgedUsage + r.PurgedEvents
}

// Archiver archives chats and purges usage and events past retention.
type Archiver struct {
	store  ArchiveStore
	retry  retry.Config // SQLITE_BUSY is retried before a step counts as failed
	logger zerolog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver over store.
func NewArchiver(store ArchiveStore, logger zerolog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		retry:  retry.DefaultConfig(),
		logger: logger.With().Str("component", "cleanup").Logger(),
		now:    time.Now,
	}
}

// Run archives chats older than 90 days, then purges usage older than 180
// days, then events older than 90 days. The first failure aborts the run
// and is returned; later steps are not attempted. Lock contention is
// retried with backoff before it counts as a failure.
func (a *Archiver) Run(ctx context.Context) (Report, error) {
	var rep Report
	start := a.now()

	steps := []struct {
		name string
		days int
		fn   func(context.Context, int) (int64, error)
		dst  *int64
	}{
		{"archive chats", ChatRetentionDays, a.store.ArchiveOldChats, &rep.ArchivedChats},
		{"archive usage", UsageRetentionDays, a.store.ArchiveOldUsage, &rep.PurgedUsage},
		{"purge events", EventRetentionDays, a.store.CleanupOldEvents, &rep.PurgedEvents},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		var n int64
		err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
			var err error
			n, err = step.fn(ctx, step.days)
			return err
		})
		if err != nil {
			return rep, fmt.Errorf("%s: %w", step.name, err)
		}
		*step.dst = n
	}

	rep.Duration = a.now().Sub(start)

	a.logger.Info().
		Int64("archived_chats", rep.ArchivedChats).
		Int64("purged_usage", rep.PurgedUsage).
		Int64("purged_events", rep.PurgedEvents).
		Dur("duration", rep.Duration).
		Msg(rep.String())

	return rep, nil
}
