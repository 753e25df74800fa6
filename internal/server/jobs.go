package server

import (
	"context"
	"time"

	"github.com/p-blackswan/vessel-dashboard/internal/cleanup"
	"github.com/p-blackswan/vessel-dashboard/internal/scheduler"
	"github.com/p-blackswan/vessel-dashboard/internal/session"
)

// Job names, also used as metric labels.
const (
	JobSweepExpired   = "sweep-expired"
	JobArchiveOldData = "archive-old-data"
	JobBroadcastStats = "broadcast-stats"
)

// SweepExpired drops expired sessions and stale rate-limit windows.
func (s *Server) SweepExpired(context.Context) session.SweepResult {
	res := s.registry.Sweep()
	if s.metrics != nil {
		s.metrics.RecordSweep(res.SessionsRemoved, res.KeysRemoved, res.TimestampsPruned)
		s.metrics.SetSessions(s.registry.SessionCount())
	}
	return res
}

// ArchiveOldData runs one archival pass.
func (s *Server) ArchiveOldData(ctx context.Context) (cleanup.Report, error) {
	rep, err := s.archiver.Run(ctx)
	if s.metrics != nil {
		s.metrics.RecordArchive(rep.ArchivedChats, rep.PurgedUsage, rep.PurgedEvents)
	}
	return rep, err
}

// BroadcastStats pushes a stats message to every WebSocket client.
func (s *Server) BroadcastStats(ctx context.Context) error {
	if s.hub.Count() == 0 {
		return nil
	}
	st, err := s.collectStats(ctx)
	if err != nil {
		return err
	}
	s.hub.Broadcast(message{Type: "stats", Data: st})
	return nil
}

// Jobs returns the background jobs the server needs.
func (s *Server) Jobs(sweepEvery, archiveEvery, statsEvery time.Duration) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:     JobSweepExpired,
			Interval: sweepEvery,
			Run: func(ctx context.Context) error {
				s.SweepExpired(ctx)
				return nil
			},
		},
		{
			Name:       JobArchiveOldData,
			Interval:   archiveEvery,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := s.ArchiveOldData(ctx)
				return err
			},
		},
		{
			Name:     JobBroadcastStats,
			Interval: statsEvery,
			Run:      s.BroadcastStats,
		},
	}
}
