// Package scheduler runs in-process periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a named task run every Interval.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool // also run once immediately after Start
	Run        func(ctx context.Context) error
}

// ResultFunc observes every job execution (metrics hook).
type ResultFunc func(job string, err error, took time.Duration)

// Scheduler owns one ticker goroutine per job.
type Scheduler struct {
	jobs     []Job
	logger   zerolog.Logger
	onResult ResultFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Scheduler. Jobs with a non-positive interval are rejected
// by Start.
func New(logger zerolog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// OnResult registers fn to be called after each job execution.
func (s *Scheduler) OnResult(fn ResultFunc) {
	s.onResult = fn
}

// Start launches the job loops. They stop when ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %q: interval must be positive", job.Name)
		}
		if job.Run == nil {
			return fmt.Errorf("job %q: no run function", job.Name)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	return nil
}

// Stop cancels all job loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")

	if job.RunOnStart {
		s.execute(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("job", job.Name).Msg("job stopped")
			return
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

// execute runs one job, turning panics into errors so a bad run never
// takes the process down.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(ctx)
	}()
	took := time.Since(start)

	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("job", job.Name).Dur("took", took).Msg("job failed")
	} else {
		s.logger.Debug().Str("job", job.Name).Dur("took", took).Msg("job finished")
	}

	if s.onResult != nil {
		s.onResult(job.Name, err, took)
	}
}
