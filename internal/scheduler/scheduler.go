// Package scheduler runs the engine's periodic background work, currently
// just the incremental resync.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// Scheduler manages background interval tasks.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
}

// New creates a new scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Every registers a task to run at a fixed interval. Task failures are
// logged, not fatal; the next interval retries.
func (s *Scheduler) Every(interval time.Duration, name string, task TaskFunc) error {
	run := func() {
		start := time.Now()
		if err := task(context.Background()); err != nil {
			s.logger.Warn().Err(err).Str("task", name).Msg("task failed")
			return
		}
		s.logger.Debug().
			Str("task", name).
			Dur("duration", time.Since(start)).
			Msg("task completed")
	}

	_, err := s.gocron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(run),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %q: %w", name, err)
	}
	return nil
}

// Start begins executing registered tasks.
func (s *Scheduler) Start() {
	s.gocron.Start()
}

// Stop shuts the scheduler down, waiting for running tasks.
func (s *Scheduler) Stop() error {
	return s.gocron.Shutdown()
}
