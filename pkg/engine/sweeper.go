package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dripline/dripline/pkg/persistence"
)

const defaultSweepInterval = 10 * time.Second

// Sweeper polls for suspended Runs whose resume time has passed and hands
// them back to the engine. Delay precision is bounded by the sweep interval.
type Sweeper struct {
	engine      *Engine
	persistence persistence.Persistence
	logger      *slog.Logger
	interval    time.Duration
	cron        *cron.Cron
}

func NewSweeper(engine *Engine, p persistence.Persistence, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		engine:      engine,
		persistence: p,
		logger:      logger.With("module", "sweeper"),
		interval:    interval,
		cron:        cron.New(),
	}
}

// Start schedules the sweep job and runs it until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)

	_, err := s.cron.AddFunc(spec, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Sweeper started", "interval", s.interval)

	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Sweeper stopped")
}

// Sweep resumes every due Run once. Exported so tests and the CLI can drive
// a sweep without the schedule.
func (s *Sweeper) Sweep(ctx context.Context) error {
	due, err := s.persistence.RunRepository().DueRuns(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to list due runs: %w", err)
	}

	for _, run := range due {
		if err := s.engine.Resume(ctx, run.ID); err != nil {
			// One stuck Run must not starve the rest of the batch.
			s.logger.Error("Failed to resume run", "run_id", run.ID, "error", err)
		}
	}

	if len(due) > 0 {
		s.logger.Debug("Sweep finished", "resumed", len(due))
	}

	return nil
}
