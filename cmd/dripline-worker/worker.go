package main

import (
	"context"
	"log/slog"

	"github.com/dripline/dripline/pkg/engine"
)

// Worker runs the trigger matcher and the resume sweeper until the context
// is cancelled, then drains in-flight Runs.
type Worker struct {
	id      string
	matcher *engine.TriggerMatcher
	sweeper *engine.Sweeper
	logger  *slog.Logger
}

func NewWorker(id string, matcher *engine.TriggerMatcher, sweeper *engine.Sweeper, logger *slog.Logger) *Worker {
	return &Worker{
		id:      id,
		matcher: matcher,
		sweeper: sweeper,
		logger:  logger,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.sweeper.Start(ctx); err != nil {
		return err
	}

	if err := w.matcher.Start(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started")

	<-ctx.Done()

	w.logger.Info("Shutting down, draining in-flight runs")
	w.sweeper.Stop()
	w.matcher.Wait()

	return nil
}
