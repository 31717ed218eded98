package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner re-runs the pipeline on a fixed interval in the background.
type Runner struct {
	pipeline *Pipeline
	interval time.Duration
	onStart  bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner returns a runner that runs p every interval, and once right away
// when onStart is set. interval <= 0 disables the periodic runs.
func NewRunner(p *Pipeline, interval time.Duration, onStart bool) *Runner {
	return &Runner{
		pipeline: p,
		interval: interval,
		onStart:  onStart,
	}
}

func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	if !r.onStart && r.interval <= 0 {
		slog.Info("pipeline runner idle", "reason", "no initial run and no interval")
		return
	}
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	slog.Info("starting pipeline runner", "interval", r.interval, "on_start", r.onStart)

	if r.onStart {
		r.runOnce(ctx)
	}
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline runner shutting down")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	res, err := r.pipeline.Run(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		slog.Warn("skipping scheduled run", "reason", err)
	case err != nil:
		if ctx.Err() == nil {
			slog.Error("scheduled pipeline run failed", "error", err)
		}
	default:
		slog.Info("scheduled pipeline run complete", "run_id", res.RunID, "pairs", res.Pairs)
	}
}

// Stop cancels any in-flight run and waits for the loop to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	slog.Info("pipeline runner stopped")
}
