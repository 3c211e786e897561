// Package janitor removes expired sessions on a cron schedule. Expired
// sessions are already rejected at validation time; the sweep only keeps
// the sessions table from growing without bound.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single prune.
const sweepTimeout = 2 * time.Minute

// Pruner deletes expired sessions and reports how many were removed.
type Pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// Janitor owns the cron scheduler that drives periodic sweeps.
type Janitor struct {
	pruner   Pruner
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Janitor for schedule, which accepts standard five-field
// cron expressions and descriptors such as "@every 15m". An empty schedule
// disables sweeping and returns a nil Janitor, which is safe to Start and
// Shutdown.
func New(p Pruner, schedule string, logger *slog.Logger) (*Janitor, error) {
	if schedule == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		pruner:   p,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())

	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		j.cancel()
		return nil, fmt.Errorf("janitor: invalid schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running sweeps on the schedule. Non-blocking.
func (j *Janitor) Start() {
	if j == nil {
		return
	}
	j.cron.Start()
	j.logger.Info("session janitor started", "schedule", j.schedule)
}

// Shutdown stops the scheduler, cancels an in-flight sweep and waits for it
// to return.
func (j *Janitor) Shutdown() {
	if j == nil {
		return
	}
	j.cancel()
	<-j.cron.Stop().Done()
	j.logger.Info("session janitor stopped")
}

// Sweep prunes expired sessions once.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := j.pruner.PruneExpired(ctx)
	if err != nil {
		j.logger.Error("session sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		j.logger.Info("expired sessions pruned", "count", n, "duration_ms", time.Since(start).Milliseconds())
	} else {
		j.logger.Debug("session sweep found nothing to prune")
	}
	return n, nil
}

func (j *Janitor) run() {
	if j.ctx.Err() != nil {
		return
	}
	_, _ = j.Sweep(j.ctx)
}
