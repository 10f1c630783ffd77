package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const runTimeout = 5 * time.Minute

// Worker checks on a cron schedule whether an auto sync is due.
type Worker struct {
	cron   *cron.Cron
	rec    *Reconciler
	logger *slog.Logger
}

// NewWorker schedules MaybeAutoSync. schedule accepts standard cron specs
// and descriptors such as "@every 5m".
func NewWorker(rec *Reconciler, schedule string, logger *slog.Logger) (*Worker, error) {
	w := &Worker{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		rec:    rec,
		logger: logger,
	}
	if _, err := w.cron.AddFunc(schedule, w.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid auto sync schedule %q: %w", schedule, err)
	}
	return w, nil
}

func (w *Worker) Start() {
	w.cron.Start()
	w.logger.Debug("auto sync worker started")
}

// Stop stops scheduling and returns a context done when a running check ends.
func (w *Worker) Stop() context.Context {
	return w.cron.Stop()
}

// RunOnce performs one scheduled check.
func (w *Worker) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	ran, n, err := w.rec.MaybeAutoSync(ctx)
	if err != nil {
		w.logger.Error("auto sync failed", "error", err)
		return
	}
	if ran {
		w.logger.Info("auto sync complete", "synced", n)
	}
}
