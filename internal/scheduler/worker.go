package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samhotchkiss/otter-relay/internal/relaymetrics"
	"github.com/samhotchkiss/otter-relay/internal/store"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepTimeout  = 30 * time.Second
)

// ExpiryWorkerConfig configures an ExpiryWorker.
type ExpiryWorkerConfig struct {
	Schedule ScheduleSpec
	// RunTimeout bounds a single purge.
	RunTimeout time.Duration
}

// ExpiryWorker deletes expired conversation records from stores that do
// not expire keys on their own.
type ExpiryWorker struct {
	Purger store.Purger
	Config ExpiryWorkerConfig
	Now    func() time.Time
	Logger *slog.Logger
}

func NewExpiryWorker(purger store.Purger, cfg ExpiryWorkerConfig) *ExpiryWorker {
	if cfg.Schedule.Kind == "" {
		cfg.Schedule = Every(defaultSweepInterval)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultSweepTimeout
	}
	return &ExpiryWorker{
		Purger: purger,
		Config: cfg,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start sweeps on the configured schedule until ctx is done.
func (w *ExpiryWorker) Start(ctx context.Context) {
	for {
		next, err := ComputeNextRun(w.Config.Schedule, w.now())
		if err != nil {
			w.logger().Error("expiry sweep schedule invalid", "err", err)
			return
		}
		if err := sleepWithContext(ctx, next.Sub(w.now())); err != nil {
			return
		}
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger().Warn("expiry sweep failed", "err", err)
		}
	}
}

// RunOnce purges everything expired as of now.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (int64, error) {
	if w == nil || w.Purger == nil {
		return 0, fmt.Errorf("expiry worker is not configured")
	}

	runCtx, cancel := context.WithTimeout(ctx, w.Config.RunTimeout)
	defer cancel()

	removed, err := w.Purger.PurgeExpired(runCtx, w.now())
	relaymetrics.RecordSweep(removed, err)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		w.logger().Info("purged expired sessions", "count", removed)
	}
	return removed, nil
}

func (w *ExpiryWorker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

func (w *ExpiryWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
