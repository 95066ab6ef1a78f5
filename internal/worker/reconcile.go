package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/level-leaderboard/internal/config"
)

// StatsReconciler repairs player aggregates that drifted from their completions
type StatsReconciler interface {
	ReconcileStats(ctx context.Context) (int64, error)
}

// ReconcileWorker periodically recomputes player totals from level completions
type ReconcileWorker struct {
	store   StatsReconciler
	config  *config.ReconcileConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(store StatsReconciler, cfg *config.ReconcileConfig, logger *slog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		store:  store,
		config: cfg,
		logger: logger.With("component", "reconcile_worker"),
	}
}

// Start begins the background reconcile loop
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("reconcile worker started", "interval", w.config.Interval)

	go w.run(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop stops the background loop and waits for an in-flight cycle
func (w *ReconcileWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.logger.Info("reconcile worker stopped")
	return nil
}

func (w *ReconcileWorker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single reconcile cycle and returns the number of repaired players
func (w *ReconcileWorker) RunOnce(ctx context.Context) int64 {
	start := time.Now()

	repaired, err := w.store.ReconcileStats(ctx)
	if err != nil {
		w.logger.Error("reconcile cycle failed", "error", err)
		return 0
	}

	if repaired > 0 {
		w.logger.Warn("repaired drifted player stats", "players", repaired, "duration", time.Since(start))
	} else {
		w.logger.Debug("reconcile cycle completed", "duration", time.Since(start))
	}
	return repaired
}

// IsRunning returns whether the worker is currently running
func (w *ReconcileWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
