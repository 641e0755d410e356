// Package worker supervises the reconciliation loop.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"udskrivning22/internal/engine"
)

// State is the loop's lifecycle state.
type State string

const (
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Worker runs reconciliation cycles on a fixed interval. Cancelling the
// context requests a stop; the in-flight cycle finishes first, then the
// loop exits without starting another.
type Worker struct {
	Engine   engine.Engine
	Interval time.Duration
	Backoff  time.Duration
	Log      *slog.Logger

	mu    sync.Mutex
	state State
	last  *engine.CycleStats
}

func New(e engine.Engine, interval, backoff time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		Engine:   e,
		Interval: interval,
		Backoff:  backoff,
		Log:      log,
		state:    StateStopped,
	}
}

// Run loops until ctx is cancelled. A failed cycle is retried whole after
// the backoff: the stages re-derive readiness and dedup every pass, so
// re-running completed stages is safe, just cheap wasted work.
func (w *Worker) Run(ctx context.Context) {
	w.setState(StateRunning)
	defer w.setState(StateStopped)
	w.Log.Info("worker started", "interval", w.Interval, "backoff", w.Backoff)

	for {
		if ctx.Err() != nil {
			w.setState(StateStopping)
			w.Log.Info("stop requested, shutting down")
			return
		}
		stats, err := w.Engine.Cycle(ctx)
		w.setLast(stats)
		wait := w.Interval
		if err != nil {
			if ctx.Err() != nil {
				w.setState(StateStopping)
				w.Log.Info("stop requested mid-cycle, shutting down")
				return
			}
			w.Log.Error("cycle failed, backing off", "cycle", stats.ID, "err", err)
			wait = w.Backoff
		}
		if !w.sleep(ctx, wait) {
			w.setState(StateStopping)
			w.Log.Info("stop requested, shutting down")
			return
		}
	}
}

// sleep waits for d or until ctx is cancelled; it reports whether the full
// wait elapsed. Cancellation interrupts the wait immediately, so shutdown
// latency is not tied to the inter-cycle interval.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastCycle returns stats for the most recently finished cycle, or nil
// before the first one completes.
func (w *Worker) LastCycle() *engine.CycleStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) setLast(stats engine.CycleStats) {
	w.mu.Lock()
	w.last = &stats
	w.mu.Unlock()
}
