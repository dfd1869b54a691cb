package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
)

// DefaultPollInterval is the pause between two poll cycles of one worker.
const DefaultPollInterval = 15 * time.Second

// WorkerState is the lifecycle state of a Worker.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker polls on behalf of a single user until that user's record disappears from the store.
// It implements suture.Service; returning suture.ErrDoNotRestart is its only terminal exit.
type Worker struct {
	userID   string
	store    *Store
	tokens   *TokenLifecycle
	poller   *EventPoller
	handler  EventHandler
	interval time.Duration
	logger   *slog.Logger

	// detach is asked for permission to stop once the user is gone. It returns false if the
	// user was registered again in the meantime, in which case the worker keeps going.
	detach func(userID string) bool

	state atomic.Int32
}

// Serve runs the poll loop. Every failure inside a cycle is logged and the loop continues.
func (w *Worker) Serve(ctx context.Context) error {
	workersRunning.Inc()
	defer workersRunning.Dec()

	w.state.Store(int32(WorkerRunning))
	w.logger.Info("monitoring started")

	for {
		if !w.cycle(ctx) {
			w.state.Store(int32(WorkerStopped))
			w.logger.Info("user was removed, stopping monitoring")
			return suture.ErrDoNotRestart
		}

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.state.Store(int32(WorkerStopped))
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// cycle runs one read → refresh → poll → dispatch pass. It returns false when the user is gone.
func (w *Worker) cycle(ctx context.Context) bool {
	rec, ok := w.store.Get(ctx, w.userID)
	if !ok {
		if w.detach == nil || w.detach(w.userID) {
			return false
		}
		// Re-registered between the read and the detach; pick the new record up next cycle.
		return true
	}

	cred, refreshed, err := w.tokens.EnsureFresh(ctx, rec)
	switch {
	case err != nil:
		w.logger.Error("failed to refresh token", "error", err)
	case refreshed:
		w.logger.Info("refreshed expiring token", "expires_at", cred.ExpiresAt())
	}
	rec.Credential = cred

	if !rec.Ready() {
		pollCycles.WithLabelValues("idle").Inc()
		w.logger.Debug("skipping poll, no devices or project configured")
		return true
	}

	// The refresh may have taken a while; do not poll for a user deleted meanwhile.
	if !w.store.Exists(w.userID) {
		return w.cycle(ctx)
	}

	result := w.poller.Poll(ctx, rec)
	if result.Unauthorized {
		w.logger.Warn("device API rejected token, attempting refresh")
		if cred, err := w.tokens.Repair(ctx, rec); err != nil {
			w.logger.Error("failed to refresh token", "error", err)
		} else {
			w.logger.Info("refreshed rejected token", "expires_at", cred.ExpiresAt())
		}
	}
	pollCycles.WithLabelValues(pollOutcome(result, len(rec.DeviceIDs))).Inc()

	for _, ev := range result.Events {
		w.handler.HandleEvent(ctx, w.userID, ev)
	}
	return true
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// UserID returns the user the worker is bound to.
func (w *Worker) UserID() string {
	return w.userID
}

// String implements fmt.Stringer; suture uses it to name the service in its events.
func (w *Worker) String() string {
	return fmt.Sprintf("worker[%s]", w.userID)
}

func pollOutcome(r PollResult, devices int) string {
	switch {
	case r.Unauthorized:
		return "unauthorized"
	case len(r.Failed) == 0:
		return "ok"
	case len(r.Failed) < devices:
		return "partial"
	default:
		return "failed"
	}
}
