package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dishwatch/internal/monitor"
)

// DefaultSaveInterval is how often the Saver writes a snapshot.
const DefaultSaveInterval = 30 * time.Second

const finalSaveTimeout = 5 * time.Second

var snapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dishwatch_snapshot_saves_total",
	Help: "Snapshot saves by result.",
}, []string{"result"})

// Saver periodically writes the store to a Snapshotter. It runs as a suture service next
// to the workers and writes one last snapshot when it is stopped.
type Saver struct {
	store    *monitor.Store
	snap     Snapshotter
	interval time.Duration
	logger   *slog.Logger
}

// NewSaver constructs a Saver. A non-positive interval selects DefaultSaveInterval.
func NewSaver(store *monitor.Store, snap Snapshotter, interval time.Duration, logger *slog.Logger) *Saver {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	return &Saver{store: store, snap: snap, interval: interval, logger: logger}
}

// Serve implements suture.Service.
func (s *Saver) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
			s.SaveNow(finalCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			s.SaveNow(ctx)
		}
	}
}

// SaveNow writes a snapshot immediately. Failures are logged and reported, never fatal.
func (s *Saver) SaveNow(ctx context.Context) error {
	users := s.store.Snapshot()
	if err := s.snap.Save(ctx, users); err != nil {
		snapshotSaves.WithLabelValues("error").Inc()
		s.logger.Error("failed to save snapshot", "error", err)
		return err
	}
	snapshotSaves.WithLabelValues("ok").Inc()
	s.logger.Debug("snapshot saved", "users", len(users))
	return nil
}

// String names the service in supervisor events.
func (s *Saver) String() string {
	return "snapshot-saver"
}

// Restore loads the last snapshot into store and returns how many users were added.
func Restore(ctx context.Context, store *monitor.Store, snap Snapshotter) (int, error) {
	users, err := snap.Load(ctx)
	if err != nil {
		return 0, err
	}
	return store.Restore(users), nil
}
