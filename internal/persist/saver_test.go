package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dishwatch/internal/monitor"
)

type snapshotterStub struct {
	loadFn func(ctx context.Context) (map[string]monitor.UserRecord, error)
	saveFn func(ctx context.Context, users map[string]monitor.UserRecord) error
}

func (s snapshotterStub) Load(ctx context.Context) (map[string]monitor.UserRecord, error) {
	return s.loadFn(ctx)
}

func (s snapshotterStub) Save(ctx context.Context, users map[string]monitor.UserRecord) error {
	return s.saveFn(ctx, users)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaverWritesPeriodicallyAndOnStop(t *testing.T) {
	store := monitor.NewStore(sampleUsers())
	snap := NewMemorySnapshotter()
	saver := NewSaver(store, snap, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- saver.Serve(ctx) }()

	require.Eventually(t, func() bool { return snap.Saves() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Delete(context.Background(), "u2"))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("saver did not stop")
	}

	users, err := snap.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1, "final save must reflect the deletion")
	assert.Contains(t, users, "u1")
}

func TestSaveNowReportsFailure(t *testing.T) {
	boom := errors.New("disk full")
	saver := NewSaver(monitor.NewStore(nil), snapshotterStub{
		saveFn: func(context.Context, map[string]monitor.UserRecord) error { return boom },
	}, 0, discardLogger())

	assert.ErrorIs(t, saver.SaveNow(context.Background()), boom)
	assert.Equal(t, DefaultSaveInterval, saver.interval)
	assert.Equal(t, "snapshot-saver", saver.String())
}

func TestRestoreKeepsExistingUsers(t *testing.T) {
	store := monitor.NewStore(map[string]monitor.UserRecord{
		"u1": {ProjectID: "live"},
	})
	snap := snapshotterStub{
		loadFn: func(context.Context) (map[string]monitor.UserRecord, error) { return sampleUsers(), nil },
	}

	restored, err := Restore(context.Background(), store, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	rec, ok := store.Get(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, "live", rec.ProjectID)
	assert.True(t, store.Exists("u2"))
}

func TestRestoreLoadError(t *testing.T) {
	snap := snapshotterStub{
		loadFn: func(context.Context) (map[string]monitor.UserRecord, error) { return nil, errors.New("unreadable") },
	}

	_, err := Restore(context.Background(), monitor.NewStore(nil), snap)
	require.Error(t, err)
}
