package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutAndGetReturnCopies(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, UserRecord{ID: "u1", DeviceIDs: []string{"d1", "d1", "d2"}}))

	rec, ok := store.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []string{"d1", "d2"}, rec.DeviceIDs)
	assert.False(t, rec.CreatedAt.IsZero())

	rec.DeviceIDs[0] = "mutated"
	again, _ := store.Get(ctx, "u1")
	assert.Equal(t, "d1", again.DeviceIDs[0], "callers must not be able to mutate stored records")
}

func TestStorePutRequiresID(t *testing.T) {
	assert.Error(t, NewStore(nil).Put(context.Background(), UserRecord{}))
}

func TestStorePutPreservesCreatedAt(t *testing.T) {
	store := NewStore(nil)
	store.now = func() time.Time { return baseTime }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, UserRecord{ID: "u1"}))
	store.now = func() time.Time { return baseTime.Add(time.Hour) }
	require.NoError(t, store.Put(ctx, UserRecord{ID: "u1", ProjectID: "p"}))

	rec, _ := store.Get(ctx, "u1")
	assert.Equal(t, baseTime, rec.CreatedAt)
	assert.Equal(t, baseTime.Add(time.Hour), rec.UpdatedAt)
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(map[string]UserRecord{"u1": {}})
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "u1"))
	assert.False(t, store.Exists("u1"))
	assert.ErrorIs(t, store.Delete(ctx, "u1"), ErrUserNotFound)
}

func TestStoreUpdateCredentialDoesNotResurrect(t *testing.T) {
	store := NewStore(map[string]UserRecord{"u1": {}})
	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, "u1"))

	err := store.UpdateCredential(ctx, "u1", freshCredential("r"))
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, store.Exists("u1"))
}

func TestStoreDeviceOperations(t *testing.T) {
	store := NewStore(map[string]UserRecord{"u1": {ProjectID: "p"}})
	ctx := context.Background()

	changed, err := store.AddDevice(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.AddDevice(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.RemoveDevice(ctx, "u1", "missing")
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, store.SetDevices(ctx, "u1", "", []string{"d3", "", "d4", "d3"}))
	rec, _ := store.Get(ctx, "u1")
	assert.Equal(t, []string{"d3", "d4"}, rec.DeviceIDs)
	assert.Equal(t, "p", rec.ProjectID, "an empty project keeps the stored one")

	require.NoError(t, store.SetProject(ctx, "u1", "p2"))
	rec, _ = store.Get(ctx, "u1")
	assert.Equal(t, "p2", rec.ProjectID)

	_, err = store.AddDevice(ctx, "ghost", "d1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStoreSnapshotAndRestore(t *testing.T) {
	store := NewStore(map[string]UserRecord{"u1": {DeviceIDs: []string{"d1"}}})

	snap := store.Snapshot()
	snap["u1"].DeviceIDs[0] = "mutated"
	rec, _ := store.Get(context.Background(), "u1")
	assert.Equal(t, "d1", rec.DeviceIDs[0])

	restored := store.Restore(map[string]UserRecord{
		"u1": {ProjectID: "stale"},
		"u2": {ProjectID: "p2"},
	})
	assert.Equal(t, 1, restored)
	assert.Equal(t, 2, store.Len())
	assert.ElementsMatch(t, []string{"u1", "u2"}, store.IDs())

	rec, _ = store.Get(context.Background(), "u1")
	assert.Empty(t, rec.ProjectID, "live records win over restored ones")
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%5)
			_ = store.Put(ctx, UserRecord{ID: id})
			_, _ = store.AddDevice(ctx, id, fmt.Sprintf("d%d", i))
			_ = store.UpdateCredential(ctx, id, freshCredential("r"))
			_, _ = store.Get(ctx, id)
			_ = store.Snapshot()
			if i%7 == 0 {
				_ = store.Delete(ctx, id)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 5)
}
