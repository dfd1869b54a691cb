// Package persist saves and restores the monitored-user table so registrations survive
// restarts. Persisting is best effort: the in-memory monitor.Store stays authoritative.
package persist

import (
	"context"
	"sync"

	"dishwatch/internal/monitor"
)

// Snapshotter loads and saves a full copy of the user table.
type Snapshotter interface {
	Load(ctx context.Context) (map[string]monitor.UserRecord, error)
	Save(ctx context.Context, users map[string]monitor.UserRecord) error
}

// MemorySnapshotter keeps the last snapshot in process. It backs DATA_STORE=memory and tests.
type MemorySnapshotter struct {
	mu    sync.Mutex
	users map[string]monitor.UserRecord
	saves int
}

// NewMemorySnapshotter constructs an empty MemorySnapshotter.
func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{users: make(map[string]monitor.UserRecord)}
}

// Load returns the last saved snapshot.
func (m *MemorySnapshotter) Load(context.Context) (map[string]monitor.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUsers(m.users), nil
}

// Save replaces the held snapshot.
func (m *MemorySnapshotter) Save(_ context.Context, users map[string]monitor.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = copyUsers(users)
	m.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (m *MemorySnapshotter) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func copyUsers(users map[string]monitor.UserRecord) map[string]monitor.UserRecord {
	out := make(map[string]monitor.UserRecord, len(users))
	for id, rec := range users {
		rec.DeviceIDs = append([]string(nil), rec.DeviceIDs...)
		out[id] = rec
	}
	return out
}
