package monitor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUserNotFound is returned when a user id is not present in the store.
var ErrUserNotFound = errors.New("user not found")

// Store is the process-wide, concurrency-safe table of monitored users. It is the single
// source of truth shared by the web handlers, the workers and the snapshot saver.
//
// Every read hands out a copy, and the mutex is only held for the map access itself,
// never across network calls or sleeps. Existence checks and deletes are serialised by
// the same mutex, so once Delete returns no later Get can observe the user.
type Store struct {
	mu    sync.RWMutex
	users map[string]UserRecord
	now   func() time.Time
}

// NewStore constructs a store seeded with optional initial records.
func NewStore(initial map[string]UserRecord) *Store {
	s := &Store{users: make(map[string]UserRecord, len(initial)), now: time.Now}
	for id, rec := range initial {
		rec.ID = id
		s.users[id] = rec.clone()
	}
	return s
}

// Get returns a copy of the user's record.
func (s *Store) Get(_ context.Context, id string) (UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[id]
	if !ok {
		return UserRecord{}, false
	}
	return rec.clone(), true
}

// Exists reports whether the user is currently registered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[id]
	return ok
}

// Put inserts or wholly replaces a record.
func (s *Store) Put(_ context.Context, rec UserRecord) error {
	if rec.ID == "" {
		return errors.New("user record requires an id")
	}
	rec.SetDevices(rec.DeviceIDs)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.users[rec.ID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.users[rec.ID] = rec.clone()
	return nil
}

// Delete removes the user. Removal is the signal that stops the user's worker.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

// UpdateCredential overwrites the stored credential of an existing user.
// A user deleted in the meantime stays deleted.
func (s *Store) UpdateCredential(_ context.Context, id string, cred Credential) error {
	return s.update(id, func(rec *UserRecord) bool {
		rec.Credential = cred
		return true
	})
}

// AddDevice adds a device to the user's monitored set. It reports whether the set changed.
func (s *Store) AddDevice(_ context.Context, id, deviceID string) (bool, error) {
	var changed bool
	err := s.update(id, func(rec *UserRecord) bool {
		changed = rec.AddDevice(deviceID)
		return changed
	})
	return changed, err
}

// RemoveDevice drops a device from the user's monitored set. It reports whether the set changed.
func (s *Store) RemoveDevice(_ context.Context, id, deviceID string) (bool, error) {
	var changed bool
	err := s.update(id, func(rec *UserRecord) bool {
		changed = rec.RemoveDevice(deviceID)
		return changed
	})
	return changed, err
}

// SetDevices replaces the device list and, when projectID is non-empty, the project.
func (s *Store) SetDevices(_ context.Context, id, projectID string, deviceIDs []string) error {
	return s.update(id, func(rec *UserRecord) bool {
		rec.SetDevices(deviceIDs)
		if projectID != "" {
			rec.ProjectID = projectID
		}
		return true
	})
}

// SetProject changes the device-access project the user's devices belong to.
func (s *Store) SetProject(_ context.Context, id, projectID string) error {
	return s.update(id, func(rec *UserRecord) bool {
		if rec.ProjectID == projectID {
			return false
		}
		rec.ProjectID = projectID
		return true
	})
}

func (s *Store) update(id string, mutate func(*UserRecord) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	rec = rec.clone()
	if mutate(&rec) {
		rec.UpdatedAt = s.now()
		s.users[id] = rec
	}
	return nil
}

// IDs lists the registered user ids in no particular order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Snapshot returns a deep copy of every record, suitable for persisting.
func (s *Store) Snapshot() map[string]UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]UserRecord, len(s.users))
	for id, rec := range s.users {
		out[id] = rec.clone()
	}
	return out
}

// Restore merges previously persisted records into the store. Records already present win.
func (s *Store) Restore(records map[string]UserRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for id, rec := range records {
		if _, ok := s.users[id]; ok {
			continue
		}
		rec.ID = id
		rec.SetDevices(rec.DeviceIDs)
		s.users[id] = rec.clone()
		restored++
	}
	return restored
}
