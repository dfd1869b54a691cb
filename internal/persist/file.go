package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"dishwatch/internal/monitor"
)

// fileDocument is the on-disk layout of a snapshot file.
type fileDocument struct {
	SavedAt time.Time                     `json:"saved_at"`
	Users   map[string]monitor.UserRecord `json:"users"`
}

// FileSnapshotter stores the user table as a single JSON document.
type FileSnapshotter struct {
	path string
	now  func() time.Time
}

// NewFileSnapshotter constructs a FileSnapshotter writing to path.
func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{path: path, now: time.Now}
}

// Path returns the snapshot file location.
func (f *FileSnapshotter) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file is an empty table, not an error.
func (f *FileSnapshotter) Load(context.Context) (map[string]monitor.UserRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]monitor.UserRecord{}, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", f.path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	if doc.Users == nil {
		doc.Users = map[string]monitor.UserRecord{}
	}
	for id, rec := range doc.Users {
		rec.ID = id
		doc.Users[id] = rec
	}
	return doc.Users, nil
}

// Save writes the snapshot atomically: a temp file in the same directory is renamed over
// the previous one, so a crash mid-write never leaves a truncated file behind.
func (f *FileSnapshotter) Save(_ context.Context, users map[string]monitor.UserRecord) error {
	data, err := json.MarshalIndent(fileDocument{SavedAt: f.now().UTC(), Users: users}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	// Tokens live in this file.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", f.path, err)
	}
	return nil
}
