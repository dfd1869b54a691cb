package monitor

import (
	"slices"
	"time"
)

// UserRecord is one monitored user: the devices to poll, the credential used to poll
// them and the SDM project they live in.
type UserRecord struct {
	ID         string     `json:"user_id"`
	DeviceIDs  []string   `json:"device_ids"`
	Credential Credential `json:"token"`
	ProjectID  string     `json:"project_id"`
	Email      string     `json:"email,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Ready reports whether the record has everything needed for an event poll.
func (u UserRecord) Ready() bool {
	return u.ProjectID != "" && len(u.DeviceIDs) > 0
}

// HasDevice reports whether deviceID is already monitored.
func (u UserRecord) HasDevice(deviceID string) bool {
	return slices.Contains(u.DeviceIDs, deviceID)
}

// AddDevice appends deviceID unless it is already present. It returns true when the list changed.
func (u *UserRecord) AddDevice(deviceID string) bool {
	if deviceID == "" || u.HasDevice(deviceID) {
		return false
	}
	u.DeviceIDs = append(u.DeviceIDs, deviceID)
	return true
}

// RemoveDevice drops deviceID from the list. It returns true when the list changed.
func (u *UserRecord) RemoveDevice(deviceID string) bool {
	before := len(u.DeviceIDs)
	u.DeviceIDs = slices.DeleteFunc(u.DeviceIDs, func(id string) bool { return id == deviceID })
	return len(u.DeviceIDs) != before
}

// SetDevices replaces the device list, dropping empty and duplicate ids while keeping first-seen order.
func (u *UserRecord) SetDevices(deviceIDs []string) {
	out := make([]string, 0, len(deviceIDs))
	seen := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	u.DeviceIDs = out
}

func (u UserRecord) clone() UserRecord {
	u.DeviceIDs = slices.Clone(u.DeviceIDs)
	return u
}
