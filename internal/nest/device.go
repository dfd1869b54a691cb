package nest

import (
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

const infoTrait = "sdm.devices.traits.Info"

// Device is a Nest device as shown to users when they pick cameras to monitor.
type Device struct {
	Name        string   `json:"name"`
	DeviceID    string   `json:"device_id"`
	TypeName    string   `json:"type_name"`
	Traits      []string `json:"traits"`
	RoomName    string   `json:"room_name,omitempty"`
	DisplayName string   `json:"display_name"`
}

// IsCamera reports whether the device can stream or report camera events.
func (d Device) IsCamera() bool {
	if strings.Contains(strings.ToLower(d.TypeName), "camera") {
		return true
	}
	return slices.ContainsFunc(d.Traits, func(t string) bool {
		return strings.Contains(strings.ToLower(t), "camera")
	})
}

// FilterCameras returns only the devices that are cameras, preserving order.
func FilterCameras(devices []Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.IsCamera() {
			out = append(out, d)
		}
	}
	return out
}

type devicesResponse struct {
	Devices []sdmDevice `json:"devices"`
}

type sdmDevice struct {
	Name            string                     `json:"name"`
	Type            string                     `json:"type"`
	Traits          map[string]json.RawMessage `json:"traits"`
	ParentRelations []parentRelation           `json:"parentRelations"`
}

type parentRelation struct {
	Parent           string `json:"parent"`
	DisplayName      string `json:"displayName"`
	RelationshipType string `json:"relationshipType"`
}

func (r parentRelation) isRoom() bool {
	return r.RelationshipType == "ROOM" || strings.Contains(r.Parent, "/rooms/")
}

func (d sdmDevice) toDevice() Device {
	// Names look like enterprises/{project}/devices/{device}.
	deviceID := d.Name
	if i := strings.LastIndex(d.Name, "/"); i >= 0 {
		deviceID = d.Name[i+1:]
	}

	traits := make([]string, 0, len(d.Traits))
	for name := range d.Traits {
		traits = append(traits, name)
	}
	slices.Sort(traits)

	device := Device{
		Name:        d.Name,
		DeviceID:    deviceID,
		TypeName:    d.Type,
		Traits:      traits,
		DisplayName: d.customName(),
	}
	if device.DisplayName == "" {
		device.DisplayName = deviceID
	}

	for _, rel := range d.ParentRelations {
		if rel.isRoom() && rel.DisplayName != "" {
			device.RoomName = rel.DisplayName
			break
		}
	}
	return device
}

func (d sdmDevice) customName() string {
	for _, key := range []string{infoTrait, "info"} {
		raw, ok := d.Traits[key]
		if !ok {
			continue
		}
		var info struct {
			CustomName string `json:"customName"`
		}
		if err := json.Unmarshal(raw, &info); err == nil && info.CustomName != "" {
			return info.CustomName
		}
	}
	return ""
}
