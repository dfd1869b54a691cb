package nest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceIsCamera(t *testing.T) {
	tests := []struct {
		name   string
		device Device
		want   bool
	}{
		{name: "camera type", device: Device{TypeName: "sdm.devices.types.CAMERA"}, want: true},
		{name: "doorbell with camera trait", device: Device{TypeName: "sdm.devices.types.DOORBELL", Traits: []string{"sdm.devices.traits.CameraLiveStream"}}, want: true},
		{name: "mixed case", device: Device{TypeName: "Camera"}, want: true},
		{name: "thermostat", device: Device{TypeName: "sdm.devices.types.THERMOSTAT", Traits: []string{"sdm.devices.traits.Temperature"}}, want: false},
		{name: "empty", device: Device{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.device.IsCamera())
		})
	}
}

func TestToDeviceRoomFromRelationshipType(t *testing.T) {
	d := sdmDevice{
		Name: "plain-id",
		ParentRelations: []parentRelation{
			{DisplayName: "Structure", Parent: "enterprises/p/structures/s1"},
			{DisplayName: "Kitchen", RelationshipType: "ROOM"},
		},
	}

	got := d.toDevice()
	assert.Equal(t, "plain-id", got.DeviceID)
	assert.Equal(t, "plain-id", got.DisplayName)
	assert.Equal(t, "Kitchen", got.RoomName)
	assert.Empty(t, got.Traits)
}
